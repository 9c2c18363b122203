// Package session tracks the online state of device connections.
package session

import (
	"context"

	"github.com/sensorhub-tech/sensorhub/core/logger"
	"github.com/sensorhub-tech/sensorhub/iot"
)

// Tracker flips the per-device online flag on connect and disconnect. Both
// transitions are plain field updates: applying the same one twice leaves
// the state unchanged, and for overlapping disconnect/reconnect events the
// last write wins.
type Tracker struct {
	store iot.DeviceStore
}

// NewTracker returns a tracker on the given store.
func NewTracker(store iot.DeviceStore) *Tracker {
	if store == nil {
		panic("store is missing")
	}
	return &Tracker{store: store}
}

// Connected marks the device online.
func (t *Tracker) Connected(ctx context.Context, deviceID string) {
	t.setOnline(ctx, deviceID, true)
}

// Disconnected marks the device offline.
func (t *Tracker) Disconnected(ctx context.Context, deviceID string) {
	t.setOnline(ctx, deviceID, false)
}

func (t *Tracker) setOnline(ctx context.Context, deviceID string, online bool) {
	ctx, cancel := context.WithTimeout(ctx, iot.StoreTimeout)
	defer cancel()

	if err := t.store.UpdateOnline(ctx, deviceID, online); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("device_id", deviceID).Error("update online status")
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	logger.FromContext(ctx).Infof("%s %s", deviceID, state)
}
