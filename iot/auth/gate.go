// Package auth decides whether a connecting device may join the broker.
package auth

import (
	"context"

	"github.com/sensorhub-tech/sensorhub/core/logger"
	"github.com/sensorhub-tech/sensorhub/iot"
)

// CodeAuthFailed is the machine-readable reason code of a rejection. The
// code does not reveal whether the device id was unknown or the api key
// wrong; the logs do.
const CodeAuthFailed = "AUTH_FAILED"

// Decision is the outcome of a connection admission check.
type Decision struct {
	Granted bool
	Code    string
	Message string
}

// Gate admits devices by exact api key match against the device store.
type Gate struct {
	store iot.DeviceStore
}

// NewGate returns a gate on the given store.
func NewGate(store iot.DeviceStore) *Gate {
	if store == nil {
		panic("store is missing")
	}
	return &Gate{store: store}
}

// Authenticate looks up the claimed device id and compares the presented
// api key with the stored one. It has no side effects; the online flag is
// set by the session tracker after the connection is established.
//
// A non-nil error means the store could not answer; the connection must
// not be admitted in that case either.
func (g *Gate) Authenticate(ctx context.Context, deviceID, apiKey string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, iot.StoreTimeout)
	defer cancel()

	rejected := Decision{Code: CodeAuthFailed, Message: "Authentication failed"}
	rlog := logger.FromContext(ctx).WithField("device_id", deviceID)

	device, err := g.store.FindByID(ctx, deviceID)
	if err == iot.ErrDeviceNotFound {
		rlog.WithField("reason", "unknown device").Info("authentication failed")
		return rejected, nil
	}
	if err != nil {
		rlog.WithError(err).Error("authentication lookup failed")
		return rejected, err
	}
	if device.APIKey != apiKey {
		rlog.WithField("reason", "api key mismatch").Info("authentication failed")
		return rejected, nil
	}
	return Decision{Granted: true}, nil
}
