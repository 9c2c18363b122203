// Package subscription reconciles subscription changes into the persisted
// per-device subscription set.
package subscription

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/sensorhub-tech/sensorhub/core/logger"
	"github.com/sensorhub-tech/sensorhub/iot"
)

// GrantedTopic returns the system topic the subscription acknowledgment for
// a device is published on.
func GrantedTopic(deviceID string) string {
	return "$SYS/" + deviceID + "/granted"
}

// Reconciler merges subscribe and unsubscribe requests into a device's
// persisted subscription set. The read-modify-write against the store is
// not atomic, and the transport does not serialize events for one device,
// so the reconciler holds a mutex per device id for the duration of each
// reconciliation.
type Reconciler struct {
	store     iot.DeviceStore
	publisher iot.MessagePublisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler returns a reconciler that persists through store and
// acknowledges granted subscriptions through publisher.
func NewReconciler(store iot.DeviceStore, publisher iot.MessagePublisher) *Reconciler {
	if store == nil {
		panic("store is missing")
	}
	if publisher == nil {
		panic("publisher is missing")
	}
	return &Reconciler{
		store:     store,
		publisher: publisher,
		locks:     make(map[string]*sync.Mutex),
	}
}

// deviceLock returns the reconcile mutex for a device. Entries live for the
// process lifetime; evicting one while a reconcile holds it would hand out a
// second mutex for the same device.
func (r *Reconciler) deviceLock(deviceID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[deviceID] = lock
	}
	return lock
}

// Subscribe merges the requested subscriptions into the device's set. A
// request for a topic that is already subscribed replaces that entry in
// place, keeping its position; new topics are appended. After a successful
// persist the granted list is acknowledged on the device's granted topic.
//
// Subscription traffic for a device unknown to the store is ignored; it
// must not create a device record.
func (r *Reconciler) Subscribe(ctx context.Context, deviceID string, subscriptions []iot.Subscription) {
	lock := r.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, iot.StoreTimeout)
	defer cancel()
	rlog := logger.FromContext(ctx).WithField("device_id", deviceID)

	device, err := r.store.FindByID(ctx, deviceID)
	if err == iot.ErrDeviceNotFound {
		rlog.Info("subscribe for unknown device ignored")
		return
	}
	if err != nil {
		rlog.WithError(err).Error("load device for subscribe")
		return
	}

	merged := device.Subscriptions
	for _, sub := range subscriptions {
		replaced := false
		for i := range merged {
			if merged[i].Topic == sub.Topic {
				merged[i] = sub
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, sub)
		}
	}

	if err := r.store.UpdateSubscriptions(ctx, deviceID, merged); err != nil {
		rlog.WithError(err).Error("persist subscriptions")
		return
	}

	payload, err := json.Marshal(subscriptions)
	if err != nil {
		rlog.WithError(err).Error("marshal granted subscriptions")
		return
	}
	if err := r.publisher.PublishMessage(GrantedTopic(deviceID), payload, 0, false); err != nil {
		rlog.WithError(err).Error("acknowledge granted subscriptions")
		return
	}
	rlog.Infof("granted %d subscription(s)", len(subscriptions))
}

// Unsubscribe removes every subscription whose topic filter exactly matches
// one of the given topics. Topics that are not subscribed are ignored; no
// acknowledgment is sent.
func (r *Reconciler) Unsubscribe(ctx context.Context, deviceID string, topics []string) {
	lock := r.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, iot.StoreTimeout)
	defer cancel()
	rlog := logger.FromContext(ctx).WithField("device_id", deviceID)

	device, err := r.store.FindByID(ctx, deviceID)
	if err == iot.ErrDeviceNotFound {
		rlog.Info("unsubscribe for unknown device ignored")
		return
	}
	if err != nil {
		rlog.WithError(err).Error("load device for unsubscribe")
		return
	}

	remove := make(map[string]bool, len(topics))
	for _, topic := range topics {
		remove[topic] = true
	}
	remaining := make([]iot.Subscription, 0, len(device.Subscriptions))
	for _, sub := range device.Subscriptions {
		if !remove[sub.Topic] {
			remaining = append(remaining, sub)
		}
	}

	if err := r.store.UpdateSubscriptions(ctx, deviceID, remaining); err != nil {
		rlog.WithError(err).Error("persist subscriptions")
		return
	}
	rlog.Infof("removed %d subscription(s)", len(device.Subscriptions)-len(remaining))
}
