package iot

import (
	"context"
	"errors"
	"time"
)

// StoreTimeout bounds every DeviceStore call made from a transport event
// handler. A store that does not answer in time turns into a logged failure
// instead of a stalled handler.
const StoreTimeout = 5 * time.Second

// ErrDeviceNotFound is returned by FindByID for unknown device ids.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceStore is the persistence collaborator of the connectivity core. The
// store owns the tables; the core owns the policy of when they are written.
type DeviceStore interface {
	// FindByID returns the device with the given id, or ErrDeviceNotFound.
	FindByID(ctx context.Context, deviceID string) (*Device, error)

	// UpdateOnline sets the online flag. Updating an unknown device is a
	// no-op, updating to the current value is as well.
	UpdateOnline(ctx context.Context, deviceID string, online bool) error

	// UpdateSubscriptions replaces the device's subscription set in one
	// update.
	UpdateSubscriptions(ctx context.Context, deviceID string, subscriptions []Subscription) error

	// CreateTelemetryRecord appends one immutable telemetry record.
	CreateTelemetryRecord(ctx context.Context, deviceID string, status Status) error

	// CreateOutboundLog appends one outbound message log entry. The store
	// assigns id and timestamp.
	CreateOutboundLog(ctx context.Context, entry OutboundLog) error
}

// MessagePublisher is an interface to publish MQTT messages.
type MessagePublisher interface {
	PublishMessage(topic string, payload []byte, qos uint8, retain bool) error
}
