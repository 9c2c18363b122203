package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorhub-tech/sensorhub/iot"
	"github.com/sensorhub-tech/sensorhub/iot/devices"
)

func TestConnectedIsIdempotent(t *testing.T) {
	store := devices.NewMemoryStore()
	store.CreateDevice(iot.Device{ID: "dev-1", APIKey: "key-abc"})
	tracker := NewTracker(store)
	ctx := context.Background()

	tracker.Connected(ctx, "dev-1")
	tracker.Connected(ctx, "dev-1")

	device, err := store.FindByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, device.IsOnline)
}

func TestDisconnectedIsIdempotent(t *testing.T) {
	store := devices.NewMemoryStore()
	store.CreateDevice(iot.Device{ID: "dev-1", APIKey: "key-abc", IsOnline: true})
	tracker := NewTracker(store)
	ctx := context.Background()

	tracker.Disconnected(ctx, "dev-1")
	tracker.Disconnected(ctx, "dev-1")

	device, err := store.FindByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, device.IsOnline)
}

func TestUnknownDeviceIsNotCreated(t *testing.T) {
	store := devices.NewMemoryStore()
	tracker := NewTracker(store)

	tracker.Connected(context.Background(), "dev-ghost")

	assert.Equal(t, 0, store.DeviceCount())
}
