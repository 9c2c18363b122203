package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorhub-tech/sensorhub/iot"
)

func TestMemoryStoreFindByID(t *testing.T) {
	store := NewMemoryStore()
	store.CreateDevice(iot.Device{
		ID:            "dev-1",
		APIKey:        "key-abc",
		Subscriptions: []iot.Subscription{{Topic: "dht11/status", QoS: 1}},
	})
	ctx := context.Background()

	device, err := store.FindByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "key-abc", device.APIKey)
	require.Len(t, device.Subscriptions, 1)

	// the returned device is a copy; mutating it must not leak into the store
	device.Subscriptions[0].Topic = "mutated"
	fresh, err := store.FindByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dht11/status", fresh.Subscriptions[0].Topic)

	_, err = store.FindByID(ctx, "dev-ghost")
	assert.Equal(t, iot.ErrDeviceNotFound, err)
}

func TestMemoryStoreUpdateUnknownDeviceIsNoOp(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.UpdateOnline(ctx, "dev-ghost", true))
	require.NoError(t, store.UpdateSubscriptions(ctx, "dev-ghost", []iot.Subscription{{Topic: "dht11/status"}}))
	assert.Equal(t, 0, store.DeviceCount())
}

func TestMemoryStoreAssignsRecordIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateTelemetryRecord(ctx, "dev-1", iot.RawStatus("ok")))
	require.NoError(t, store.CreateOutboundLog(ctx, iot.OutboundLog{DeviceID: "dev-1", Topic: "t"}))

	records := store.Records()
	require.Len(t, records, 1)
	assert.NotZero(t, records[0].RecordID)
	assert.False(t, records[0].CreatedAt.IsZero())

	logs := store.Logs()
	require.Len(t, logs, 1)
	assert.NotZero(t, logs[0].LogID)
	assert.False(t, logs[0].CreatedAt.IsZero())
}
