package devices

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sensorhub-tech/sensorhub/iot"
)

// MemoryStore is an in-memory iot.DeviceStore. It backs the package tests
// and local setups without Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]iot.Device
	records []iot.TelemetryRecord
	logs    []iot.OutboundLog
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]iot.Device)}
}

// CreateDevice registers a device. This is the administrative operation the
// core itself never performs.
func (s *MemoryStore) CreateDevice(device iot.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	device.Subscriptions = cloneSubscriptions(device.Subscriptions)
	s.devices[device.ID] = device
}

// FindByID implements iot.DeviceStore.
func (s *MemoryStore) FindByID(ctx context.Context, deviceID string) (*iot.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return nil, iot.ErrDeviceNotFound
	}
	device.Subscriptions = cloneSubscriptions(device.Subscriptions)
	return &device, nil
}

// UpdateOnline implements iot.DeviceStore.
func (s *MemoryStore) UpdateOnline(ctx context.Context, deviceID string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return nil
	}
	device.IsOnline = online
	s.devices[deviceID] = device
	return nil
}

// UpdateSubscriptions implements iot.DeviceStore.
func (s *MemoryStore) UpdateSubscriptions(ctx context.Context, deviceID string, subscriptions []iot.Subscription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return nil
	}
	device.Subscriptions = cloneSubscriptions(subscriptions)
	s.devices[deviceID] = device
	return nil
}

// CreateTelemetryRecord implements iot.DeviceStore.
func (s *MemoryStore) CreateTelemetryRecord(ctx context.Context, deviceID string, status iot.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, iot.TelemetryRecord{
		RecordID:  uuid.New(),
		DeviceID:  deviceID,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// CreateOutboundLog implements iot.DeviceStore.
func (s *MemoryStore) CreateOutboundLog(ctx context.Context, entry iot.OutboundLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.LogID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	s.logs = append(s.logs, entry)
	return nil
}

// Records returns a copy of all stored telemetry records.
func (s *MemoryStore) Records() []iot.TelemetryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]iot.TelemetryRecord(nil), s.records...)
}

// Logs returns a copy of all stored outbound message log entries.
func (s *MemoryStore) Logs() []iot.OutboundLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]iot.OutboundLog(nil), s.logs...)
}

// DeviceCount returns the number of registered devices.
func (s *MemoryStore) DeviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

func cloneSubscriptions(subscriptions []iot.Subscription) []iot.Subscription {
	if subscriptions == nil {
		return nil
	}
	return append([]iot.Subscription(nil), subscriptions...)
}

var _ iot.DeviceStore = (*MemoryStore)(nil)
