// Package dispatch routes inbound publish events to telemetry handlers by
// topic prefix.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sensorhub-tech/sensorhub/core/logger"
	"github.com/sensorhub-tech/sensorhub/iot"
)

// HandlerFunc processes the payload of one inbound publish event. It must
// tolerate arbitrary payloads; a returned error is logged by the dispatcher
// and goes no further.
type HandlerFunc func(ctx context.Context, deviceID string, payload []byte) error

type route struct {
	prefix  string
	handler HandlerFunc
}

// Dispatcher selects a handler for each inbound publish event by topic
// prefix. The longest registered prefix wins. New sensor types are added by
// registering their prefix, not by editing the dispatcher.
type Dispatcher struct {
	mu     sync.RWMutex
	routes []route
}

// NewDispatcher returns a dispatcher with an empty registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a handler for a topic prefix. Registering a prefix again
// replaces its handler.
func (d *Dispatcher) Register(prefix string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.routes {
		if d.routes[i].prefix == prefix {
			d.routes[i].handler = handler
			return
		}
	}
	d.routes = append(d.routes, route{prefix: prefix, handler: handler})
	// longest prefix first, so the most specific registration wins
	sort.SliceStable(d.routes, func(i, j int) bool {
		return len(d.routes[i].prefix) > len(d.routes[j].prefix)
	})
}

// Dispatch runs the handler registered for the topic. Events without a
// matching prefix are dropped. Handler failures are logged and contained;
// they never reach the transport.
func (d *Dispatcher) Dispatch(ctx context.Context, deviceID, topic string, payload []byte) {
	rlog := logger.FromContext(ctx).WithField("device_id", deviceID).WithField("topic", topic)

	handler := d.match(topic)
	if handler == nil {
		rlog.Debug("no handler registered for topic, dropped")
		return
	}
	if err := handler(ctx, deviceID, payload); err != nil {
		rlog.WithError(err).Error("telemetry handler failed")
	}
}

func (d *Dispatcher) match(topic string) HandlerFunc {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, route := range d.routes {
		if strings.HasPrefix(topic, route.prefix) {
			return route.handler
		}
	}
	return nil
}

// Notifier receives a copy of every successfully stored telemetry status.
type Notifier interface {
	TelemetryStored(ctx context.Context, deviceID string, status iot.Status) error
}

// StatusHandler returns a handler that stores the payload as one telemetry
// record. A payload that parses as JSON is stored structured, anything else
// is stored as raw text; parsing never fails the handler. The notifier is
// optional and best-effort: a fan-out failure is logged but does not undo
// the stored record.
func StatusHandler(store iot.DeviceStore, notifier Notifier) HandlerFunc {
	if store == nil {
		panic("store is missing")
	}
	return func(ctx context.Context, deviceID string, payload []byte) error {
		status := iot.ParseStatus(payload)

		sctx, cancel := context.WithTimeout(ctx, iot.StoreTimeout)
		defer cancel()
		if err := store.CreateTelemetryRecord(sctx, deviceID, status); err != nil {
			return fmt.Errorf("create telemetry record: %w", err)
		}
		logger.FromContext(ctx).Infof("status data saved for device %s", deviceID)

		if notifier != nil {
			if err := notifier.TelemetryStored(ctx, deviceID, status); err != nil {
				logger.FromContext(ctx).WithError(err).WithField("device_id", deviceID).Warn("telemetry fan-out failed")
			}
		}
		return nil
	}
}
