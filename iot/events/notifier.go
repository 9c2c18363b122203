// Package events fans stored telemetry out to a Kafka topic so other
// services can consume live sensor data.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/sensorhub-tech/sensorhub/iot"
)

type telemetryEvent struct {
	DeviceID string     `json:"device_id"`
	Status   iot.Status `json:"status"`
	At       time.Time  `json:"at"`
}

// Notifier publishes one Kafka message per stored telemetry record, keyed
// by device id so records of one device stay ordered within a partition.
type Notifier struct {
	writer *kafka.Writer
}

// NewNotifier returns a notifier writing to the given brokers and topic.
func NewNotifier(brokers []string, topic string) *Notifier {
	if len(brokers) == 0 {
		panic("brokers are missing")
	}
	if len(topic) == 0 {
		panic("topic is missing")
	}
	return &Notifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// TelemetryStored implements dispatch.Notifier.
func (n *Notifier) TelemetryStored(ctx context.Context, deviceID string, status iot.Status) error {
	value, err := json.Marshal(telemetryEvent{
		DeviceID: deviceID,
		Status:   status,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(deviceID),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
