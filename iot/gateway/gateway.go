// Package gateway forwards outbound commands to devices through the broker.
package gateway

import (
	"context"

	"github.com/sensorhub-tech/sensorhub/core/logger"
	"github.com/sensorhub-tech/sensorhub/iot"
)

// Request is an outbound command for a device. QoS defaults to 0 and
// Retain to false when left unset.
type Request struct {
	DeviceID string `json:"device_id"`
	Topic    string `json:"topic"`
	Payload  []byte `json:"payload"`
	QoS      uint8  `json:"qos"`
	Retain   bool   `json:"retain"`
}

// Gateway forwards commands and keeps one message log entry per attempt.
// It does not verify that the target device is connected; sending to an
// offline device is legitimate and recorded as such. The administrative
// layer calls this API to push commands to devices.
type Gateway struct {
	store     iot.DeviceStore
	publisher iot.MessagePublisher
}

// NewGateway returns a gateway publishing through publisher and logging
// through store.
func NewGateway(store iot.DeviceStore, publisher iot.MessagePublisher) *Gateway {
	if store == nil {
		panic("store is missing")
	}
	if publisher == nil {
		panic("publisher is missing")
	}
	return &Gateway{store: store, publisher: publisher}
}

// Publish forwards the message and writes one log entry with the device's
// online flag at call time. The entry records intent, not confirmed
// delivery: it is written whether or not the forward succeeds, and a
// forward failure is only logged.
func (g *Gateway) Publish(ctx context.Context, req Request) {
	ctx, cancel := context.WithTimeout(ctx, iot.StoreTimeout)
	defer cancel()
	rlog := logger.FromContext(ctx).WithField("device_id", req.DeviceID).WithField("topic", req.Topic)

	isOnline := false
	device, err := g.store.FindByID(ctx, req.DeviceID)
	if err != nil {
		rlog.WithError(err).Warn("online status unknown, assuming offline")
	} else {
		isOnline = device.IsOnline
	}

	if err := g.publisher.PublishMessage(req.Topic, req.Payload, req.QoS, req.Retain); err != nil {
		rlog.WithError(err).Error("forward message to broker")
	}

	entry := iot.OutboundLog{
		DeviceID: req.DeviceID,
		Topic:    req.Topic,
		Payload:  req.Payload,
		QoS:      req.QoS,
		IsOnline: isOnline,
	}
	if err := g.store.CreateOutboundLog(ctx, entry); err != nil {
		rlog.WithError(err).Error("write message log")
		return
	}
	rlog.Info("message forwarded")
}
