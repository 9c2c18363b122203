package iot

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Device is a sensor endpoint known to the hub. The device id doubles as the
// MQTT client id. Devices are created and deleted by the administrative
// layer; the core only reads them and updates the online flag and the
// subscription set.
type Device struct {
	ID            string         `json:"id"`
	APIKey        string         `json:"api_key"`
	IsOnline      bool           `json:"is_online"`
	IsProtected   bool           `json:"is_protected"`
	Subscriptions []Subscription `json:"subscriptions"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Subscription is a topic filter a device has subscribed to, together with
// the requested quality of service. Subscriptions are unique by topic
// filter.
type Subscription struct {
	Topic string `json:"topic"`
	QoS   uint8  `json:"qos"`
}

// TelemetryRecord is one persisted status snapshot reported by a device.
// Records are immutable once written.
type TelemetryRecord struct {
	RecordID  uuid.UUID `json:"record_id"`
	DeviceID  string    `json:"device_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboundLog is the audit entry for one outbound forward attempt. It
// records intent and context at call time, not confirmed delivery.
type OutboundLog struct {
	LogID     uuid.UUID `json:"log_id"`
	DeviceID  string    `json:"device_id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	QoS       uint8     `json:"qos"`
	IsOnline  bool      `json:"is_online"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is the payload of a telemetry report: either structured JSON or
// the raw text of a payload that did not parse.
type Status struct {
	structured json.RawMessage
	raw        string
}

// ParseStatus builds a Status from a raw payload. Valid JSON stays
// structured, anything else is kept as raw text. There is no error case.
func ParseStatus(payload []byte) Status {
	if json.Valid(payload) {
		structured := make(json.RawMessage, len(payload))
		copy(structured, payload)
		return Status{structured: structured}
	}
	return Status{raw: string(payload)}
}

// StructuredStatus returns a Status carrying the given JSON value.
func StructuredStatus(value json.RawMessage) Status {
	return Status{structured: value}
}

// RawStatus returns a Status carrying unparsed text.
func RawStatus(text string) Status {
	return Status{raw: text}
}

// IsStructured reports whether the status holds parsed JSON.
func (s Status) IsStructured() bool {
	return s.structured != nil
}

// Structured returns the JSON value of a structured status, or nil.
func (s Status) Structured() json.RawMessage {
	return s.structured
}

// Raw returns the unparsed text of a raw status.
func (s Status) Raw() string {
	return s.raw
}

// MarshalJSON writes the JSON value as-is for a structured status and a
// JSON string for a raw one, which is also how the status column is stored.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.structured != nil {
		return s.structured, nil
	}
	return json.Marshal(s.raw)
}

// UnmarshalJSON restores a status from its stored form. Anything that is
// not a JSON string becomes a structured status again.
func (s *Status) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = Status{raw: text}
		return nil
	}
	structured := make(json.RawMessage, len(data))
	copy(structured, data)
	*s = Status{structured: structured}
	return nil
}
