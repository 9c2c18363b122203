package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/sensorhub-tech/sensorhub/core/csql"
	"github.com/sensorhub-tech/sensorhub/iot"
)

// SQLStore is the Postgres implementation of iot.DeviceStore. The device
// table is shared with the administrative layer, which creates and deletes
// the rows; the connectivity core only reads them and updates the online
// flag and the subscription set.
type SQLStore struct {
	db *csql.DB
}

// MustNewSQLStore returns a store on the given database and creates the
// device, device_record and message_log tables if they do not exist yet.
func MustNewSQLStore(db *csql.DB) *SQLStore {
	if db == nil {
		panic("DB is missing")
	}

	// poor man's database migrations
	_, err := db.Exec(`
CREATE table IF NOT EXISTS ` + db.Schema + `.device
(device_id varchar PRIMARY KEY,
api_key varchar NOT NULL UNIQUE,
is_online boolean NOT NULL DEFAULT false,
is_protected boolean NOT NULL DEFAULT false,
subscriptions json NOT NULL DEFAULT '[]',
created_at timestamp NOT NULL DEFAULT now()
);
CREATE table IF NOT EXISTS ` + db.Schema + `.device_record
(record_id uuid PRIMARY KEY,
device_id varchar NOT NULL references ` + db.Schema + `.device(device_id) ON DELETE CASCADE,
status json NOT NULL,
created_at timestamp NOT NULL
);
CREATE table IF NOT EXISTS ` + db.Schema + `.message_log
(log_id uuid PRIMARY KEY,
device_id varchar NOT NULL,
topic varchar NOT NULL,
payload bytea NOT NULL,
qos integer NOT NULL,
is_online boolean NOT NULL,
created_at timestamp NOT NULL
);`)
	if err != nil {
		panic(err)
	}

	return &SQLStore{db: db}
}

// CreateDevice registers a device. This is the administrative operation the
// core itself never performs; it exists for provisioning tools and tests.
func (s *SQLStore) CreateDevice(ctx context.Context, device iot.Device) error {
	subscriptions, err := marshalSubscriptions(device.Subscriptions)
	if err != nil {
		return err
	}
	createdAt := device.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`.device(device_id,api_key,is_online,is_protected,subscriptions,created_at)
		VALUES($1,$2,$3,$4,$5,$6);`,
		device.ID, device.APIKey, device.IsOnline, device.IsProtected, string(subscriptions), createdAt)
	if err != nil {
		return fmt.Errorf("create device %s: %w", device.ID, err)
	}
	return nil
}

// FindByID implements iot.DeviceStore.
func (s *SQLStore) FindByID(ctx context.Context, deviceID string) (*iot.Device, error) {
	device := iot.Device{ID: deviceID}
	var subscriptions []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key,is_online,is_protected,subscriptions,created_at FROM `+s.db.Schema+`.device WHERE device_id=$1;`,
		deviceID).Scan(&device.APIKey, &device.IsOnline, &device.IsProtected, &subscriptions, &device.CreatedAt)
	if err == csql.ErrNoRows {
		return nil, iot.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device %s: %w", deviceID, err)
	}
	if err := json.Unmarshal(subscriptions, &device.Subscriptions); err != nil {
		return nil, fmt.Errorf("find device %s: corrupt subscriptions: %w", deviceID, err)
	}
	return &device, nil
}

// UpdateOnline implements iot.DeviceStore.
func (s *SQLStore) UpdateOnline(ctx context.Context, deviceID string, online bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE `+s.db.Schema+`.device SET is_online=$2 WHERE device_id=$1;`,
		deviceID, online)
	if err != nil {
		return fmt.Errorf("update online status of %s: %w", deviceID, err)
	}
	return nil
}

// UpdateSubscriptions implements iot.DeviceStore.
func (s *SQLStore) UpdateSubscriptions(ctx context.Context, deviceID string, subscriptions []iot.Subscription) error {
	data, err := marshalSubscriptions(subscriptions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE `+s.db.Schema+`.device SET subscriptions=$2 WHERE device_id=$1;`,
		deviceID, string(data))
	if err != nil {
		return fmt.Errorf("update subscriptions of %s: %w", deviceID, err)
	}
	return nil
}

// CreateTelemetryRecord implements iot.DeviceStore.
func (s *SQLStore) CreateTelemetryRecord(ctx context.Context, deviceID string, status iot.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status of %s: %w", deviceID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`.device_record(record_id,device_id,status,created_at)
		VALUES($1,$2,$3,$4);`,
		uuid.New(), deviceID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create telemetry record for %s: %w", deviceID, err)
	}
	return nil
}

// CreateOutboundLog implements iot.DeviceStore.
func (s *SQLStore) CreateOutboundLog(ctx context.Context, entry iot.OutboundLog) error {
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.db.Schema+`.message_log(log_id,device_id,topic,payload,qos,is_online,created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7);`,
		uuid.New(), entry.DeviceID, entry.Topic, payload, int(entry.QoS), entry.IsOnline, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create message log for %s: %w", entry.DeviceID, err)
	}
	return nil
}

func marshalSubscriptions(subscriptions []iot.Subscription) ([]byte, error) {
	if subscriptions == nil {
		subscriptions = []iot.Subscription{}
	}
	data, err := json.Marshal(subscriptions)
	if err != nil {
		return nil, fmt.Errorf("marshal subscriptions: %w", err)
	}
	return data, nil
}

var _ iot.DeviceStore = (*SQLStore)(nil)
