package devices

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sensorhub-tech/sensorhub/core/csql"
	"github.com/sensorhub-tech/sensorhub/iot"
)

type SQLStoreTestSuite struct {
	suite.Suite
	container testcontainers.Container
	db        *csql.DB
	store     *SQLStore
}

func TestSQLStoreTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Postgres container suite in short mode")
	}
	suite.Run(t, new(SQLStoreTestSuite))
}

func (s *SQLStoreTestSuite) SetupSuite() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = pgC

	host, err := pgC.Host(ctx)
	s.Require().NoError(err)
	port, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db = csql.OpenWithSchema(fmt.Sprintf(
		"host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable",
		host, port.Port()), "sensorhub")
	s.store = MustNewSQLStore(s.db)
}

func (s *SQLStoreTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *SQLStoreTestSuite) TestDeviceRoundTrip() {
	ctx := context.Background()
	device := iot.Device{
		ID:          "dev-roundtrip",
		APIKey:      "key-roundtrip",
		IsProtected: true,
		Subscriptions: []iot.Subscription{
			{Topic: "dht11/status", QoS: 1},
		},
	}
	s.Require().NoError(s.store.CreateDevice(ctx, device))

	found, err := s.store.FindByID(ctx, "dev-roundtrip")
	s.Require().NoError(err)
	s.Equal("key-roundtrip", found.APIKey)
	s.True(found.IsProtected)
	s.False(found.IsOnline)
	s.Equal(device.Subscriptions, found.Subscriptions)
	s.WithinDuration(time.Now().UTC(), found.CreatedAt, time.Minute)
}

func (s *SQLStoreTestSuite) TestFindUnknownDevice() {
	_, err := s.store.FindByID(context.Background(), "dev-ghost")
	s.Equal(iot.ErrDeviceNotFound, err)
}

func (s *SQLStoreTestSuite) TestUpdateOnlineIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.store.CreateDevice(ctx, iot.Device{ID: "dev-online", APIKey: "key-online"}))

	s.Require().NoError(s.store.UpdateOnline(ctx, "dev-online", true))
	s.Require().NoError(s.store.UpdateOnline(ctx, "dev-online", true))
	found, err := s.store.FindByID(ctx, "dev-online")
	s.Require().NoError(err)
	s.True(found.IsOnline)

	s.Require().NoError(s.store.UpdateOnline(ctx, "dev-online", false))
	s.Require().NoError(s.store.UpdateOnline(ctx, "dev-online", false))
	found, err = s.store.FindByID(ctx, "dev-online")
	s.Require().NoError(err)
	s.False(found.IsOnline)

	// unknown devices are not created by an online update
	s.Require().NoError(s.store.UpdateOnline(ctx, "dev-ghost", true))
	_, err = s.store.FindByID(ctx, "dev-ghost")
	s.Equal(iot.ErrDeviceNotFound, err)
}

func (s *SQLStoreTestSuite) TestUpdateSubscriptions() {
	ctx := context.Background()
	s.Require().NoError(s.store.CreateDevice(ctx, iot.Device{ID: "dev-subs", APIKey: "key-subs"}))

	subscriptions := []iot.Subscription{
		{Topic: "dht11/status", QoS: 0},
		{Topic: "rgb_led/status", QoS: 2},
	}
	s.Require().NoError(s.store.UpdateSubscriptions(ctx, "dev-subs", subscriptions))

	found, err := s.store.FindByID(ctx, "dev-subs")
	s.Require().NoError(err)
	s.Equal(subscriptions, found.Subscriptions)
}

func (s *SQLStoreTestSuite) TestCreateTelemetryRecord() {
	ctx := context.Background()
	s.Require().NoError(s.store.CreateDevice(ctx, iot.Device{ID: "dev-telemetry", APIKey: "key-telemetry"}))

	s.Require().NoError(s.store.CreateTelemetryRecord(ctx, "dev-telemetry", iot.ParseStatus([]byte(`{"temp":21.5}`))))
	s.Require().NoError(s.store.CreateTelemetryRecord(ctx, "dev-telemetry", iot.ParseStatus([]byte("not-json"))))

	rows, err := s.db.Query(
		`SELECT status FROM `+s.db.Schema+`.device_record WHERE device_id=$1 ORDER BY created_at;`,
		"dev-telemetry")
	s.Require().NoError(err)
	defer rows.Close()

	var statuses []iot.Status
	for rows.Next() {
		var data []byte
		s.Require().NoError(rows.Scan(&data))
		var status iot.Status
		s.Require().NoError(json.Unmarshal(data, &status))
		statuses = append(statuses, status)
	}
	s.Require().Len(statuses, 2)
	s.True(statuses[0].IsStructured())
	s.JSONEq(`{"temp":21.5}`, string(statuses[0].Structured()))
	s.False(statuses[1].IsStructured())
	s.Equal("not-json", statuses[1].Raw())
}

func (s *SQLStoreTestSuite) TestCreateOutboundLog() {
	ctx := context.Background()

	entry := iot.OutboundLog{
		DeviceID: "dev-log",
		Topic:    "rgb_led/command",
		Payload:  []byte(`{"r":255}`),
		QoS:      1,
		IsOnline: false,
	}
	s.Require().NoError(s.store.CreateOutboundLog(ctx, entry))

	var topic string
	var payload []byte
	var qos int
	var isOnline bool
	err := s.db.QueryRow(
		`SELECT topic,payload,qos,is_online FROM `+s.db.Schema+`.message_log WHERE device_id=$1;`,
		"dev-log").Scan(&topic, &payload, &qos, &isOnline)
	s.Require().NoError(err)
	s.Equal("rgb_led/command", topic)
	s.Equal([]byte(`{"r":255}`), payload)
	s.Equal(1, qos)
	s.False(isOnline)
}
