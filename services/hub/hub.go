package main

import (
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/sensorhub-tech/sensorhub/core/csql"
	"github.com/sensorhub-tech/sensorhub/core/logger"
	"github.com/sensorhub-tech/sensorhub/iot/devices"
	"github.com/sensorhub-tech/sensorhub/iot/dispatch"
	"github.com/sensorhub-tech/sensorhub/iot/events"
	"github.com/sensorhub-tech/sensorhub/iot/mqtt"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres       string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	Schema         string `env:"SCHEMA,default=sensorhub" description:"the database schema"`
	MQTTAddr       string `env:"MQTT_ADDR,default=:1883" description:"the listen address of the MQTT broker"`
	KafkaBrokers   string `env:"KAFKA_BROKERS,optional" description:"comma separated Kafka brokers for telemetry fan-out"`
	TelemetryTopic string `env:"TELEMETRY_TOPIC,default=sensor_telemetry" description:"the Kafka topic for telemetry fan-out"`
}

func main() {
	logger.InitLogger(logrus.InfoLevel)

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, service.Schema)
	defer db.Close()

	store := devices.MustNewSQLStore(db)

	var notifier dispatch.Notifier
	if len(service.KafkaBrokers) > 0 {
		kafkaNotifier := events.NewNotifier(strings.Split(service.KafkaBrokers, ","), service.TelemetryTopic)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	statusHandler := dispatch.StatusHandler(store, notifier)
	dispatcher := dispatch.NewDispatcher()
	dispatcher.Register("dht11/status", statusHandler)
	dispatcher.Register("rgb_led/status", statusHandler)

	broker := mqtt.MustNewBroker(&mqtt.Builder{
		Store:      store,
		Dispatcher: dispatcher,
		Addr:       service.MQTTAddr,
	})

	broker.Run()
}
