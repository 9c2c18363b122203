package mqtt

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/sensorhub-tech/sensorhub/core/logger"
	"github.com/sensorhub-tech/sensorhub/iot"
	"github.com/sensorhub-tech/sensorhub/iot/auth"
	"github.com/sensorhub-tech/sensorhub/iot/dispatch"
	"github.com/sensorhub-tech/sensorhub/iot/session"
	"github.com/sensorhub-tech/sensorhub/iot/subscription"
)

// Broker is the MQTT front of the sensor hub.
type Broker struct {
	p *plugin
}

// Builder is a builder helper for the Broker
type Builder struct {
	// Store is the device store. This is mandatory.
	Store iot.DeviceStore
	// Dispatcher routes inbound publish events. This is mandatory.
	Dispatcher *dispatch.Dispatcher
	// Addr is the TCP listen address. The default is ":1883".
	Addr string
}

// plugin is the plugin for GMQTT
type plugin struct {
	ln net.Listener

	// admitted holds the connections that completed an accepted CONNECT.
	// gmqtt fires the close hook for every connection, including ones whose
	// CONNECT was rejected; only admitted sessions may flip a device offline.
	admittedRwmux sync.RWMutex
	admitted      map[net.Conn]string

	gate       *auth.Gate
	tracker    *session.Tracker
	reconciler *subscription.Reconciler
	dispatcher *dispatch.Dispatcher

	service gmqtt.Server
}

// MustNewBroker returns a new broker. The broker will not actually run
// until you call Run().
func MustNewBroker(bb *Builder) *Broker {
	if bb.Store == nil {
		panic("store is missing")
	}
	if bb.Dispatcher == nil {
		panic("dispatcher is missing")
	}

	addr := bb.Addr
	if len(addr) == 0 {
		addr = ":1883"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		panic(err)
	}

	b := &Broker{
		p: &plugin{
			ln:         ln,
			admitted:   make(map[net.Conn]string),
			gate:       auth.NewGate(bb.Store),
			tracker:    session.NewTracker(bb.Store),
			dispatcher: bb.Dispatcher,
		},
	}
	// the subscription acknowledgment goes out through the broker itself
	b.p.reconciler = subscription.NewReconciler(bb.Store, b)

	return b
}

// Run is blocking and runs the server. It listens on syscall.SIGTERM for
// a graceful shutdown.
func (b *Broker) Run() {
	s := b.start()

	logger.Default().Infof("mqtt broker listening on %s", b.p.ln.Addr())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	s.Stop(context.Background())
	logger.Default().Info("mqtt broker stopped")
}

// gmqttServer widens gmqtt.Server with Stop, which the concrete server
// returned by gmqtt.NewServer has but the gmqtt.Server interface omits.
type gmqttServer interface {
	gmqtt.Server
	Stop(ctx context.Context) error
}

func (b *Broker) start() gmqttServer {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.p.ln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()
	return s
}

// PublishMessage implements iot.MessagePublisher.
func (b *Broker) PublishMessage(topic string, payload []byte, qos uint8, retain bool) error {
	if b.p.service == nil {
		return errors.New("broker is not running")
	}
	msg := gmqtt.NewMessage(topic, payload, qos, gmqtt.Retained(retain))
	b.p.service.PublishService().Publish(msg)
	return nil
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	logger.Default().Info("load sensorhub plugin")
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "sensorhub" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnConnectWrapper:      p.OnConnectWrapper,
		OnCloseWrapper:        p.OnCloseWrapper,
		OnSubscribedWrapper:   p.OnSubscribedWrapper,
		OnUnsubscribedWrapper: p.OnUnsubscribedWrapper,
		OnMsgArrivedWrapper:   p.OnMsgArrivedWrapper,
	}
}

// OnConnectWrapper admits clients by device id and api key. The client id
// is the device id and the password is the device's api key. Unknown
// devices and wrong keys get the same return code.
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		ctx, _ = logger.ContextWithLogger(ctx)
		opts := client.OptionsReader()
		deviceID := opts.ClientID()

		decision, err := p.gate.Authenticate(ctx, deviceID, opts.Password())
		if err != nil {
			return packets.CodeServerUnavaliable
		}
		if !decision.Granted {
			logger.FromContext(ctx).Infof("connect denied, %s: %s %s", deviceID, decision.Code, decision.Message)
			return packets.CodeBadUsernameorPsw
		}

		code = connect(ctx, client)
		if code == packets.CodeAccepted {
			logger.FromContext(ctx).Infof("connect %s", deviceID)
			p.admit(client.Connection(), deviceID)
			p.tracker.Connected(ctx, deviceID)
		}
		return code
	}
}

func (p *plugin) admit(conn net.Conn, deviceID string) {
	p.admittedRwmux.Lock()
	defer p.admittedRwmux.Unlock()
	// a session takeover replaces the previous connection; the close of the
	// replaced connection must not flip the device offline
	for c, id := range p.admitted {
		if id == deviceID {
			delete(p.admitted, c)
		}
	}
	p.admitted[conn] = deviceID
}

func (p *plugin) withdraw(conn net.Conn) (string, bool) {
	p.admittedRwmux.Lock()
	defer p.admittedRwmux.Unlock()
	deviceID, ok := p.admitted[conn]
	delete(p.admitted, conn)
	return deviceID, ok
}

// OnCloseWrapper marks the device offline, for graceful disconnects as
// well as broken connections. Connections that never completed an accepted
// CONNECT pass through untouched, so a rejected attempt cannot mark a
// legitimately connected device offline.
func (p *plugin) OnCloseWrapper(closed gmqtt.OnClose) gmqtt.OnClose {
	return func(ctx context.Context, client gmqtt.Client, err error) {
		ctx, _ = logger.ContextWithLogger(ctx)
		if deviceID, ok := p.withdraw(client.Connection()); ok {
			logger.FromContext(ctx).Infof("disconnect %s", deviceID)
			p.tracker.Disconnected(ctx, deviceID)
		}
		closed(ctx, client, err)
	}
}

// OnSubscribedWrapper reconciles the granted subscription into the
// device's persisted set. gmqtt reports subscriptions one topic at a time.
func (p *plugin) OnSubscribedWrapper(subscribed gmqtt.OnSubscribed) gmqtt.OnSubscribed {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) {
		ctx, _ = logger.ContextWithLogger(ctx)
		deviceID := client.OptionsReader().ClientID()
		p.reconciler.Subscribe(ctx, deviceID, []iot.Subscription{{Topic: topic.Name, QoS: topic.Qos}})
		subscribed(ctx, client, topic)
	}
}

// OnUnsubscribedWrapper removes the subscription from the persisted set.
func (p *plugin) OnUnsubscribedWrapper(unsubscribed gmqtt.OnUnsubscribed) gmqtt.OnUnsubscribed {
	return func(ctx context.Context, client gmqtt.Client, topicName string) {
		ctx, _ = logger.ContextWithLogger(ctx)
		deviceID := client.OptionsReader().ClientID()
		p.reconciler.Unsubscribe(ctx, deviceID, []string{topicName})
		unsubscribed(ctx, client, topicName)
	}
}

// OnMsgArrivedWrapper hands inbound publishes to the dispatcher. The
// message is routed to subscribers regardless of whether a telemetry
// handler accepted it.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		ctx, _ = logger.ContextWithLogger(ctx)
		deviceID := client.OptionsReader().ClientID()
		p.dispatcher.Dispatch(ctx, deviceID, msg.Topic(), msg.Payload())
		return arrived(ctx, client, msg)
	}
}

var _ iot.MessagePublisher = (*Broker)(nil)
