package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 256
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	DeviceID    string
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are kept in an outbox and replayed on reconnect.
type RealPublisher struct {
	client   paho.Client
	topics   Topics
	deviceID string
	log      *zap.SugaredLogger

	mu      sync.Mutex
	buf     *outbox
	handler func(Command)
}

// NewRealPublisher creates a publisher for the given broker. A broker that is
// unreachable at startup is not an error: paho keeps retrying in the
// background and messages are buffered until it connects.
func NewRealPublisher(o Options, log *zap.SugaredLogger) (*RealPublisher, error) {
	p := &RealPublisher{
		topics:   NewTopics(o.TopicPrefix),
		deviceID: o.DeviceID,
		log:      log,
		buf:      newOutbox(bufferCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(p.topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "err", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warnw("mqtt broker not reachable yet, buffering", "broker", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Publish sends a reefer event to the broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(p.deviceID, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1 so alarm events survive a broker hiccup
	return p.publish(bufferedMsg{topic: p.topics.Events, payload: payload, qos: 1})
}

// PublishSystem sends a system lifecycle event to the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		first := p.buf.add(m)
		p.mu.Unlock()
		if first {
			p.log.Warnw("mqtt outbox full, dropping oldest events", "capacity", bufferCapacity)
		}
		return nil
	}

	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Subscribe registers handler for the command topic. The subscription is
// renewed on every reconnect.
func (p *RealPublisher) Subscribe(handler func(Command)) error {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		return nil
	}
	return p.subscribe(p.client)
}

func (p *RealPublisher) subscribe(c paho.Client) error {
	token := c.Subscribe(p.topics.Command, 1, p.onMessage)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timeout", p.topics.Command)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.topics.Command, err)
	}
	return nil
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		p.log.Warnw("ignoring mqtt command", "topic", msg.Topic(), "err", err)
		return
	}

	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(cmd)
	}
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.log.Infow("mqtt connected")

	p.mu.Lock()
	h := p.handler
	pending, dropped := p.buf.drain()
	p.mu.Unlock()

	if h != nil {
		if err := p.subscribe(c); err != nil {
			p.log.Warnw("mqtt subscribe failed", "err", err)
		}
	}

	for _, m := range pending {
		// Don't block the paho callback goroutine on acks
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	if len(pending) > 0 {
		p.log.Infow("mqtt replayed buffered messages", "count", len(pending), "dropped", dropped)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
