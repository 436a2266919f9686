package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/sweeney/water-tap/internal/mysensors"
)

var (
	errPublishTimeout = errors.New("publish timeout")
	errConnectTimeout = errors.New("connection timeout")
)

// RealTransport talks to an actual MQTT broker.
type RealTransport struct {
	cfg     Config
	client  paho.Client
	inbox   chan mysensors.Message
	breaker *gobreaker.CircuitBreaker

	pubMu sync.Mutex // orders live publishes after a reconnect replay

	mu      sync.Mutex
	pending *outbox
}

// NewRealTransport prepares a client for cfg.Broker. Nothing is sent until
// Connect; messages published before that are buffered or dropped like any
// other offline publish.
func NewRealTransport(cfg Config) (*RealTransport, error) {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 16
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32
	}

	t := &RealTransport{
		cfg:     cfg,
		inbox:   make(chan mysensors.Message, cfg.InboxSize),
		pending: newOutbox(cfg.BufferSize),
		breaker: newBreaker(),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetWill(SystemTopic(cfg.NodeID), string(will), 1, true).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
			t.notify(false)
		})
	t.client = paho.NewClient(opts)

	return t, nil
}

// newBreaker stops publish attempts for a while after repeated failures,
// so a dead broker does not stall every wake cycle on publish timeouts.
func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mqtt-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("mqtt: breaker %s %s -> %s", name, from, to)
		},
	})
}

// Connect dials the broker, retrying with exponential backoff for up to
// cfg.ConnectTimeout or until ctx is done. Once connected, paho reconnects
// on its own.
func (t *RealTransport) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = t.cfg.ConnectTimeout

	err := backoff.Retry(func() error {
		token := t.client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return errConnectTimeout
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: connect to %s: %v", t.cfg.Broker, err)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("connect to broker %s: %w", t.cfg.Broker, err)
	}
	log.Printf("mqtt: connected to %s as %s", t.cfg.Broker, t.cfg.ClientID)
	return nil
}

func (t *RealTransport) notify(connected bool) {
	if t.cfg.OnStatus != nil {
		t.cfg.OnStatus(connected)
	}
}

// onConnect runs on every (re)connect: subscribe, then replay what was
// buffered while offline.
func (t *RealTransport) onConnect(client paho.Client) {
	filter := mysensors.SubscribeTopic(t.cfg.TopicOut, t.cfg.NodeID)
	token := client.Subscribe(filter, 1, t.handle)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		log.Printf("mqtt: subscribe %s failed: %v", filter, token.Error())
	} else {
		log.Printf("mqtt: subscribed to %s", filter)
	}
	t.notify(true)

	// Live publishes wait for the replay so nothing sent now can be
	// overtaken by an older buffered message.
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	msgs, dropped := t.pending.drain()
	t.mu.Unlock()

	if dropped > 0 {
		log.Printf("mqtt: %d buffered messages were dropped while offline", dropped)
	}
	for i, m := range msgs {
		if err := t.publishNow(m); err != nil {
			log.Printf("mqtt: replay failed, keeping %d messages: %v", len(msgs)-i, err)
			t.mu.Lock()
			t.pending.restore(msgs[i:])
			t.mu.Unlock()
			return
		}
	}
	if len(msgs) > 0 {
		log.Printf("mqtt: replayed %d buffered messages", len(msgs))
	}
}

// handle is the paho callback for inbound messages. It must not block the
// client's router, so a full inbox drops the message.
func (t *RealTransport) handle(_ paho.Client, m paho.Message) {
	msg, err := mysensors.Parse(t.cfg.TopicOut, m.Topic(), m.Payload())
	if err != nil {
		log.Printf("mqtt: discarding message: %v", err)
		return
	}
	deliver(t.inbox, msg)
}

func deliver(inbox chan<- mysensors.Message, msg mysensors.Message) bool {
	select {
	case inbox <- msg:
		return true
	default:
		log.Printf("mqtt: inbox full, dropping %v", msg)
		return false
	}
}

// Send publishes msg on the gateway's inbound topic.
func (t *RealTransport) Send(msg mysensors.Message) error {
	pm := pendingMsg{topic: msg.Topic(t.cfg.TopicIn), payload: []byte(msg.Payload)}
	if msg.Command == mysensors.CommandSet {
		// One value per node, child and type: a newer report replaces an older one.
		pm.key = pm.topic
	}
	return t.publish(pm, buffered(msg))
}

// PublishSystem sends a lifecycle event, QoS 1 since shutdown events must arrive.
func (t *RealTransport) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return t.publish(pendingMsg{
		topic:    SystemTopic(t.cfg.NodeID),
		payload:  payload,
		qos:      1,
		retained: event.Retained,
	}, true)
}

func (t *RealTransport) publish(pm pendingMsg, keep bool) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	if !t.client.IsConnectionOpen() {
		if keep {
			t.hold(pm)
		}
		return fmt.Errorf("publish %s: not connected", pm.topic)
	}

	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, t.publishNow(pm)
	})
	if err != nil {
		// A value report that fails on a live connection is not held: the
		// next report goes out directly and a later replay would undo it.
		if keep && (pm.key == "" || !t.client.IsConnectionOpen()) {
			t.hold(pm)
		}
		return fmt.Errorf("publish %s: %w", pm.topic, err)
	}

	if pm.key != "" {
		t.mu.Lock()
		t.pending.forget(pm.key)
		t.mu.Unlock()
	}
	return nil
}

func (t *RealTransport) publishNow(pm pendingMsg) error {
	token := t.client.Publish(pm.topic, pm.qos, pm.retained, pm.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errPublishTimeout
	}
	return token.Error()
}

func (t *RealTransport) hold(pm pendingMsg) {
	t.mu.Lock()
	t.pending.push(pm)
	t.mu.Unlock()
}

// Inbox returns the inbound message channel.
func (t *RealTransport) Inbox() <-chan mysensors.Message {
	return t.inbox
}

// IsConnected reports whether the client currently has an open connection.
func (t *RealTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

// Pending returns the number of messages waiting for a reconnect.
func (t *RealTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.len()
}

// Close disconnects from the broker.
func (t *RealTransport) Close() error {
	t.client.Disconnect(1000) // 1 second timeout
	t.notify(false)
	return nil
}
