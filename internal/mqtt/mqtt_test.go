package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/water-tap/internal/mysensors"
)

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.System.Timestamp)
	}
	if parsed.System.Event != "SHUTDOWN" {
		t.Errorf("unexpected event: %s", parsed.System.Event)
	}
	if parsed.System.Reason != "SIGTERM" {
		t.Errorf("unexpected reason: %s", parsed.System.Reason)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["system"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"tap":"OPEN"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("got %s, want raw payload", payload)
	}
}

func TestSystemTopic(t *testing.T) {
	if got := SystemTopic(3); got != "water-tap/3/system" {
		t.Errorf("got %q", got)
	}
}

func TestBufferedKinds(t *testing.T) {
	tests := []struct {
		msg  mysensors.Message
		want bool
	}{
		{mysensors.Set(1, mysensors.ChildTap, mysensors.TypeStatus, 1), true},
		{mysensors.Presentation(1, mysensors.ChildTap, mysensors.SensorBinary, ""), true},
		{mysensors.Request(1, mysensors.ChildTap, mysensors.TypeStatus), false},
		{mysensors.PreSleep(1, time.Second), false},
	}
	for _, tt := range tests {
		if got := buffered(tt.msg); got != tt.want {
			t.Errorf("buffered(%v): got %v, want %v", tt.msg, got, tt.want)
		}
	}
}

// fakeMessage implements paho.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestHandleDeliversParsedMessage(t *testing.T) {
	tr := &RealTransport{
		cfg:   Config{TopicOut: "mysensors-out", NodeID: 1},
		inbox: make(chan mysensors.Message, 1),
	}

	tr.handle(nil, fakeMessage{topic: "mysensors-out/1/0/2/0/2", payload: []byte("1")})

	select {
	case msg := <-tr.Inbox():
		want := mysensors.Message{NodeID: 1, ChildID: 0, Command: mysensors.CommandReq, Type: mysensors.TypeStatus, Payload: "1"}
		if msg != want {
			t.Errorf("got %+v, want %+v", msg, want)
		}
	default:
		t.Fatal("expected a message in the inbox")
	}
}

func TestHandleDiscardsMalformedTopic(t *testing.T) {
	tr := &RealTransport{
		cfg:   Config{TopicOut: "mysensors-out", NodeID: 1},
		inbox: make(chan mysensors.Message, 1),
	}

	tr.handle(nil, fakeMessage{topic: "mysensors-out/1/0/garbage", payload: []byte("1")})

	select {
	case msg := <-tr.Inbox():
		t.Errorf("expected no message, got %+v", msg)
	default:
	}
}

func TestDeliverDropsWhenFull(t *testing.T) {
	inbox := make(chan mysensors.Message, 1)

	if !deliver(inbox, mysensors.Message{Payload: "a"}) {
		t.Fatal("first deliver should succeed")
	}
	if deliver(inbox, mysensors.Message{Payload: "b"}) {
		t.Error("second deliver should be dropped")
	}
	if got := <-inbox; got.Payload != "a" {
		t.Errorf("expected first message kept, got %q", got.Payload)
	}
}

func TestRealTransportHoldsWhileOffline(t *testing.T) {
	tr, err := NewRealTransport(Config{
		Broker:     "tcp://127.0.0.1:1",
		ClientID:   "test",
		NodeID:     1,
		TopicIn:    DefaultTopicIn,
		TopicOut:   DefaultTopicOut,
		BufferSize: 2,
	})
	if err != nil {
		t.Fatalf("NewRealTransport: %v", err)
	}
	if tr.IsConnected() {
		t.Fatal("transport must not connect before Connect")
	}

	if err := tr.Send(mysensors.Set(1, mysensors.ChildTap, mysensors.TypeStatus, 1)); err == nil {
		t.Error("expected error while offline")
	}
	if err := tr.Send(mysensors.Request(1, mysensors.ChildTap, mysensors.TypeStatus)); err == nil {
		t.Error("expected error while offline")
	}
	if got := tr.Pending(); got != 1 {
		t.Errorf("Pending after set+request: got %d, want 1", got)
	}

	// System events are always kept; the oldest entry makes room.
	tr.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"})
	tr.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN"})
	if got := tr.Pending(); got != 2 {
		t.Errorf("Pending: got %d, want 2 (capacity)", got)
	}
}

func TestRealTransportConnectHonoursContext(t *testing.T) {
	tr, err := NewRealTransport(Config{Broker: "tcp://127.0.0.1:1", ClientID: "test", NodeID: 1})
	if err != nil {
		t.Fatalf("NewRealTransport: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tr.Connect(ctx); err == nil {
		t.Fatal("expected error from a cancelled connect")
	}
}

func TestNotifyCallsOnStatus(t *testing.T) {
	var got []bool
	tr := &RealTransport{cfg: Config{OnStatus: func(c bool) { got = append(got, c) }}}

	tr.notify(true)
	tr.notify(false)

	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("got %v, want [true false]", got)
	}

	// No callback configured.
	(&RealTransport{}).notify(true)
}

// fakeToken is a completed paho.Token.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient is a paho.Client whose publishes are recorded in order.
// Methods the transport does not use are left to the nil embedded interface.
type fakeClient struct {
	paho.Client
	open       bool
	failNext   int  // number of upcoming publishes that fail
	dropOnFail bool // a failing publish also closes the connection
	published  []string
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open }

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	if c.failNext > 0 {
		c.failNext--
		if c.dropOnFail {
			c.open = false
		}
		return &fakeToken{err: errors.New("publish failed")}
	}
	c.published = append(c.published, string(payload.([]byte)))
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return &fakeToken{}
}

func newTestTransport(c *fakeClient) *RealTransport {
	return &RealTransport{
		cfg:     Config{NodeID: 1, TopicIn: DefaultTopicIn, TopicOut: DefaultTopicOut},
		client:  c,
		inbox:   make(chan mysensors.Message, 4),
		breaker: newBreaker(),
		pending: newOutbox(8),
	}
}

func report(value int) mysensors.Message {
	return mysensors.Set(1, mysensors.ChildTap, mysensors.TypeStatus, value)
}

func TestFailedReportOnLiveConnectionIsNotReplayed(t *testing.T) {
	c := &fakeClient{open: true, failNext: 1}
	tr := newTestTransport(c)

	if err := tr.Send(report(1)); err == nil {
		t.Fatal("expected the first report to fail")
	}
	if err := tr.Send(report(0)); err != nil {
		t.Fatalf("second report: %v", err)
	}
	if got := tr.Pending(); got != 0 {
		t.Errorf("Pending while connected: got %d, want 0", got)
	}

	tr.onConnect(c)

	if len(c.published) != 1 || c.published[0] != "0" {
		t.Errorf("published: got %v, want [0]", c.published)
	}
}

func TestFailedReportHeldWhenConnectionDrops(t *testing.T) {
	c := &fakeClient{open: true, failNext: 1, dropOnFail: true}
	tr := newTestTransport(c)

	if err := tr.Send(report(1)); err == nil {
		t.Fatal("expected failure")
	}
	if got := tr.Pending(); got != 1 {
		t.Fatalf("Pending: got %d, want 1", got)
	}

	c.open = true
	tr.onConnect(c)

	if len(c.published) != 1 || c.published[0] != "1" {
		t.Errorf("published: got %v, want [1]", c.published)
	}
}

func TestHeldReportSupersededByNewer(t *testing.T) {
	c := &fakeClient{}
	tr := newTestTransport(c)

	tr.Send(report(1))
	tr.Send(report(0))
	tr.Send(mysensors.Set(1, mysensors.ChildTemperature, mysensors.TypeTemp, 21))
	if got := tr.Pending(); got != 2 {
		t.Fatalf("Pending: got %d, want 2 (one per child)", got)
	}

	c.open = true
	tr.onConnect(c)

	want := []string{"0", "21"}
	if len(c.published) != len(want) {
		t.Fatalf("published: got %v, want %v", c.published, want)
	}
	for i := range want {
		if c.published[i] != want[i] {
			t.Errorf("publish %d: got %q, want %q", i, c.published[i], want[i])
		}
	}
}

func TestLiveReportDropsHeldReport(t *testing.T) {
	c := &fakeClient{}
	tr := newTestTransport(c)

	tr.Send(report(1))

	// Connection is back but the replay has not run yet.
	c.open = true
	if err := tr.Send(report(0)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := tr.Pending(); got != 0 {
		t.Errorf("Pending: got %d, want 0", got)
	}

	tr.onConnect(c)

	if len(c.published) != 1 || c.published[0] != "0" {
		t.Errorf("published: got %v, want [0]", c.published)
	}
}

func TestFailedSystemEventHeldOnLiveConnection(t *testing.T) {
	c := &fakeClient{open: true, failNext: 1}
	tr := newTestTransport(c)

	if err := tr.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"}); err == nil {
		t.Fatal("expected failure")
	}
	if got := tr.Pending(); got != 1 {
		t.Errorf("Pending: got %d, want 1", got)
	}
}

func TestFakeTransportSend(t *testing.T) {
	f := NewFakeTransport()

	msg := mysensors.Request(1, mysensors.ChildTap, mysensors.TypeStatus)
	if err := f.Send(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Sent) != 1 || f.Sent[0] != msg {
		t.Fatalf("expected request recorded, got %+v", f.Sent)
	}
	if got := f.SentOf(mysensors.CommandReq, mysensors.TypeStatus); len(got) != 1 {
		t.Errorf("SentOf: got %d, want 1", len(got))
	}
}

func TestFakeTransportSendError(t *testing.T) {
	f := NewFakeTransport()
	f.SendError = errors.New("simulated error")

	if err := f.Send(mysensors.Request(1, 0, mysensors.TypeStatus)); err == nil {
		t.Error("expected error")
	}
	if len(f.Sent) != 0 {
		t.Errorf("expected nothing recorded on error, got %d", len(f.Sent))
	}
}

func TestFakeTransportOnSendScriptsReply(t *testing.T) {
	f := NewFakeTransport()
	f.OnSend = func(msg mysensors.Message) {
		if msg.Command == mysensors.CommandReq {
			f.Deliver(mysensors.Message{NodeID: msg.NodeID, ChildID: msg.ChildID, Command: mysensors.CommandReq, Type: msg.Type, Payload: "1"})
		}
	}

	f.Send(mysensors.Request(1, mysensors.ChildTap, mysensors.TypeStatus))

	select {
	case reply := <-f.Inbox():
		if reply.Payload != "1" {
			t.Errorf("unexpected reply: %+v", reply)
		}
	default:
		t.Fatal("expected scripted reply")
	}
}

func TestFakeTransportPublishSystem(t *testing.T) {
	f := NewFakeTransport()

	if err := f.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.SystemEvents) != 1 || len(f.SystemPayloads) != 1 {
		t.Fatalf("expected 1 event and payload, got %d and %d", len(f.SystemEvents), len(f.SystemPayloads))
	}

	f.PublishSystemError = errors.New("simulated error")
	if err := f.PublishSystem(SystemEvent{Event: "SHUTDOWN"}); err == nil {
		t.Error("expected error")
	}
}

func TestFakeTransportReset(t *testing.T) {
	f := NewFakeTransport()
	f.Send(mysensors.Request(1, 0, mysensors.TypeStatus))
	f.Deliver(mysensors.Message{Payload: "x"})
	f.Connected = true

	f.Reset()

	if len(f.Sent) != 0 || f.Connected {
		t.Errorf("expected clean transport after reset")
	}
	select {
	case msg := <-f.Inbox():
		t.Errorf("expected empty inbox, got %+v", msg)
	default:
	}
}
