package mqtt

import (
	"github.com/sweeney/water-tap/internal/mysensors"
)

// FakeTransport records sent messages and lets tests inject inbound ones.
type FakeTransport struct {
	// Sent contains every message that was sent.
	Sent []mysensors.Message

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// SendError, if set, will be returned by Send.
	SendError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// OnSend, if set, is called for every successfully sent message.
	// Tests use it to script controller replies through Deliver.
	OnSend func(msg mysensors.Message)

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	inbox chan mysensors.Message
}

// NewFakeTransport creates a FakeTransport with a buffered inbox.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{inbox: make(chan mysensors.Message, 16)}
}

// Send records the message.
func (f *FakeTransport) Send(msg mysensors.Message) error {
	if f.SendError != nil {
		return f.SendError
	}

	f.Sent = append(f.Sent, msg)
	if f.OnSend != nil {
		f.OnSend(msg)
	}
	return nil
}

// Deliver queues an inbound message as if it arrived from the broker.
// Returns false if the inbox is full.
func (f *FakeTransport) Deliver(msg mysensors.Message) bool {
	return deliver(f.inbox, msg)
}

// Inbox returns the inbound message channel.
func (f *FakeTransport) Inbox() <-chan mysensors.Message {
	return f.inbox
}

// PublishSystem records the system event.
func (f *FakeTransport) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// SentOf returns the sent messages with the given command and type.
func (f *FakeTransport) SentOf(cmd mysensors.Command, typ int) []mysensors.Message {
	var out []mysensors.Message
	for _, m := range f.Sent {
		if m.Command == cmd && m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// Close marks the transport as closed.
func (f *FakeTransport) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake transport is "connected".
func (f *FakeTransport) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded messages and drains the inbox.
func (f *FakeTransport) Reset() {
	f.Sent = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.SendError = nil
	f.PublishSystemError = nil
	f.OnSend = nil
	f.Closed = false
	f.Connected = false
	for {
		select {
		case <-f.inbox:
		default:
			return
		}
	}
}
