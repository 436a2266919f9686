// Package mqtt connects the tap node to a MySensors MQTT gateway,
// with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/water-tap/internal/mysensors"
)

// Default gateway topic prefixes.
const (
	DefaultTopicIn  = "mysensors-in"
	DefaultTopicOut = "mysensors-out"
)

// Transport carries MySensors messages between the node and the controller.
type Transport interface {
	// Send publishes a message towards the controller.
	// Returns error if sending fails (should not crash the process).
	Send(msg mysensors.Message) error

	// Inbox delivers every inbound message addressed to this node, in
	// arrival order. The channel is never closed while the transport is open.
	Inbox() <-chan mysensors.Message

	// PublishSystem sends a daemon lifecycle event on the system topic.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Config holds broker and topic settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	NodeID   int
	TopicIn  string
	TopicOut string

	// ConnectTimeout bounds the initial connect retries.
	ConnectTimeout time.Duration
	// BufferSize is the number of outbound messages kept while disconnected.
	BufferSize int
	// InboxSize is the capacity of the inbound channel.
	InboxSize int

	// OnStatus, if set, is called from paho's goroutines whenever the
	// connection comes up or goes away.
	OnStatus func(connected bool)
}

// SystemTopic returns the topic for lifecycle events of a node.
func SystemTopic(node int) string {
	return fmt.Sprintf("water-tap/%d/system", node)
}

// SystemEvent represents a daemon lifecycle event (startup, shutdown, offline).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload is the payload for events without a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// buffered reports whether a message is worth replaying after a reconnect.
// Requests and sleep notifications belong to one wake cycle and go stale.
func buffered(msg mysensors.Message) bool {
	return msg.Command == mysensors.CommandSet || msg.Command == mysensors.CommandPresentation
}
