// Package mysensors models the subset of the MySensors serial protocol used
// by the tap node, as carried by an MQTT gateway:
//
//	<prefix>/<node-id>/<child-id>/<command>/<ack>/<type>  payload
package mysensors

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command is the message kind.
type Command int

const (
	CommandPresentation Command = 0
	CommandSet          Command = 1
	CommandReq          Command = 2
	CommandInternal     Command = 3
	CommandStream       Command = 4
)

func (c Command) String() string {
	switch c {
	case CommandPresentation:
		return "C_PRESENTATION"
	case CommandSet:
		return "C_SET"
	case CommandReq:
		return "C_REQ"
	case CommandInternal:
		return "C_INTERNAL"
	case CommandStream:
		return "C_STREAM"
	}
	return fmt.Sprintf("C_%d", int(c))
}

// Value types (for set/req), sensor types (for presentation) and internal
// types share the Type field; their meaning depends on Command.
const (
	TypeTemp   = 0 // V_TEMP
	TypeStatus = 2 // V_STATUS

	SensorBinary = 3 // S_BINARY
	SensorTemp   = 6 // S_TEMP

	InternalSketchName      = 11 // I_SKETCH_NAME
	InternalSketchVersion   = 12 // I_SKETCH_VERSION
	InternalPreSleepNotify  = 32 // I_PRE_SLEEP_NOTIFICATION
	InternalPostSleepNotify = 33 // I_POST_SLEEP_NOTIFICATION
)

// Child ids of the tap node.
const (
	ChildTap         = 0
	ChildTemperature = 1
	ChildNode        = 255 // the node itself, used for internal messages
)

// Message is one MySensors message.
type Message struct {
	NodeID  int
	ChildID int
	Command Command
	Ack     bool
	Type    int
	Payload string
}

func (m Message) String() string {
	return fmt.Sprintf("%d/%d/%s/%d %q", m.NodeID, m.ChildID, m.Command, m.Type, m.Payload)
}

// Topic returns the MQTT topic for m under prefix.
func (m Message) Topic(prefix string) string {
	ack := 0
	if m.Ack {
		ack = 1
	}
	return fmt.Sprintf("%s/%d/%d/%d/%d/%d", prefix, m.NodeID, m.ChildID, int(m.Command), ack, m.Type)
}

// IsStatus reports whether m carries a V_STATUS value.
func (m Message) IsStatus() bool {
	return (m.Command == CommandSet || m.Command == CommandReq) && m.Type == TypeStatus
}

// SubscribeTopic returns the MQTT filter matching every message for node.
func SubscribeTopic(prefix string, node int) string {
	return fmt.Sprintf("%s/%d/+/+/+/+", prefix, node)
}

// Parse decodes an MQTT topic and payload received under prefix.
func Parse(prefix, topic string, payload []byte) (Message, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return Message{}, fmt.Errorf("topic %q: missing prefix %q", topic, prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 5 {
		return Message{}, fmt.Errorf("topic %q: want 5 fields after prefix, got %d", topic, len(parts))
	}

	var f [5]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return Message{}, fmt.Errorf("topic %q: field %d %q is not a byte", topic, i, p)
		}
		f[i] = v
	}

	return Message{
		NodeID:  f[0],
		ChildID: f[1],
		Command: Command(f[2]),
		Ack:     f[3] == 1,
		Type:    f[4],
		Payload: string(payload),
	}, nil
}

// Presentation announces a child sensor to the controller.
func Presentation(node, child, sensorType int, description string) Message {
	return Message{NodeID: node, ChildID: child, Command: CommandPresentation, Type: sensorType, Payload: description}
}

// Request asks the controller for the current value of a child.
func Request(node, child, valueType int) Message {
	return Message{NodeID: node, ChildID: child, Command: CommandReq, Type: valueType}
}

// Set reports a value for a child.
func Set(node, child, valueType, value int) Message {
	return Message{NodeID: node, ChildID: child, Command: CommandSet, Type: valueType, Payload: strconv.Itoa(value)}
}

// Internal builds a node-level internal message.
func Internal(node, internalType int, payload string) Message {
	return Message{NodeID: node, ChildID: ChildNode, Command: CommandInternal, Type: internalType, Payload: payload}
}

// PreSleep tells the controller the node is about to sleep for d.
func PreSleep(node int, d time.Duration) Message {
	return Internal(node, InternalPreSleepNotify, strconv.FormatInt(d.Milliseconds(), 10))
}

// PostSleep tells the controller the node woke up.
func PostSleep(node int) Message {
	return Internal(node, InternalPostSleepNotify, "")
}
