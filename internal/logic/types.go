// Package logic contains the pure tap state machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
package logic

import "fmt"

// TapState is the logical, externally reported state of the valve.
// The numeric values match the V_STATUS payload (0 = off, 1 = on).
type TapState int

const (
	StateClosed TapState = 0
	StateOpen   TapState = 1
)

func (s TapState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	}
	return fmt.Sprintf("TapState(%d)", int(s))
}

// Valid reports whether s is one of the two known states.
func (s TapState) Valid() bool {
	return s == StateClosed || s == StateOpen
}

// Action is what the controller must do in response to a status value.
type Action int

const (
	// ActionNone: the value equals the current state.
	ActionNone Action = iota
	// ActionOpen: run the open transition, then commit StateOpen.
	ActionOpen
	// ActionClose: run the close transition, then commit StateClosed.
	ActionClose
	// ActionReject: the value is not a known state.
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionOpen:
		return "OPEN"
	case ActionClose:
		return "CLOSE"
	case ActionReject:
		return "REJECT"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Decision is the outcome of feeding one status value into the state machine.
type Decision struct {
	Action Action
	// Target is the state to commit after the transition completes.
	// Only meaningful for ActionOpen and ActionClose.
	Target TapState
}

// Counts tracks controller activity since startup.
type Counts struct {
	Cycles   int // wake cycles started
	Replies  int // cycles that received the awaited reply
	Timeouts int // cycles that timed out waiting
	Opens    int // committed open transitions
	Closes   int // committed close transitions
	Rejected int // status values outside {Closed, Open}
	Ignored  int // messages for other children or of other kinds
	Failed   int // transitions aborted by a drive error
}
