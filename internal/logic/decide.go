package logic

import (
	"fmt"
	"strconv"
	"strings"
)

// Decide returns what to do when the controller asks for state value while
// the tap is in current. Equal values are a no-op; unknown values are rejected
// without any motor activity.
func Decide(current TapState, value int) Decision {
	target := TapState(value)
	if !target.Valid() {
		return Decision{Action: ActionReject}
	}
	if target == current {
		return Decision{Action: ActionNone, Target: current}
	}

	switch target {
	case StateOpen:
		return Decision{Action: ActionOpen, Target: StateOpen}
	case StateClosed:
		return Decision{Action: ActionClose, Target: StateClosed}
	}
	return Decision{Action: ActionReject}
}

// ParseValue parses a V_STATUS payload. Surrounding whitespace is ignored.
func ParseValue(payload string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, fmt.Errorf("parse status value %q: %w", payload, err)
	}
	return v, nil
}
