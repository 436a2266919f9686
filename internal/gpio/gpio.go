// Package gpio provides GPIO output driving with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation records every write for testing without hardware.
package gpio

// Line identifies one output driven by the daemon.
type Line int

const (
	LineOpen      Line = iota // valve motor, open direction
	LineClose                 // valve motor, close direction
	LineActiveLED             // lit while the node is awake
	LineStateLED              // lit while the tap is open
	LineBlinkLED              // power-on blink
)

func (l Line) String() string {
	switch l {
	case LineOpen:
		return "open"
	case LineClose:
		return "close"
	case LineActiveLED:
		return "active-led"
	case LineStateLED:
		return "state-led"
	case LineBlinkLED:
		return "blink-led"
	}
	return "unknown"
}

// Writer sets GPIO output levels.
type Writer interface {
	// Set energizes (on=true) or de-energizes a line.
	// LED lines are logical: on means lit, whatever the wiring polarity.
	Set(line Line, on bool) error

	// Close de-energizes all lines and releases GPIO resources.
	Close() error
}

// Pins holds line offsets on the GPIO chip. A negative LED offset disables that LED.
type Pins struct {
	Open      int
	Close     int
	ActiveLED int
	StateLED  int
	BlinkLED  int
}

// Default pin offsets for the valve driver board.
const (
	DefaultPinOpen  = 13
	DefaultPinClose = 15
)
