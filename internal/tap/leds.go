package tap

import (
	"log"
	"time"

	"github.com/sweeney/water-tap/internal/gpio"
)

// LEDs drives the diagnostic LEDs. Outside debug mode they stay dark to save
// power; only the power-on blink is always shown.
type LEDs struct {
	out   gpio.Writer
	debug bool
	blink gpio.Line
	sleep func(time.Duration)
}

// NewLEDs creates an Indicator on the LED lines of out.
// A nil sleep uses time.Sleep.
func NewLEDs(out gpio.Writer, debug bool, sleep func(time.Duration)) *LEDs {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &LEDs{out: out, debug: debug, blink: gpio.LineStateLED, sleep: sleep}
}

// Active lights the active LED while the node is awake.
func (l *LEDs) Active(on bool) {
	l.set(gpio.LineActiveLED, on && l.debug)
}

// State lights the state LED while the tap is open.
func (l *LEDs) State(open bool) {
	l.set(gpio.LineStateLED, open && l.debug)
}

// SetBlinkLine moves the power-on blink to its own LED.
// By default it shares the state LED.
func (l *LEDs) SetBlinkLine(line gpio.Line) {
	l.blink = line
}

// Blink signals "initialization done": three short flashes.
func (l *LEDs) Blink() {
	for i := 0; i < 3; i++ {
		l.set(l.blink, true)
		l.sleep(100 * time.Millisecond)
		l.set(l.blink, false)
		l.sleep(300 * time.Millisecond)
	}
}

func (l *LEDs) set(line gpio.Line, on bool) {
	if err := l.out.Set(line, on); err != nil {
		log.Printf("tap: %s led: %v", line, err)
	}
}
