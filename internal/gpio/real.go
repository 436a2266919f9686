//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives outputs on actual hardware using Linux GPIO character device.
type RealWriter struct {
	chip  *gpiocdev.Chip
	lines map[Line]*gpiocdev.Line
}

// NewRealWriter requests the valve lines (and any configured LED lines) as outputs.
// Every line starts de-energized.
func NewRealWriter(chipName string, pins Pins) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	w := &RealWriter{chip: chip, lines: make(map[Line]*gpiocdev.Line)}

	// Valve lines first: if anything below fails, Close leaves them low.
	if err := w.request(LineOpen, pins.Open, gpiocdev.AsOutput(0)); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.request(LineClose, pins.Close, gpiocdev.AsOutput(0)); err != nil {
		w.Close()
		return nil, err
	}

	// The board LEDs sink current: lit when the line is driven low.
	if pins.ActiveLED >= 0 {
		if err := w.request(LineActiveLED, pins.ActiveLED, gpiocdev.AsActiveLow, gpiocdev.AsOutput(0)); err != nil {
			w.Close()
			return nil, err
		}
	}
	if pins.StateLED >= 0 {
		if err := w.request(LineStateLED, pins.StateLED, gpiocdev.AsActiveLow, gpiocdev.AsOutput(0)); err != nil {
			w.Close()
			return nil, err
		}
	}
	if pins.BlinkLED >= 0 {
		if err := w.request(LineBlinkLED, pins.BlinkLED, gpiocdev.AsActiveLow, gpiocdev.AsOutput(0)); err != nil {
			w.Close()
			return nil, err
		}
	}

	return w, nil
}

func (w *RealWriter) request(line Line, offset int, opts ...gpiocdev.LineReqOption) error {
	l, err := w.chip.RequestLine(offset, opts...)
	if err != nil {
		return fmt.Errorf("request %s pin %d: %w", line, offset, err)
	}
	w.lines[line] = l
	return nil
}

// Set writes the logical level of a line. Unconfigured LED lines are ignored.
func (w *RealWriter) Set(line Line, on bool) error {
	l, ok := w.lines[line]
	if !ok {
		if line == LineOpen || line == LineClose {
			return fmt.Errorf("set %s: line not requested", line)
		}
		return nil
	}

	v := 0
	if on {
		v = 1
	}
	if err := l.SetValue(v); err != nil {
		return fmt.Errorf("set %s: %w", line, err)
	}
	return nil
}

// Close de-energizes the valve lines, returns them to input with pull-down
// (matching Pi boot defaults) and releases the chip.
func (w *RealWriter) Close() error {
	var errs []error

	for _, line := range []Line{LineOpen, LineClose} {
		l, ok := w.lines[line]
		if !ok {
			continue
		}
		if err := l.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("reset %s pin: %w", line, err))
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", line, err))
		}
	}
	for line, l := range w.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", line, err))
		}
	}
	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	return errors.Join(errs...)
}
