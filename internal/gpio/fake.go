package gpio

import "time"

// Op is one recorded operation on a FakeWriter: either a level write or,
// when Pause is non-zero, a hold recorded through Sleep.
type Op struct {
	Line  Line
	On    bool
	Pause time.Duration
}

// FakeWriter is a test double that records every write and tracks levels.
type FakeWriter struct {
	// Ops contains every write and pause, in order.
	Ops []Op

	// levels holds the current logical level of each line.
	levels map[Line]bool

	// Violations counts writes after which both valve lines were energized.
	Violations int

	// SetErrors, if set for a line, is returned by Set for that line.
	// The level is not changed when an error is returned.
	SetErrors map[Line]error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeWriter creates a FakeWriter with all lines de-energized.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{levels: make(map[Line]bool)}
}

// Set records the write and checks the valve interlock.
func (f *FakeWriter) Set(line Line, on bool) error {
	if err := f.SetErrors[line]; err != nil {
		return err
	}

	f.Ops = append(f.Ops, Op{Line: line, On: on})
	f.levels[line] = on
	if f.levels[LineOpen] && f.levels[LineClose] {
		f.Violations++
	}
	return nil
}

// Sleep records a pause without blocking. Pass it as the driver's sleep func.
func (f *FakeWriter) Sleep(d time.Duration) {
	f.Ops = append(f.Ops, Op{Pause: d})
}

// Level returns the current logical level of a line.
func (f *FakeWriter) Level(line Line) bool {
	return f.levels[line]
}

// Pulses counts the de-energized to energized edges written to a line.
func (f *FakeWriter) Pulses(line Line) int {
	n := 0
	on := false
	for _, op := range f.Ops {
		if op.Pause != 0 || op.Line != line {
			continue
		}
		if op.On && !on {
			n++
		}
		on = op.On
	}
	return n
}

// Energized returns how long the line was held energized in total,
// summing the pauses recorded while it was on.
func (f *FakeWriter) Energized(line Line) time.Duration {
	var total time.Duration
	on := false
	for _, op := range f.Ops {
		if op.Pause != 0 {
			if on {
				total += op.Pause
			}
			continue
		}
		if op.Line == line {
			on = op.On
		}
	}
	return total
}

// Close de-energizes every line and marks the writer as closed.
func (f *FakeWriter) Close() error {
	for line := range f.levels {
		f.levels[line] = false
	}
	f.Closed = true
	return nil
}

// Reset clears recorded operations and levels.
func (f *FakeWriter) Reset() {
	f.Ops = nil
	f.levels = make(map[Line]bool)
	f.Violations = 0
	f.SetErrors = nil
	f.Closed = false
}
