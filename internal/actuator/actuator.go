// Package actuator drives the two-wire valve motor through GPIO.
//
// The motor has one output per direction. Both energized at once shorts the
// battery, so every write path goes through Drive, which never lets both
// lines be high, not even between two writes.
package actuator

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/water-tap/internal/gpio"
)

// MotorCommand is the instantaneous drive intent for the valve motor.
type MotorCommand uint8

const (
	Idle MotorCommand = iota
	Open
	Close
)

func (c MotorCommand) String() string {
	switch c {
	case Idle:
		return "IDLE"
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	}
	return fmt.Sprintf("MotorCommand(%d)", uint8(c))
}

// DefaultTripDuration is the time the motor needs for full valve travel.
const DefaultTripDuration = time.Second

// levels maps a command to the (open, close) output levels.
// Any value outside the known set is treated as Idle.
func levels(cmd MotorCommand) (openOn, closeOn bool) {
	switch cmd {
	case Open:
		return true, false
	case Close:
		return false, true
	case Idle:
		return false, false
	}
	return false, false
}

// Driver owns the valve motor outputs. Not safe for concurrent use:
// the tap controller is its only caller.
type Driver struct {
	out     gpio.Writer
	trip    time.Duration
	sleep   func(time.Duration)
	current MotorCommand
}

// NewDriver creates a driver that holds each transition for trip.
// A nil sleep uses time.Sleep.
func NewDriver(out gpio.Writer, trip time.Duration, sleep func(time.Duration)) *Driver {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Driver{out: out, trip: trip, sleep: sleep}
}

// Trip returns the configured trip duration.
func (d *Driver) Trip() time.Duration {
	return d.trip
}

// Current returns the last command that was fully applied.
func (d *Driver) Current() MotorCommand {
	return d.current
}

// Drive sets the outputs for cmd. Lines that must be low are written before
// the line that must be high, and the high line is only written once every
// low write succeeded.
func (d *Driver) Drive(cmd MotorCommand) error {
	openOn, closeOn := levels(cmd)

	var errs []error
	if !openOn {
		if err := d.out.Set(gpio.LineOpen, false); err != nil {
			errs = append(errs, err)
		}
	}
	if !closeOn {
		if err := d.out.Set(gpio.LineClose, false); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("drive %s: %w", cmd, errors.Join(errs...))
	}

	if openOn {
		if err := d.out.Set(gpio.LineOpen, true); err != nil {
			return fmt.Errorf("drive %s: %w", cmd, err)
		}
	}
	if closeOn {
		if err := d.out.Set(gpio.LineClose, true); err != nil {
			return fmt.Errorf("drive %s: %w", cmd, err)
		}
	}

	if !openOn && !closeOn {
		d.current = Idle
	} else {
		d.current = cmd
	}
	return nil
}

// RunTransition energizes cmd for the trip duration and then stops the motor.
// It always runs to completion: the motor is driven back to Idle even when
// energizing failed.
func (d *Driver) RunTransition(cmd MotorCommand) error {
	openOn, closeOn := levels(cmd)
	if !openOn && !closeOn {
		return d.Drive(Idle)
	}

	if err := d.Drive(cmd); err != nil {
		if stopErr := d.Drive(Idle); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}

	d.sleep(d.trip)

	if err := d.Drive(Idle); err != nil {
		return fmt.Errorf("stop after %s: %w", cmd, err)
	}
	return nil
}

// Reset drives both outputs off. Called at power-on before anything else.
func (d *Driver) Reset() error {
	return d.Drive(Idle)
}
