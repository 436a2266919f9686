// Package tap runs the water tap node: it owns the tap state, synchronizes it
// with the controller once per wake cycle and drives valve transitions.
//
// Everything happens on the goroutine that calls Run. Inbound messages are
// drained from the transport's inbox only at the two suspension points (the
// reply wait and the sleep), so message handling never overlaps a transition.
package tap

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sweeney/water-tap/internal/actuator"
	"github.com/sweeney/water-tap/internal/logic"
	"github.com/sweeney/water-tap/internal/metrics"
	"github.com/sweeney/water-tap/internal/mysensors"
	"github.com/sweeney/water-tap/internal/status"
)

// Sketch identification sent during presentation.
const (
	SketchName    = "Water Tap"
	SketchVersion = "0.1"
)

// Default timings.
const (
	DefaultReplyTimeout   = 3 * time.Second
	DefaultWakeInterval   = 10 * time.Second
	DefaultSmartSleepWait = 50 * time.Millisecond
)

// Actuator runs timed valve transitions.
type Actuator interface {
	RunTransition(cmd actuator.MotorCommand) error
	Reset() error
}

// Transport is the part of the MQTT transport the controller needs.
type Transport interface {
	Send(msg mysensors.Message) error
	Inbox() <-chan mysensors.Message
}

// Indicator shows diagnostic state. It has no effect on correctness.
type Indicator interface {
	Active(on bool)
	State(open bool)
	Blink()
}

// Config holds the node id and cycle timings.
type Config struct {
	NodeID         int
	ReplyTimeout   time.Duration
	WakeInterval   time.Duration
	SmartSleepWait time.Duration
}

// Options holds optional collaborators. Zero values are valid.
type Options struct {
	Indicator Indicator
	Tracker   *status.Tracker
	Metrics   *metrics.Metrics

	// Now defaults to time.Now, After to time.After.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Controller owns the tap state. Not safe for concurrent use.
type Controller struct {
	cfg     Config
	act     Actuator
	tr      Transport
	leds    Indicator
	tracker *status.Tracker
	metrics *metrics.Metrics
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	state  logic.TapState
	counts logic.Counts
}

// New creates a controller in the boot state (Closed).
func New(cfg Config, act Actuator, tr Transport, opts Options) *Controller {
	c := &Controller{
		cfg:     cfg,
		act:     act,
		tr:      tr,
		leds:    opts.Indicator,
		tracker: opts.Tracker,
		metrics: opts.Metrics,
		now:     opts.Now,
		after:   opts.After,
		state:   logic.StateClosed,
	}
	if c.leds == nil {
		c.leds = nopIndicator{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.after == nil {
		c.after = time.After
	}
	return c
}

// State returns the current tap state.
func (c *Controller) State() logic.TapState {
	return c.state
}

// Counts returns activity counts since startup.
func (c *Controller) Counts() logic.Counts {
	return c.counts
}

// PowerOn puts the hardware in its safe state: both motor outputs off,
// active LED on, state LED off, then the init blink.
// It must run before the transport is touched.
func (c *Controller) PowerOn() error {
	err := c.act.Reset()
	c.leds.Active(true)
	c.leds.State(false)
	c.leds.Blink()
	c.metrics.SetOpen(false)
	c.publish()
	return err
}

// Present announces the sketch and its two children to the controller.
func (c *Controller) Present() error {
	node := c.cfg.NodeID
	msgs := []mysensors.Message{
		mysensors.Internal(node, mysensors.InternalSketchName, SketchName),
		mysensors.Internal(node, mysensors.InternalSketchVersion, SketchVersion),
		mysensors.Presentation(node, mysensors.ChildTap, mysensors.SensorBinary, ""),
		mysensors.Presentation(node, mysensors.ChildTemperature, mysensors.SensorTemp, ""),
	}

	var errs []error
	for _, m := range msgs {
		if err := c.tr.Send(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleMessage applies one inbound message. It reports whether msg was a
// status value for the tap child, i.e. the reply a wake cycle waits for.
func (c *Controller) HandleMessage(msg mysensors.Message) bool {
	if !msg.IsStatus() {
		log.Printf("tap: ignoring %s message of type %d", msg.Command, msg.Type)
		c.ignore(metrics.ReasonUnknownType)
		return false
	}
	if msg.ChildID != mysensors.ChildTap {
		log.Printf("tap: status for unknown child %d", msg.ChildID)
		c.ignore(metrics.ReasonUnknownChild)
		return false
	}

	value, err := logic.ParseValue(msg.Payload)
	if err != nil {
		log.Printf("tap: %v", err)
		c.reject()
		return true
	}

	c.apply(logic.Decide(c.state, value), value)
	return true
}

func (c *Controller) apply(d logic.Decision, value int) {
	switch d.Action {
	case logic.ActionNone:
		return
	case logic.ActionOpen:
		c.transition(actuator.Open, d.Target)
	case logic.ActionClose:
		c.transition(actuator.Close, d.Target)
	case logic.ActionReject:
		log.Printf("tap: unknown state value %d received (0=closed, 1=open)", value)
		c.reject()
	}
}

// transition runs the motor and commits target only if the whole sequence
// completed.
func (c *Controller) transition(cmd actuator.MotorCommand, target logic.TapState) {
	direction := directionLabel(cmd)
	log.Printf("tap: %s -> %s", c.state, target)

	if err := c.act.RunTransition(cmd); err != nil {
		log.Printf("tap: %s transition failed, holding %s: %v", direction, c.state, err)
		c.counts.Failed++
		c.metrics.TransitionFailed(direction)
		c.publish()
		return
	}

	c.state = target
	if target == logic.StateOpen {
		c.counts.Opens++
	} else {
		c.counts.Closes++
	}
	c.leds.State(target == logic.StateOpen)
	c.metrics.Transition(direction)
	c.metrics.SetOpen(target == logic.StateOpen)
	c.publish()

	report := mysensors.Set(c.cfg.NodeID, mysensors.ChildTap, mysensors.TypeStatus, int(target))
	if err := c.tr.Send(report); err != nil {
		log.Printf("tap: state report: %v", err)
	}
}

// RunCycle performs the awake part of one wake cycle: request the desired
// state and wait up to the reply timeout. Silence changes nothing.
// It returns whether the reply arrived; the error is non-nil only if ctx
// was cancelled while waiting.
func (c *Controller) RunCycle(ctx context.Context) (bool, error) {
	c.counts.Cycles++
	c.metrics.CycleStarted()
	c.leds.Active(true)

	req := mysensors.Request(c.cfg.NodeID, mysensors.ChildTap, mysensors.TypeStatus)
	if err := c.tr.Send(req); err != nil {
		log.Printf("tap: request state: %v", err)
	}

	replied, err := c.await(ctx, c.cfg.ReplyTimeout)
	c.leds.Active(false)
	if err != nil {
		return false, err
	}

	if replied {
		c.counts.Replies++
	} else {
		c.counts.Timeouts++
		log.Printf("tap: no reply within %v, holding %s", c.cfg.ReplyTimeout, c.state)
	}
	c.metrics.CycleFinished(replied)
	if c.tracker != nil {
		c.tracker.MarkCycle(c.now(), replied)
	}
	c.publish()
	return replied, nil
}

// Sleep is the idle part of a wake cycle. Messages that arrive meanwhile are
// still handled.
func (c *Controller) Sleep(ctx context.Context) error {
	if err := c.tr.Send(mysensors.PreSleep(c.cfg.NodeID, c.cfg.WakeInterval)); err != nil {
		log.Printf("tap: pre-sleep notification: %v", err)
	}

	// Grace period for messages the gateway held while we were awake.
	if err := c.drain(ctx, c.cfg.SmartSleepWait); err != nil {
		return err
	}
	if err := c.drain(ctx, c.cfg.WakeInterval); err != nil {
		return err
	}

	if err := c.tr.Send(mysensors.PostSleep(c.cfg.NodeID)); err != nil {
		log.Printf("tap: post-sleep notification: %v", err)
	}
	return nil
}

// Run repeats wake cycles until ctx is cancelled. A transition in progress
// always completes first.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.RunCycle(ctx); err != nil {
			return ignoreCancel(err)
		}
		if err := c.Sleep(ctx); err != nil {
			return ignoreCancel(err)
		}
	}
}

// await handles inbound messages until the awaited reply arrives or timeout.
func (c *Controller) await(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := c.after(timeout)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case msg := <-c.tr.Inbox():
			if c.HandleMessage(msg) {
				return true, nil
			}
		case <-deadline:
			return false, nil
		}
	}
}

// drain handles inbound messages for d.
func (c *Controller) drain(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := c.after(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.tr.Inbox():
			c.HandleMessage(msg)
		case <-done:
			return nil
		}
	}
}

func (c *Controller) ignore(reason string) {
	c.counts.Ignored++
	c.metrics.Ignored(reason)
	c.publish()
}

func (c *Controller) reject() {
	c.counts.Rejected++
	c.metrics.Ignored(metrics.ReasonBadValue)
	c.publish()
}

func (c *Controller) publish() {
	if c.tracker != nil {
		c.tracker.Update(c.state, c.counts)
	}
}

func directionLabel(cmd actuator.MotorCommand) string {
	if cmd == actuator.Open {
		return "open"
	}
	return "close"
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

type nopIndicator struct{}

func (nopIndicator) Active(bool) {}
func (nopIndicator) State(bool)  {}
func (nopIndicator) Blink()      {}
