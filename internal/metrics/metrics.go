// Package metrics exposes tap controller activity as Prometheus metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "water_tap"

// Metrics holds the controller's collectors.
type Metrics struct {
	cycles      prometheus.Counter
	replies     prometheus.Counter
	timeouts    prometheus.Counter
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	ignored     *prometheus.CounterVec
	open        prometheus.Gauge
	connected   prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_cycles_total",
			Help:      "Wake cycles started.",
		}),
		replies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_replies_total",
			Help:      "Wake cycles that received the controller's reply in time.",
		}),
		timeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_timeouts_total",
			Help:      "Wake cycles that timed out waiting for the controller.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "valve_transitions_total",
			Help:      "Committed valve transitions by direction.",
		}, []string{"direction"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "valve_transition_failures_total",
			Help:      "Valve transitions aborted by a GPIO error, by direction.",
		}, []string{"direction"}),
		ignored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ignored_total",
			Help:      "Inbound messages not acted upon, by reason.",
		}, []string{"reason"}),
		open: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valve_open",
			Help:      "1 when the tap is open, 0 when closed.",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 when the broker connection is up.",
		}),
	}
}

// Reasons for ignored messages.
const (
	ReasonUnknownChild = "unknown_child"
	ReasonUnknownType  = "unknown_type"
	ReasonBadValue     = "bad_value"
)

// CycleStarted counts a wake cycle.
func (m *Metrics) CycleStarted() {
	if m == nil {
		return
	}
	m.cycles.Inc()
}

// CycleFinished records whether the cycle's reply arrived before the timeout.
func (m *Metrics) CycleFinished(replied bool) {
	if m == nil {
		return
	}
	if replied {
		m.replies.Inc()
	} else {
		m.timeouts.Inc()
	}
}

// Transition counts a committed valve transition in direction "open" or "close".
func (m *Metrics) Transition(direction string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(direction).Inc()
}

// TransitionFailed counts a transition aborted by a GPIO error.
func (m *Metrics) TransitionFailed(direction string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(direction).Inc()
}

// Ignored counts an inbound message that was not acted upon.
// reason is one of the Reason constants.
func (m *Metrics) Ignored(reason string) {
	if m == nil {
		return
	}
	m.ignored.WithLabelValues(reason).Inc()
}

// SetOpen sets the valve_open gauge.
func (m *Metrics) SetOpen(open bool) {
	if m == nil {
		return
	}
	m.open.Set(boolToFloat(open))
}

// SetConnected sets the mqtt_connected gauge.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	m.connected.Set(boolToFloat(connected))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
