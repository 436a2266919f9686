// Package status provides a thread-safe status tracker for the water-tap daemon.
// It is read by HTTP handlers while the controller goroutine writes to it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/water-tap/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	NodeID           int
	TripMs           int64
	WaitMs           int64
	WakeMs           int64
	SmartSleepWaitMs int64
	Broker           string
	HTTPAddr         string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Tap           logic.TapState
	Synced        bool // at least one reply received since startup
	Counts        logic.Counts
	LastCycle     time.Time
	LastReply     time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the tap state and activity counts.
func (t *Tracker) Update(tap logic.TapState, counts logic.Counts) {
	t.mu.Lock()
	t.snap.Tap = tap
	t.snap.Counts = counts
	t.mu.Unlock()
}

// MarkCycle records the end of a wake cycle at when.
func (t *Tracker) MarkCycle(when time.Time, replied bool) {
	t.mu.Lock()
	t.snap.LastCycle = when
	if replied {
		t.snap.LastReply = when
		t.snap.Synced = true
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
