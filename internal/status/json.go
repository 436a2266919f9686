package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Tap           string       `json:"tap"`
	Synced        bool         `json:"synced"`
	LastCycle     string       `json:"last_cycle,omitempty"`
	LastReply     string       `json:"last_reply,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of controller counts.
type CountsJSON struct {
	Cycles   int `json:"cycles"`
	Replies  int `json:"replies"`
	Timeouts int `json:"timeouts"`
	Opens    int `json:"opens"`
	Closes   int `json:"closes"`
	Rejected int `json:"rejected"`
	Ignored  int `json:"ignored"`
	Failed   int `json:"failed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	NodeID           int    `json:"node_id"`
	TripMs           int64  `json:"trip_ms"`
	WaitMs           int64  `json:"wait_ms"`
	WakeMs           int64  `json:"wake_ms"`
	SmartSleepWaitMs int64  `json:"smart_sleep_wait_ms"`
	Broker           string `json:"broker"`
	HTTPAddr         string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Counts
	return StatusInner{
		Tap:           snap.Tap.String(),
		Synced:        snap.Synced,
		LastCycle:     formatTime(snap.LastCycle),
		LastReply:     formatTime(snap.LastReply),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Cycles:   c.Cycles,
			Replies:  c.Replies,
			Timeouts: c.Timeouts,
			Opens:    c.Opens,
			Closes:   c.Closes,
			Rejected: c.Rejected,
			Ignored:  c.Ignored,
			Failed:   c.Failed,
		},
		Config: ConfigJSON{
			NodeID:           snap.Config.NodeID,
			TripMs:           snap.Config.TripMs,
			WaitMs:           snap.Config.WaitMs,
			WakeMs:           snap.Config.WakeMs,
			SmartSleepWaitMs: snap.Config.SmartSleepWaitMs,
			Broker:           snap.Config.Broker,
			HTTPAddr:         snap.Config.HTTPAddr,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
