package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/step-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Day           string     `json:"day"`
	Steps         MetricJSON `json:"steps"`
	Water         MetricJSON `json:"water"`
	Sensor        SensorJSON `json:"sensor"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"event_counts"`
	Config        ConfigJSON `json:"config"`
}

// MetricJSON is one metric's progress towards its goal.
type MetricJSON struct {
	Value    int64  `json:"value"`
	Goal     int64  `json:"goal"`
	Achieved bool   `json:"achieved"`
	Latch    string `json:"latch"`
}

// SensorJSON reports the step counter.
type SensorJSON struct {
	Available   bool   `json:"available"`
	Raw         int64  `json:"raw"`
	Baseline    int64  `json:"baseline"`
	BaselineDay string `json:"baseline_day"`
	LastReading string `json:"last_reading,omitempty"`
}

// MQTTStatus reports broker connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of activity counts.
type CountsJSON struct {
	Readings     int `json:"readings"`
	Rejected     int `json:"rejected"`
	Rollovers    int `json:"rollovers"`
	StepsReached int `json:"steps_reached"`
	WaterReached int `json:"water_reached"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SensorKind  string `json:"sensor"`
	RefreshMs   int64  `json:"refresh_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	NATSURL     string `json:"nats_url,omitempty"`
	Store       string `json:"store"`
	HTTPAddr    string `json:"http_addr"`
}

func metric(value, goal int64, latch logic.Latch) MetricJSON {
	if latch == "" {
		latch = logic.BelowGoal
	}
	return MetricJSON{
		Value:    value,
		Goal:     goal,
		Achieved: goal > 0 && value >= goal,
		Latch:    string(latch),
	}
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.State
	inner := StatusInner{
		Day:   st.Day,
		Steps: metric(st.Steps, snap.Goals.Steps, st.StepsLatch),
		Water: metric(st.WaterML, snap.Goals.WaterML, st.WaterLatch),
		Sensor: SensorJSON{
			Available:   st.SensorAvailable,
			Raw:         st.LastRaw,
			Baseline:    st.Baseline.Value,
			BaselineDay: st.Baseline.Day,
		},
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Readings:     snap.Counts.Readings,
			Rejected:     snap.Counts.Rejected,
			Rollovers:    snap.Counts.Rollovers,
			StepsReached: snap.Counts.StepsReached,
			WaterReached: snap.Counts.WaterReached,
		},
		Config: ConfigJSON{
			SensorKind:  snap.Config.SensorKind,
			RefreshMs:   snap.Config.RefreshMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			NATSURL:     snap.Config.NATSURL,
			Store:       snap.Config.Store,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if !snap.LastReading.IsZero() {
		inner.Sensor.LastReading = snap.LastReading.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for a system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
