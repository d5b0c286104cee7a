// Package logic contains the alarm, defrost and cooldown state machines for cold-storage monitoring.
// This package has NO external dependencies (no GPIO, MQTT, HTTP, OS, or time.Sleep).
// Time is always injectable via time.Time parameters, sampled once per tick by the caller.
package logic

import "time"

// Sample is one temperature reading cycle as delivered by the sensor layer.
type Sample struct {
	Average float64
	Valid   bool
}

// Thresholds is the live configuration the core reads on every tick.
type Thresholds struct {
	TempCritical    float64
	AlertDelay      time.Duration
	DefrostCooldown time.Duration
	DefrostRelayNC  bool
	RelayEnabled    bool
	BuzzerEnabled   bool
	DoorEnabled     bool
	DoorOpenMax     time.Duration
}

// EventKind identifies what happened.
type EventKind string

const (
	EventDefrostStart EventKind = "DEFROST_START"
	EventDefrostEnd   EventKind = "DEFROST_END"
	EventCooldownEnd  EventKind = "COOLDOWN_END"
	EventAlarm        EventKind = "ALARM"
	EventAlarmClear   EventKind = "ALARM_CLEAR"
	EventAlarmAck     EventKind = "ALARM_ACK"
	EventRelay        EventKind = "RELAY"
	EventPower        EventKind = "POWER"
	EventDoor         EventKind = "DOOR"
)

// Severity of an event, rendered to text only at the notification boundary.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlarmKind distinguishes why an alarm was raised.
type AlarmKind string

const (
	AlarmNone        AlarmKind = ""
	AlarmTemperature AlarmKind = "temperature"
	AlarmTest        AlarmKind = "test"
)

// Source labels who caused a transition.
type Source string

const (
	SourceRelaySignal Source = "relay_signal"
	SourceManual      Source = "manual"
	SourceSensor      Source = "sensor"
	SourceSystem      Source = "system"
)

// Event is a state transition to be delivered to notification channels.
type Event struct {
	Timestamp   time.Time
	Kind        EventKind
	Source      Source
	Severity    Severity
	Alarm       AlarmKind
	Message     string
	Temperature float64
	TempValid   bool
	Limit       float64
	// Duration is the defrost length (DEFROST_END), door open time (DOOR close)
	// or outage length (POWER), zero otherwise.
	Duration time.Duration
	// Notify is set on ALARM events whose critical notification is not rate limited.
	Notify bool
	// On carries the new state for RELAY and DOOR events.
	On       bool
	HeldOpen bool
	// TempAtOpen is set on DOOR close events.
	TempAtOpen float64
	// Battery is the backup battery voltage on POWER events, zero when no gauge is fitted.
	Battery float64
}

// Switch is a requested change to an output.
type Switch int

const (
	Keep Switch = iota
	On
	Off
)

// SkipReason says why the alarm evaluation did not run for a tick.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipInvalidSample SkipReason = "invalid_sample"
	SkipSuppressed    SkipReason = "suppressed"
	SkipDefrost       SkipReason = "defrost"
	SkipCooldown      SkipReason = "cooldown"
)

// Output is what a tick or a command asks the outside world to do.
type Output struct {
	Events []Event
	Relay  Switch
	Buzzer Switch
	Skip   SkipReason
	// Debounced lists transitions that were attempted inside their debounce window.
	Debounced []EventKind
}

// merge folds o into out. Later switch requests win.
func (out *Output) merge(o Output) {
	out.Events = append(out.Events, o.Events...)
	if o.Relay != Keep {
		out.Relay = o.Relay
	}
	if o.Buzzer != Keep {
		out.Buzzer = o.Buzzer
	}
	if o.Skip != SkipNone {
		out.Skip = o.Skip
	}
	out.Debounced = append(out.Debounced, o.Debounced...)
}

// Input is a single tick of sensor and pin readings.
type Input struct {
	Sample Sample
	// DefrostPinHigh is the raw level of the defrost relay input.
	DefrostPinHigh bool
	// DoorPinHigh is the raw level of the door switch; HIGH means open.
	DoorPinHigh bool
	Time        time.Time
}

// EventCounts tracks the number of each transition since startup.
type EventCounts struct {
	Alarms        int
	Clears        int
	Acks          int
	DefrostStarts int
	DefrostEnds   int
	DoorOpens     int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

// since returns now-then, clamped at zero so a clock step backwards never
// produces a negative duration.
func since(now, then time.Time) time.Duration {
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return d
}
