package logic

import (
	"fmt"
	"time"
)

const (
	// TriggerDebounce is the minimum spacing between two trigger transitions.
	TriggerDebounce = 5 * time.Second
	// AckDebounce is the minimum spacing between two acknowledgments.
	AckDebounce = 2 * time.Second
	// NotifyCooldown rate limits outbound critical notifications.
	NotifyCooldown = 5 * time.Minute
)

// AlarmState is owned exclusively by AlarmEngine.
type AlarmState struct {
	Active         bool
	Critical       bool
	Acknowledged   bool
	Kind           AlarmKind
	Message        string
	StartedAt      time.Time
	OverThreshold  time.Duration
	TotalTriggered int
	LastTriggerAt  time.Time
	LastAckAt      time.Time
	LastNotifiedAt time.Time
}

// AlarmEngine implements hysteresis and the debounce-guarded
// trigger / clear / acknowledge transitions.
type AlarmEngine struct {
	state AlarmState
	// lastTick is the reference for hysteresis accumulation; zero means
	// the next over-threshold tick only establishes the reference.
	lastTick time.Time
}

// NewAlarmEngine creates an engine that counts hysteresis from startTime.
func NewAlarmEngine(startTime time.Time) *AlarmEngine {
	return &AlarmEngine{lastTick: startTime}
}

// State returns a copy of the alarm state.
func (e *AlarmEngine) State() AlarmState {
	return e.state
}

// Evaluate runs one tick of the alarm logic.
func (e *AlarmEngine) Evaluate(sample Sample, suppressed bool, now time.Time, th Thresholds) Output {
	if suppressed {
		// Hysteresis never spans a defrost or cooldown
		e.state.OverThreshold = 0
		e.lastTick = time.Time{}
		return Output{Skip: SkipSuppressed}
	}

	if !sample.Valid {
		// Keep the counter, but don't credit the unreadable interval
		e.lastTick = now
		return Output{Skip: SkipInvalidSample}
	}

	if sample.Average > th.TempCritical {
		if !e.lastTick.IsZero() {
			e.state.OverThreshold += since(now, e.lastTick)
		}
		e.lastTick = now

		if e.state.OverThreshold >= th.AlertDelay && !e.state.Active && !e.state.Acknowledged {
			msg := formatTemperatureMessage(sample.Average, th.TempCritical)
			return e.trigger(now, AlarmTemperature, true, msg, sample, th)
		}
		return Output{}
	}

	e.lastTick = now
	e.state.OverThreshold = 0
	e.state.Acknowledged = false
	if e.state.Active {
		return e.Clear(now, SourceSensor)
	}
	return Output{}
}

// Trigger raises an alarm of the given kind directly, through the same debounce
// and rate limit as a hysteresis trigger. Returns false if an alarm is already active.
func (e *AlarmEngine) Trigger(now time.Time, kind AlarmKind, critical bool, msg string, sample Sample, th Thresholds) (Output, bool) {
	if e.state.Active {
		return Output{}, false
	}
	out := e.trigger(now, kind, critical, msg, sample, th)
	return out, len(out.Events) > 0
}

func (e *AlarmEngine) trigger(now time.Time, kind AlarmKind, critical bool, msg string, sample Sample, th Thresholds) Output {
	if !e.state.LastTriggerAt.IsZero() && since(now, e.state.LastTriggerAt) < TriggerDebounce {
		return Output{Debounced: []EventKind{EventAlarm}}
	}

	e.state.Active = true
	e.state.Critical = critical
	e.state.Kind = kind
	e.state.Message = msg
	e.state.StartedAt = now
	e.state.TotalTriggered++
	e.state.Acknowledged = false
	e.state.LastTriggerAt = now

	var out Output
	if th.RelayEnabled {
		out.Relay = On
	}
	if th.BuzzerEnabled {
		out.Buzzer = On
	}

	// Only critical alarms are paged, so only they use up the rate limit.
	notify := critical && (e.state.LastNotifiedAt.IsZero() || since(now, e.state.LastNotifiedAt) >= NotifyCooldown)
	if notify {
		e.state.LastNotifiedAt = now
	}

	severity := SeverityWarning
	if critical {
		severity = SeverityCritical
	}
	out.Events = append(out.Events, Event{
		Timestamp:   now,
		Kind:        EventAlarm,
		Source:      SourceSensor,
		Severity:    severity,
		Alarm:       kind,
		Message:     msg,
		Temperature: sample.Average,
		TempValid:   sample.Valid,
		Limit:       th.TempCritical,
		Notify:      notify,
	})
	return out
}

// Clear returns the engine to normal. It is always allowed; an ALARM_CLEAR event
// and output release are only produced when an alarm was active.
func (e *AlarmEngine) Clear(now time.Time, source Source) Output {
	wasActive := e.state.Active

	e.state.Active = false
	e.state.Critical = false
	e.state.Kind = AlarmNone
	e.state.Message = ""
	e.state.Acknowledged = false

	if !wasActive {
		return Output{}
	}
	return Output{
		Relay:  Off,
		Buzzer: Off,
		Events: []Event{{
			Timestamp: now,
			Kind:      EventAlarmClear,
			Source:    source,
			Severity:  SeverityInfo,
		}},
	}
}

// Acknowledge silences an active alarm without clearing it.
// Returns false if there is no active alarm or the call is inside the debounce window.
func (e *AlarmEngine) Acknowledge(now time.Time) (Output, bool) {
	if !e.state.Active {
		return Output{}, false
	}
	if !e.state.LastAckAt.IsZero() && since(now, e.state.LastAckAt) < AckDebounce {
		return Output{Debounced: []EventKind{EventAlarmAck}}, false
	}

	e.state.Acknowledged = true
	e.state.LastAckAt = now

	return Output{
		Relay:  Off,
		Buzzer: Off,
		Events: []Event{{
			Timestamp: now,
			Kind:      EventAlarmAck,
			Source:    SourceManual,
			Severity:  SeverityInfo,
			Alarm:     e.state.Kind,
			Message:   e.state.Message,
		}},
	}, true
}

func formatTemperatureMessage(temp, limit float64) string {
	return fmt.Sprintf("critical temperature: %.1f°C (limit %.1f°C)", temp, limit)
}
