package logic

import "time"

// Snapshot is a point-in-time copy of everything the Controller owns.
type Snapshot struct {
	Alarm      AlarmState
	Defrost    DefrostState
	Phase      DefrostPhase
	DefrostPin SignalFilterState
	Door       DoorState
	Sample     Sample
	RelayOn    bool
	BuzzerOn   bool
	Counts     EventCounts
	StartTime  time.Time
}

// Controller composes the defrost filter, the defrost/cooldown tracker, the door
// monitor and the alarm engine. It is driven by a single goroutine: ObservePins
// on every pin poll, Evaluate on every temperature read and the command methods
// in between.
type Controller struct {
	defrostFilter *SignalFilter
	tracker       DefrostTracker
	alarm         *AlarmEngine
	door          *DoorMonitor

	sample   Sample
	relayOn  bool
	buzzerOn bool

	startTime     time.Time
	lastHeartbeat time.Time
	counts        EventCounts
}

// NewController creates a controller at boot. All state starts zero/false and
// the defrost input is assumed inactive until a confirmed edge says otherwise.
func NewController(startTime time.Time) *Controller {
	return &Controller{
		defrostFilter: NewSignalFilter(ConfirmWindow, false),
		alarm:         NewAlarmEngine(startTime),
		door:          NewDoorMonitor(),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Tick processes one combined iteration: the pins, then the sample.
func (c *Controller) Tick(in Input, th Thresholds) Output {
	c.sample = in.Sample
	out := c.observePins(in.DefrostPinHigh, in.DoorPinHigh, in.Time, th)
	out.merge(c.evaluate(in.Time, th))
	c.apply(out)
	return out
}

// ObservePins feeds raw pin levels through the debounce filters. It runs far
// more often than the temperature read so the confirm window has sub-second
// resolution. Door events use the most recent sample.
func (c *Controller) ObservePins(defrostHigh, doorHigh bool, now time.Time, th Thresholds) Output {
	out := c.observePins(defrostHigh, doorHigh, now, th)
	c.apply(out)
	return out
}

// Evaluate records a new temperature sample and runs the alarm engine on it.
func (c *Controller) Evaluate(sample Sample, now time.Time, th Thresholds) Output {
	c.sample = sample
	out := c.evaluate(now, th)
	c.apply(out)
	return out
}

func (c *Controller) observePins(defrostHigh, doorHigh bool, now time.Time, th Thresholds) Output {
	var out Output

	active := DefrostActive(defrostHigh, th.DefrostRelayNC)
	if edge, ok := c.defrostFilter.Observe(active, now); ok {
		if edge.To {
			out.merge(c.enterDefrost(now, SourceRelaySignal))
		} else {
			out.merge(c.exitDefrost(now, SourceRelaySignal, th))
		}
	}
	out.merge(c.updateCooldown(now, th))

	out.Events = append(out.Events, c.door.Observe(doorHigh, c.sample, now, th)...)
	return out
}

func (c *Controller) evaluate(now time.Time, th Thresholds) Output {
	out := c.updateCooldown(now, th)

	eval := c.alarm.Evaluate(c.sample, c.tracker.Suppressed(), now, th)
	if eval.Skip == SkipSuppressed {
		if c.tracker.Phase() == PhaseDefrosting {
			eval.Skip = SkipDefrost
		} else {
			eval.Skip = SkipCooldown
		}
	}
	out.merge(eval)
	return out
}

func (c *Controller) updateCooldown(now time.Time, th Thresholds) Output {
	tr, ok := c.tracker.Update(now, th.DefrostCooldown)
	if !ok {
		return Output{}
	}
	return Output{Events: []Event{{
		Timestamp: tr.At,
		Kind:      EventCooldownEnd,
		Source:    tr.Source,
		Severity:  SeverityInfo,
	}}}
}

// Acknowledge silences the active alarm.
func (c *Controller) Acknowledge(now time.Time) (Output, bool) {
	out, ok := c.alarm.Acknowledge(now)
	c.apply(out)
	return out, ok
}

// ToggleDefrost is the manual defrost override.
func (c *Controller) ToggleDefrost(now time.Time, th Thresholds) Output {
	var out Output
	if c.tracker.Phase() == PhaseDefrosting {
		out = c.exitDefrost(now, SourceManual, th)
	} else {
		out = c.enterDefrost(now, SourceManual)
	}
	c.apply(out)
	return out
}

// SetRelay drives the relay directly, bypassing the alarm engine.
func (c *Controller) SetRelay(on bool, now time.Time) Output {
	sw := Off
	if on {
		sw = On
	}
	out := Output{
		Relay: sw,
		Events: []Event{{
			Timestamp: now,
			Kind:      EventRelay,
			Source:    SourceManual,
			Severity:  SeverityInfo,
			On:        on,
		}},
	}
	c.apply(out)
	return out
}

// TestAlarm raises a non-critical test alarm through the normal trigger path.
// Returns false if an alarm is already active or the trigger was debounced.
func (c *Controller) TestAlarm(now time.Time, th Thresholds) (Output, bool) {
	if c.tracker.Suppressed() {
		return Output{}, false
	}
	out, ok := c.alarm.Trigger(now, AlarmTest, false, "test alarm", c.sample, th)
	c.apply(out)
	return out, ok
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Alarm:      c.alarm.State(),
		Defrost:    c.tracker.State(),
		Phase:      c.tracker.Phase(),
		DefrostPin: c.defrostFilter.State(),
		Door:       c.door.State(),
		Sample:     c.sample,
		RelayOn:    c.relayOn,
		BuzzerOn:   c.buzzerOn,
		Counts:     c.counts,
		StartTime:  c.startTime,
	}
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if interval is <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if since(now, c.lastHeartbeat) < interval {
		return nil
	}

	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    since(now, c.startTime),
		Counts:    c.counts,
	}
}

func (c *Controller) enterDefrost(now time.Time, source Source) Output {
	tr, ok := c.tracker.Start(now, source)
	if !ok {
		return Output{}
	}

	// Defrost is not a fault
	out := c.alarm.Clear(now, source)
	out.Events = append(out.Events, Event{
		Timestamp:   tr.At,
		Kind:        EventDefrostStart,
		Source:      source,
		Severity:    SeverityInfo,
		Temperature: c.sample.Average,
		TempValid:   c.sample.Valid,
	})
	return out
}

func (c *Controller) exitDefrost(now time.Time, source Source, th Thresholds) Output {
	tr, ok := c.tracker.Stop(now, source, th.DefrostCooldown)
	if !ok {
		return Output{}
	}
	return Output{Events: []Event{{
		Timestamp:   tr.At,
		Kind:        EventDefrostEnd,
		Source:      source,
		Severity:    SeverityInfo,
		Duration:    tr.DefrostDuration,
		Temperature: c.sample.Average,
		TempValid:   c.sample.Valid,
	}}}
}

// apply records output states and counts events.
func (c *Controller) apply(out Output) {
	switch out.Relay {
	case On:
		c.relayOn = true
	case Off:
		c.relayOn = false
	}
	switch out.Buzzer {
	case On:
		c.buzzerOn = true
	case Off:
		c.buzzerOn = false
	}

	for _, e := range out.Events {
		switch e.Kind {
		case EventAlarm:
			c.counts.Alarms++
		case EventAlarmClear:
			c.counts.Clears++
		case EventAlarmAck:
			c.counts.Acks++
		case EventDefrostStart:
			c.counts.DefrostStarts++
		case EventDefrostEnd:
			c.counts.DefrostEnds++
		case EventDoor:
			if e.On && !e.HeldOpen {
				c.counts.DoorOpens++
			}
		}
	}
}
