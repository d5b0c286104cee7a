package logic

import "time"

// DoorState tracks the debounced door switch.
type DoorState struct {
	Open       bool
	OpenedAt   time.Time
	TempAtOpen float64
	// HeldOpenReported is set once the held-open event for this opening was emitted.
	HeldOpenReported bool
}

// DoorMonitor debounces the door switch and reports openings.
type DoorMonitor struct {
	filter *SignalFilter
	state  DoorState
}

// NewDoorMonitor creates a monitor that assumes the door starts closed.
func NewDoorMonitor() *DoorMonitor {
	return &DoorMonitor{filter: NewSignalFilter(ConfirmWindow, false)}
}

// State returns a copy of the door state.
func (d *DoorMonitor) State() DoorState {
	return d.state
}

// Observe feeds one door reading. A disabled door input reads as closed.
func (d *DoorMonitor) Observe(pinHigh bool, sample Sample, now time.Time, th Thresholds) []Event {
	open := th.DoorEnabled && pinHigh

	var events []Event
	if edge, ok := d.filter.Observe(open, now); ok {
		if edge.To {
			d.state = DoorState{Open: true, OpenedAt: now, TempAtOpen: sample.Average}
			events = append(events, Event{
				Timestamp:   now,
				Kind:        EventDoor,
				Source:      SourceSensor,
				Severity:    SeverityInfo,
				On:          true,
				Temperature: sample.Average,
				TempValid:   sample.Valid,
			})
		} else {
			events = append(events, Event{
				Timestamp:   now,
				Kind:        EventDoor,
				Source:      SourceSensor,
				Severity:    SeverityInfo,
				On:          false,
				Duration:    since(now, d.state.OpenedAt),
				Temperature: sample.Average,
				TempValid:   sample.Valid,
				TempAtOpen:  d.state.TempAtOpen,
			})
			d.state = DoorState{}
		}
		return events
	}

	if d.state.Open && !d.state.HeldOpenReported && th.DoorOpenMax > 0 {
		if held := since(now, d.state.OpenedAt); held >= th.DoorOpenMax {
			d.state.HeldOpenReported = true
			events = append(events, Event{
				Timestamp:   now,
				Kind:        EventDoor,
				Source:      SourceSensor,
				Severity:    SeverityWarning,
				On:          true,
				HeldOpen:    true,
				Duration:    held,
				Temperature: sample.Average,
				TempValid:   sample.Valid,
			})
		}
	}
	return events
}
