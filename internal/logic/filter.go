package logic

import "time"

// ConfirmWindow is how long a changed pin reading must persist before it is accepted.
const ConfirmWindow = 2 * time.Second

// Edge is a confirmed change of a filtered signal.
type Edge struct {
	To bool
	At time.Time
}

// SignalFilterState is the debounce bookkeeping of a SignalFilter.
type SignalFilterState struct {
	LastConfirmed bool
	Pending       bool
	// PendingSince is zero when no candidate is pending.
	PendingSince time.Time
}

// SignalFilter turns a noisy boolean reading into confirmed edges.
// It knows nothing about what the signal means; polarity is mapped by the caller.
type SignalFilter struct {
	window time.Duration
	state  SignalFilterState
}

// NewSignalFilter creates a filter whose confirmed value starts at initial.
func NewSignalFilter(window time.Duration, initial bool) *SignalFilter {
	return &SignalFilter{
		window: window,
		state:  SignalFilterState{LastConfirmed: initial},
	}
}

// Observe feeds one raw reading and returns an edge once a change has persisted
// for the confirmation window.
func (f *SignalFilter) Observe(raw bool, now time.Time) (Edge, bool) {
	s := &f.state

	// Back at the confirmed value, drop any candidate
	if raw == s.LastConfirmed {
		s.PendingSince = time.Time{}
		return Edge{}, false
	}

	// New candidate
	if s.PendingSince.IsZero() || s.Pending != raw {
		s.Pending = raw
		s.PendingSince = now
		return Edge{}, false
	}

	// Same candidate, check window
	if since(now, s.PendingSince) >= f.window {
		s.LastConfirmed = raw
		s.PendingSince = time.Time{}
		return Edge{To: raw, At: now}, true
	}

	return Edge{}, false
}

// Confirmed returns the last confirmed value.
func (f *SignalFilter) Confirmed() bool {
	return f.state.LastConfirmed
}

// State returns a copy of the filter bookkeeping.
func (f *SignalFilter) State() SignalFilterState {
	return f.state
}

// DefrostActive maps a raw defrost relay pin level to "defrost running".
// A normally closed contact opens (reads HIGH) during defrost; a normally open
// contact closes (reads LOW).
func DefrostActive(pinHigh, normallyClosed bool) bool {
	if normallyClosed {
		return pinHigh
	}
	return !pinHigh
}
