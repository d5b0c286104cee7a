package logic

import "time"

// DefrostPhase is the state of the defrost/cooldown machine.
type DefrostPhase string

const (
	PhaseIdle       DefrostPhase = "IDLE"
	PhaseDefrosting DefrostPhase = "DEFROSTING"
	PhaseCooldown   DefrostPhase = "COOLDOWN"
)

// DefrostState is owned by DefrostTracker. Active and CooldownActive are never both true.
type DefrostState struct {
	Active            bool
	StartedAt         time.Time
	CooldownActive    bool
	CooldownStartedAt time.Time
	CooldownRemaining time.Duration
}

// DefrostTransition describes a phase change.
type DefrostTransition struct {
	From   DefrostPhase
	To     DefrostPhase
	At     time.Time
	Source Source
	// DefrostDuration is set when leaving DEFROSTING.
	DefrostDuration time.Duration
}

// DefrostTracker owns defrost-active and post-defrost cooldown timers.
type DefrostTracker struct {
	state DefrostState
}

// Phase returns the current phase.
func (t *DefrostTracker) Phase() DefrostPhase {
	switch {
	case t.state.Active:
		return PhaseDefrosting
	case t.state.CooldownActive:
		return PhaseCooldown
	default:
		return PhaseIdle
	}
}

// Suppressed reports whether alarms must be held off.
func (t *DefrostTracker) Suppressed() bool {
	return t.state.Active || t.state.CooldownActive
}

// State returns a copy of the tracker state.
func (t *DefrostTracker) State() DefrostState {
	return t.state
}

// Start enters DEFROSTING from IDLE or COOLDOWN. Any running cooldown is cancelled.
// Returns false if already defrosting.
func (t *DefrostTracker) Start(now time.Time, source Source) (DefrostTransition, bool) {
	if t.state.Active {
		return DefrostTransition{}, false
	}
	from := t.Phase()

	t.state.CooldownActive = false
	t.state.CooldownRemaining = 0
	t.state.CooldownStartedAt = time.Time{}
	t.state.Active = true
	t.state.StartedAt = now

	return DefrostTransition{From: from, To: PhaseDefrosting, At: now, Source: source}, true
}

// Stop leaves DEFROSTING and starts a cooldown of the given length.
// Returns false if not defrosting.
func (t *DefrostTracker) Stop(now time.Time, source Source, cooldown time.Duration) (DefrostTransition, bool) {
	if !t.state.Active {
		return DefrostTransition{}, false
	}
	if cooldown < 0 {
		cooldown = 0
	}
	tr := DefrostTransition{
		From:            PhaseDefrosting,
		To:              PhaseCooldown,
		At:              now,
		Source:          source,
		DefrostDuration: since(now, t.state.StartedAt),
	}

	t.state.Active = false
	t.state.StartedAt = time.Time{}
	t.state.CooldownActive = true
	t.state.CooldownStartedAt = now
	t.state.CooldownRemaining = cooldown

	return tr, true
}

// Toggle is the manual override: DEFROSTING goes to COOLDOWN, anything else to DEFROSTING.
func (t *DefrostTracker) Toggle(now time.Time, cooldown time.Duration) DefrostTransition {
	if t.state.Active {
		tr, _ := t.Stop(now, SourceManual, cooldown)
		return tr
	}
	tr, _ := t.Start(now, SourceManual)
	return tr
}

// Update recomputes the cooldown countdown against the current cooldown length
// and returns the COOLDOWN -> IDLE transition when it runs out.
func (t *DefrostTracker) Update(now time.Time, cooldown time.Duration) (DefrostTransition, bool) {
	if !t.state.CooldownActive {
		return DefrostTransition{}, false
	}

	elapsed := since(now, t.state.CooldownStartedAt)
	if elapsed < cooldown {
		t.state.CooldownRemaining = cooldown - elapsed
		return DefrostTransition{}, false
	}

	t.state.CooldownActive = false
	t.state.CooldownRemaining = 0
	t.state.CooldownStartedAt = time.Time{}
	return DefrostTransition{From: PhaseCooldown, To: PhaseIdle, At: now, Source: SourceSystem}, true
}
