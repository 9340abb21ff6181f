package storm

import "time"

// Phase is the composite state of the two storm flags.
type Phase int

const (
	// PhaseIdle means no storm is running.
	PhaseIdle Phase = iota
	// PhaseStarting means a storm is running but its damage phase has not
	// begun yet.
	PhaseStarting
	// PhaseActive means the storm is dealing damage and showing its effect.
	PhaseActive
)

// String returns the upper-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseStarting:
		return "STARTING"
	case PhaseActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

func phaseOf(active, damagePhase bool) Phase {
	switch {
	case active && damagePhase:
		return PhaseActive
	case active:
		return PhaseStarting
	default:
		return PhaseIdle
	}
}

// Status is a read-only snapshot of the storm state.
type Status struct {
	Active            bool
	DamagePhaseActive bool
	Phase             Phase
	AutoStormEnabled  bool
	NextAutoStartAt   *time.Time
	CycleID           string
	StartedAt         *time.Time
}

// Remaining returns the time left until the next automatic storm, and false
// when none is scheduled.
func (s Status) Remaining(now time.Time) (time.Duration, bool) {
	if s.NextAutoStartAt == nil {
		return 0, false
	}
	remaining := s.NextAutoStartAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
