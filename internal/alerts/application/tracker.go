package application

import (
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// Phase is the violation state of one rule.
type Phase int

const (
	PhaseNoViolation Phase = iota
	PhaseTracking
	PhaseConfirmed
)

func (p Phase) String() string {
	switch p {
	case PhaseTracking:
		return "tracking"
	case PhaseConfirmed:
		return "confirmed"
	default:
		return "no_violation"
	}
}

// EvaluateFunc evaluates a reading against the rule's current state.
type EvaluateFunc func(state *alerts.ViolationState) (*alerts.Violation, error)

// ViolationTracker enforces sustained-duration semantics per rule and sensor.
type ViolationTracker struct {
	states *StateStore[alerts.ViolationState]
	clock  Clock
}

// NewViolationTracker constructs a tracker.
func NewViolationTracker(clock Clock) *ViolationTracker {
	if clock == nil {
		clock = systemClock{}
	}
	return &ViolationTracker{states: NewStateStore[alerts.ViolationState](), clock: clock}
}

// Observe runs eval against the stored state and advances the state machine, all
// under the key's lock. A failed evaluation leaves the state as it was.
func (t *ViolationTracker) Observe(rule alerts.AlertRule, reading alerts.SensorReading, eval EvaluateFunc) (Phase, *alerts.Violation, error) {
	var (
		phase     Phase
		violation *alerts.Violation
		evalErr   error
	)
	t.states.Update(stateKey(rule.ID, reading.SensorID), t.clock.Now(), func(state *alerts.ViolationState, exists bool) bool {
		before := *state
		violation, evalErr = eval(state)
		if evalErr != nil {
			*state = before
			return exists
		}
		phase = advance(rule, state, violation != nil, reading.Timestamp)
		return state.Tracking() || state.HasSample
	})
	return phase, violation, evalErr
}

// State returns the stored state for rule and sensor.
func (t *ViolationTracker) State(ruleID, sensorID string) (alerts.ViolationState, bool) {
	return t.states.Get(stateKey(ruleID, sensorID))
}

// Sweep removes states untouched since cutoff.
func (t *ViolationTracker) Sweep(cutoff time.Time) int {
	return t.states.Sweep(cutoff, nil)
}

// Len returns the number of tracked states.
func (t *ViolationTracker) Len() int {
	return t.states.Len()
}

func advance(rule alerts.AlertRule, state *alerts.ViolationState, breached bool, at time.Time) Phase {
	if !breached {
		state.StartTime = time.Time{}
		state.ViolationCount = 0
		state.Confirmed = false
		return PhaseNoViolation
	}
	if !state.Tracking() {
		state.StartTime = at
		state.ViolationCount = 1
		state.Confirmed = rule.Duration() == 0
		if state.Confirmed {
			return PhaseConfirmed
		}
		return PhaseTracking
	}
	state.ViolationCount++
	if state.Confirmed {
		return PhaseConfirmed
	}
	if at.Sub(state.StartTime) >= rule.Duration() {
		state.Confirmed = true
		return PhaseConfirmed
	}
	return PhaseTracking
}

func stateKey(ruleID, sensorID string) string {
	return ruleID + "|" + sensorID
}
