package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/observability/metrics"
)

const (
	outcomeClear      = "clear"
	outcomeTracking   = "tracking"
	outcomeSuppressed = "suppressed"
	outcomeFired      = "fired"
	outcomeSkipped    = "skipped"
	outcomeError      = "error"
)

// Engine evaluates sensor readings against the active rules of each sensor.
type Engine struct {
	rules      *RuleCache
	dispatcher *Dispatcher
	tracker    *ViolationTracker
	cooldowns  *CooldownManager
	clock      Clock
	logger     zerolog.Logger
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithEngineClock assigns a clock.
func WithEngineClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEngineLogger assigns a logger.
func WithEngineLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithViolationTracker shares a tracker, typically with a Janitor.
func WithViolationTracker(tracker *ViolationTracker) EngineOption {
	return func(e *Engine) {
		if tracker != nil {
			e.tracker = tracker
		}
	}
}

// WithCooldownManager shares a cooldown manager, typically with a Janitor.
func WithCooldownManager(cooldowns *CooldownManager) EngineOption {
	return func(e *Engine) {
		if cooldowns != nil {
			e.cooldowns = cooldowns
		}
	}
}

// NewEngine constructs an engine.
func NewEngine(rules *RuleCache, dispatcher *Dispatcher, opts ...EngineOption) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("alert engine: nil rule cache")
	}
	if dispatcher == nil {
		return nil, errors.New("alert engine: nil dispatcher")
	}
	e := &Engine{
		rules:      rules,
		dispatcher: dispatcher,
		clock:      systemClock{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = NewViolationTracker(e.clock)
	}
	if e.cooldowns == nil {
		e.cooldowns = NewCooldownManager(e.clock)
	}
	return e, nil
}

// Tracker returns the engine's violation tracker.
func (e *Engine) Tracker() *ViolationTracker { return e.tracker }

// Cooldowns returns the engine's cooldown manager.
func (e *Engine) Cooldowns() *CooldownManager { return e.cooldowns }

// DetectAlerts evaluates reading against every active rule for its sensor and
// returns the alerts that were dispatched. It never fails: errors and panics
// are logged per rule and evaluation moves on to the next rule.
// Cancelling ctx never stops evaluation.
func (e *Engine) DetectAlerts(ctx context.Context, reading alerts.SensorReading) []alerts.AlertRecord {
	if e == nil {
		return nil
	}
	start := time.Now()
	defer func() { metrics.ObserveDetect(time.Since(start)) }()

	if reading.Timestamp.IsZero() {
		reading.Timestamp = e.clock.Now()
	}
	log := e.logger.With().Str("sensor_id", reading.SensorID).Logger()

	rules, err := e.rules.GetActiveRules(ctx, reading.SensorID)
	if err != nil {
		log.Error().Err(err).Str("error_kind", alerts.ErrorKind(err)).Msg("load active rules failed")
		metrics.IncAlertError(alerts.ErrorKind(err))
		return nil
	}

	var fired []alerts.AlertRecord
	// Every rule observes the reading even when ctx is done: a safe reading
	// must clear tracking. Only dispatch side effects honour cancellation.
	for _, rule := range rules {
		record, outcome := e.evaluateRule(ctx, rule, reading)
		metrics.IncRuleEvaluation(outcome)
		if record != nil {
			fired = append(fired, *record)
		}
	}
	return fired
}

// InvalidateCache drops cached rules for sensorID, or every sensor when empty.
func (e *Engine) InvalidateCache(sensorID string) {
	if sensorID == "" {
		e.rules.InvalidateAll()
		return
	}
	e.rules.InvalidateCache(sensorID)
}

func (e *Engine) evaluateRule(ctx context.Context, rule alerts.AlertRule, reading alerts.SensorReading) (record *alerts.AlertRecord, outcome string) {
	log := e.logger.With().Str("rule_id", rule.ID).Str("sensor_id", reading.SensorID).Logger()
	defer func() {
		if r := recover(); r != nil {
			metrics.IncPanicRecovered("engine")
			metrics.IncAlertError("panic")
			log.Error().Str("error_kind", "panic").Str("panic", fmt.Sprint(r)).Msg("rule evaluation panicked")
			record, outcome = nil, outcomeError
		}
	}()

	if err := rule.Validate(); err != nil {
		e.logSwallowed(log, err, "invalid rule skipped")
		return nil, outcomeError
	}

	phase, violation, err := e.tracker.Observe(rule, reading, func(state *alerts.ViolationState) (*alerts.Violation, error) {
		return Evaluate(rule, reading, state)
	})
	switch {
	case errors.Is(err, ErrInsufficientInterval):
		log.Debug().Msg("rate reading skipped: insufficient interval")
		return nil, outcomeSkipped
	case err != nil:
		e.logSwallowed(log, err, "rule evaluation failed")
		return nil, outcomeError
	}

	switch phase {
	case PhaseNoViolation:
		return nil, outcomeClear
	case PhaseTracking:
		return nil, outcomeTracking
	}

	now := reading.Timestamp
	if e.cooldowns.IsInCooldown(rule.ID, rule.Cooldown(), now) {
		log.Debug().Msg("confirmed violation suppressed by cooldown")
		return nil, outcomeSuppressed
	}

	dispatched, err := e.dispatcher.Dispatch(ctx, rule, reading, *violation)
	if err != nil {
		e.logSwallowed(log, err, "alert dispatch incomplete")
	}
	if dispatched == nil || dispatched.ID == "" {
		return nil, outcomeError
	}
	e.cooldowns.RecordFire(rule.ID, rule.Cooldown(), now)
	metrics.IncAlertFired(string(rule.Severity))
	log.Info().
		Str("alert_id", dispatched.ID).
		Str("severity", string(rule.Severity)).
		Float64("value", reading.Value).
		Msg("alert fired")
	return dispatched, outcomeFired
}

func (e *Engine) logSwallowed(log zerolog.Logger, err error, msg string) {
	kind := alerts.ErrorKind(err)
	metrics.IncAlertError(kind)
	log.Error().Err(err).Str("error_kind", kind).Msg(msg)
}
