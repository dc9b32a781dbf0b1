package application

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"greenhouse-cloud/internal/observability/metrics"
)

const (
	// DefaultSweepInterval is how often idle state is swept.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultStateTTL is how long a state entry may stay untouched.
	DefaultStateTTL = 2 * time.Hour
)

// Janitor periodically removes idle violation and cooldown state.
type Janitor struct {
	tracker   *ViolationTracker
	cooldowns *CooldownManager
	interval  time.Duration
	ttl       time.Duration
	clock     Clock
	logger    zerolog.Logger

	cron *cron.Cron
}

// JanitorOption customizes the janitor.
type JanitorOption func(*Janitor)

// WithSweepInterval overrides the sweep interval.
func WithSweepInterval(interval time.Duration) JanitorOption {
	return func(j *Janitor) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

// WithStateTTL overrides the idle TTL.
func WithStateTTL(ttl time.Duration) JanitorOption {
	return func(j *Janitor) {
		if ttl > 0 {
			j.ttl = ttl
		}
	}
}

// WithJanitorClock assigns a clock.
func WithJanitorClock(clock Clock) JanitorOption {
	return func(j *Janitor) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// WithJanitorLogger assigns a logger.
func WithJanitorLogger(logger zerolog.Logger) JanitorOption {
	return func(j *Janitor) {
		j.logger = logger
	}
}

// NewJanitor constructs a janitor over the engine's state.
func NewJanitor(tracker *ViolationTracker, cooldowns *CooldownManager, opts ...JanitorOption) (*Janitor, error) {
	if tracker == nil {
		return nil, errors.New("state janitor: nil tracker")
	}
	if cooldowns == nil {
		return nil, errors.New("state janitor: nil cooldown manager")
	}
	j := &Janitor{
		tracker:   tracker,
		cooldowns: cooldowns,
		interval:  DefaultSweepInterval,
		ttl:       DefaultStateTTL,
		clock:     systemClock{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Sweep removes entries idle for longer than the TTL at now.
func (j *Janitor) Sweep(now time.Time) (violations, cooldowns int) {
	cutoff := now.Add(-j.ttl)
	violations = j.tracker.Sweep(cutoff)
	cooldowns = j.cooldowns.Sweep(cutoff, now)

	metrics.AddStateSwept("violation", violations)
	metrics.AddStateSwept("cooldown", cooldowns)
	metrics.SetStateEntries("violation", j.tracker.Len())
	metrics.SetStateEntries("cooldown", j.cooldowns.Len())

	if violations > 0 || cooldowns > 0 {
		j.logger.Info().
			Int("violations_removed", violations).
			Int("cooldowns_removed", cooldowns).
			Msg("idle alert state swept")
	}
	return violations, cooldowns
}

// Start schedules the sweep. It is a no-op when already started.
func (j *Janitor) Start() {
	if j.cron != nil {
		return
	}
	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	j.cron.Schedule(cron.Every(j.interval), cron.FuncJob(func() {
		j.Sweep(j.clock.Now())
	}))
	j.cron.Start()
	j.logger.Info().Dur("interval", j.interval).Dur("ttl", j.ttl).Msg("state janitor started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.cron = nil
}
