package application

import (
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// CooldownManager suppresses repeated alerts for the same rule.
type CooldownManager struct {
	entries *StateStore[cooldownRecord]
	clock   Clock
}

type cooldownRecord struct {
	entry alerts.CooldownEntry
	until time.Time
}

// NewCooldownManager constructs a cooldown manager.
func NewCooldownManager(clock Clock) *CooldownManager {
	if clock == nil {
		clock = systemClock{}
	}
	return &CooldownManager{entries: NewStateStore[cooldownRecord](), clock: clock}
}

// IsInCooldown reports whether a fire at now is suppressed for ruleID.
func (m *CooldownManager) IsInCooldown(ruleID string, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return false
	}
	record, ok := m.entries.Get(ruleID)
	if !ok {
		return false
	}
	return now.Sub(record.entry.LastFiredAt) < cooldown
}

// RecordFire stamps the last fire time for ruleID.
func (m *CooldownManager) RecordFire(ruleID string, cooldown time.Duration, now time.Time) {
	m.entries.Update(ruleID, m.clock.Now(), func(record *cooldownRecord, _ bool) bool {
		record.entry.LastFiredAt = now
		record.until = now.Add(cooldown)
		return true
	})
}

// LastFired returns the cooldown entry for ruleID.
func (m *CooldownManager) LastFired(ruleID string) (alerts.CooldownEntry, bool) {
	record, ok := m.entries.Get(ruleID)
	return record.entry, ok
}

// Sweep removes entries untouched since cutoff whose cooldown window ended before now.
func (m *CooldownManager) Sweep(cutoff, now time.Time) int {
	return m.entries.Sweep(cutoff, func(record cooldownRecord) bool {
		return !record.until.After(now)
	})
}

// Len returns the number of cooldown entries.
func (m *CooldownManager) Len() int {
	return m.entries.Len()
}
