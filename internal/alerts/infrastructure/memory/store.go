package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// Store keeps alert rules and fired alerts in process memory. It serves local
// runs without Postgres.
type Store struct {
	mu     sync.RWMutex
	rules  map[string]alerts.AlertRule
	alerts []alerts.AlertRecord
	limit  int
}

// NewStore constructs a store retaining at most limit alerts (0 keeps everything).
func NewStore(limit int) *Store {
	return &Store{rules: make(map[string]alerts.AlertRule), limit: limit}
}

// Seed validates and stores rules, replacing rules with the same id.
func (s *Store) Seed(rules []alerts.AlertRule) error {
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rule := range rules {
		rule.Severity = alerts.ParseSeverity(string(rule.Severity))
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now
		rule.Actions = append([]string(nil), rule.Actions...)
		s.rules[rule.ID] = rule
	}
	return nil
}

// GetByID returns a copy of the rule.
func (s *Store) GetByID(_ context.Context, ruleID string) (*alerts.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return nil, alerts.ErrRuleNotFound
	}
	return &rule, nil
}

// ListEnabledBySensor returns enabled rules for sensorID ordered by creation.
func (s *Store) ListEnabledBySensor(_ context.Context, sensorID string) ([]alerts.AlertRule, error) {
	if sensorID == "" {
		return nil, errors.New("memory store: invalid query")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []alerts.AlertRule
	for _, rule := range s.rules {
		if rule.SensorID == sensorID && rule.Enabled {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// RecordTrigger increments the trigger count of ruleID.
func (s *Store) RecordTrigger(_ context.Context, ruleID string, triggeredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return alerts.ErrRuleNotFound
	}
	at := triggeredAt.UTC()
	rule.TriggerCount++
	rule.LastTriggeredAt = &at
	rule.UpdatedAt = time.Now().UTC()
	s.rules[ruleID] = rule
	return nil
}

// CreateAlert appends record and returns its id.
func (s *Store) CreateAlert(_ context.Context, record *alerts.AlertRecord) (string, error) {
	if record == nil {
		return "", errors.New("memory store: nil record")
	}
	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, stored)
	if s.limit > 0 && len(s.alerts) > s.limit {
		s.alerts = append([]alerts.AlertRecord(nil), s.alerts[len(s.alerts)-s.limit:]...)
	}
	return stored.ID, nil
}

// ListByFacility returns alerts triggered in [from, to) for facilityID, newest first.
func (s *Store) ListByFacility(_ context.Context, facilityID string, from, to time.Time, limit int) ([]alerts.AlertRecord, error) {
	if facilityID == "" {
		return nil, errors.New("memory store: invalid query")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []alerts.AlertRecord
	for i := len(s.alerts) - 1; i >= 0; i-- {
		record := s.alerts[i]
		if record.FacilityID != facilityID {
			continue
		}
		if !from.IsZero() && record.TriggeredAt.Before(from) {
			continue
		}
		if !to.IsZero() && !record.TriggeredAt.Before(to) {
			continue
		}
		result = append(result, record)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TriggeredAt.After(result[j].TriggeredAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
