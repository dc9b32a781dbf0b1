package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type stubRuleStore struct {
	mu        sync.Mutex
	rules     map[string][]alerts.AlertRule
	err       error
	lists     int
	triggers  map[string]int
	triggerAt map[string]time.Time
	recordErr error
}

func newStubRuleStore(rules ...alerts.AlertRule) *stubRuleStore {
	s := &stubRuleStore{
		rules:     make(map[string][]alerts.AlertRule),
		triggers:  make(map[string]int),
		triggerAt: make(map[string]time.Time),
	}
	for _, rule := range rules {
		s.rules[rule.SensorID] = append(s.rules[rule.SensorID], rule)
	}
	return s
}

func (s *stubRuleStore) ListEnabledBySensor(_ context.Context, sensorID string) ([]alerts.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.err != nil {
		return nil, s.err
	}
	return append([]alerts.AlertRule(nil), s.rules[sensorID]...), nil
}

func (s *stubRuleStore) RecordTrigger(ctx context.Context, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.recordErr != nil {
		return s.recordErr
	}
	s.triggers[ruleID]++
	s.triggerAt[ruleID] = at
	return nil
}

func (s *stubRuleStore) listCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

type stubSink struct {
	mu      sync.Mutex
	records []alerts.AlertRecord
	err     error
}

func (s *stubSink) CreateAlert(_ context.Context, record *alerts.AlertRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	id := fmt.Sprintf("alert-%d", len(s.records)+1)
	copied := *record
	copied.ID = id
	s.records = append(s.records, copied)
	return id, nil
}

func (s *stubSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type stubPublisher struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (s *stubPublisher) Publish(_ context.Context, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

type stubQueue struct {
	mu            sync.Mutex
	notifications []alerts.Notification
	err           error
}

func (s *stubQueue) Enqueue(_ context.Context, notification alerts.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.notifications = append(s.notifications, notification)
	return nil
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func baseTime() time.Time {
	return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
}

func reading(sensorID string, value float64, at time.Time) alerts.SensorReading {
	return alerts.SensorReading{SensorID: sensorID, Value: value, Unit: "°C", Timestamp: at, SensorName: "Bay 1 Temp"}
}
