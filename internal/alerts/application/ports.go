package application

import (
	"context"
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// RuleStore is the configuration source for alert rules.
type RuleStore interface {
	ListEnabledBySensor(ctx context.Context, sensorID string) ([]alerts.AlertRule, error)
	RecordTrigger(ctx context.Context, ruleID string, triggeredAt time.Time) error
}

// AlertSink persists alert log entries and returns the assigned id.
type AlertSink interface {
	CreateAlert(ctx context.Context, record *alerts.AlertRecord) (string, error)
}

// EventPublisher receives in-process alert events for real-time subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// NotificationQueue accepts alerts for asynchronous delivery. Enqueue must not block.
type NotificationQueue interface {
	Enqueue(ctx context.Context, notification alerts.Notification) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// AlertCreatedEvent is the bus name of AlertCreated.
const AlertCreatedEvent = "alert:created"

// AlertCreated is published after an alert has been persisted.
type AlertCreated struct {
	AlertID    string          `json:"alert_id"`
	RuleID     string          `json:"rule_id"`
	SensorID   string          `json:"sensor_id"`
	FacilityID string          `json:"facility_id"`
	AlertType  string          `json:"alert_type"`
	Severity   alerts.Severity `json:"severity"`
	Message    string          `json:"message"`
	Value      float64         `json:"value"`
	Threshold  float64         `json:"threshold"`
	Unit       string          `json:"unit"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventName implements eventbus.Named.
func (AlertCreated) EventName() string { return AlertCreatedEvent }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
