package alerts

import (
	"strings"
	"time"
)

// Condition is the comparison a rule applies to readings.
type Condition string

const (
	ConditionGreater        Condition = "GT"
	ConditionGreaterOrEqual Condition = "GTE"
	ConditionLess           Condition = "LT"
	ConditionLessOrEqual    Condition = "LTE"
	ConditionBetween        Condition = "BETWEEN"
	ConditionRate           Condition = "RATE"
)

// Valid returns true when condition is supported.
func (c Condition) Valid() bool {
	switch c {
	case ConditionGreater, ConditionGreaterOrEqual, ConditionLess, ConditionLessOrEqual, ConditionBetween, ConditionRate:
		return true
	default:
		return false
	}
}

// Symbol returns a short operator form used in messages.
func (c Condition) Symbol() string {
	switch c {
	case ConditionGreater:
		return ">"
	case ConditionGreaterOrEqual:
		return ">="
	case ConditionLess:
		return "<"
	case ConditionLessOrEqual:
		return "<="
	case ConditionBetween:
		return "outside"
	case ConditionRate:
		return "rate >"
	default:
		return string(c)
	}
}

// Severity orders rules and is passed through to alerts.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity normalizes a severity label. Unknown labels map to MEDIUM.
func ParseSeverity(value string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(value))) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Rank returns the ordinal of the severity, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Notification actions understood by the notification queue.
const (
	ActionEmail   = "email"
	ActionSMS     = "sms"
	ActionPush    = "push"
	ActionWebhook = "webhook"
	ActionKafka   = "kafka"
)

// AlertRule defines a monitored condition for one sensor.
type AlertRule struct {
	ID                          string     `json:"id" yaml:"id"`
	SensorID                    string     `json:"sensor_id" yaml:"sensor_id"`
	FacilityID                  string     `json:"facility_id" yaml:"facility_id"`
	Name                        string     `json:"name" yaml:"name"`
	Enabled                     bool       `json:"enabled" yaml:"enabled"`
	AlertType                   string     `json:"alert_type" yaml:"alert_type"`
	Condition                   Condition  `json:"condition" yaml:"condition"`
	Threshold                   float64    `json:"threshold" yaml:"threshold"`
	ThresholdMax                *float64   `json:"threshold_max,omitempty" yaml:"threshold_max"`
	DurationMinutes             *int       `json:"duration_minutes,omitempty" yaml:"duration_minutes"`
	CooldownMinutes             int        `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	Severity                    Severity   `json:"severity" yaml:"severity"`
	NotificationMessageTemplate string     `json:"notification_message_template,omitempty" yaml:"notification_message_template"`
	Actions                     []string   `json:"actions,omitempty" yaml:"actions"`
	TriggerCount                int64      `json:"trigger_count" yaml:"-"`
	LastTriggeredAt             *time.Time `json:"last_triggered_at,omitempty" yaml:"-"`
	CreatedAt                   time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt                   time.Time  `json:"updated_at" yaml:"-"`
}

// Validate checks rule invariants.
func (r AlertRule) Validate() error {
	if r.ID == "" {
		return NewConfigurationError(r.ID, "empty id")
	}
	if r.SensorID == "" {
		return NewConfigurationError(r.ID, "empty sensor id")
	}
	if !r.Condition.Valid() {
		return NewConfigurationError(r.ID, "invalid condition "+string(r.Condition))
	}
	if r.Condition == ConditionBetween {
		if r.ThresholdMax == nil {
			return NewConfigurationError(r.ID, "BETWEEN requires threshold_max")
		}
		if *r.ThresholdMax < r.Threshold {
			return NewConfigurationError(r.ID, "threshold_max below threshold")
		}
	}
	if r.Condition == ConditionRate && r.Threshold <= 0 {
		return NewConfigurationError(r.ID, "RATE requires a positive threshold")
	}
	if r.DurationMinutes != nil && *r.DurationMinutes < 0 {
		return NewConfigurationError(r.ID, "negative duration")
	}
	if r.CooldownMinutes < 0 {
		return NewConfigurationError(r.ID, "negative cooldown")
	}
	return nil
}

// Duration returns the sustained-breach window, zero when unset.
func (r AlertRule) Duration() time.Duration {
	if r.DurationMinutes == nil || *r.DurationMinutes <= 0 {
		return 0
	}
	return time.Duration(*r.DurationMinutes) * time.Minute
}

// Cooldown returns the minimum spacing between fired alerts.
func (r AlertRule) Cooldown() time.Duration {
	if r.CooldownMinutes <= 0 {
		return 0
	}
	return time.Duration(r.CooldownMinutes) * time.Minute
}

// DisplayName returns the rule name or its id.
func (r AlertRule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}
