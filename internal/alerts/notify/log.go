package notify

import (
	"context"

	"github.com/rs/zerolog"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// LogChannel writes alerts to the structured log. It stands in for email, SMS
// and push delivery, which are handled by services outside this process.
type LogChannel struct {
	name   string
	logger zerolog.Logger
}

// NewLogChannel constructs a log channel reported under name.
func NewLogChannel(name string, logger zerolog.Logger) *LogChannel {
	return &LogChannel{name: name, logger: logger}
}

// Name implements Channel.
func (l *LogChannel) Name() string { return l.name }

// Send implements Channel.
func (l *LogChannel) Send(_ context.Context, alert alerts.AlertRecord) error {
	l.logger.Info().
		Str("channel", l.name).
		Str("alert_id", alert.ID).
		Str("rule_id", alert.RuleID).
		Str("sensor_id", alert.SensorID).
		Str("facility_id", alert.FacilityID).
		Str("severity", string(alert.Severity)).
		Float64("value", alert.TriggeredValue).
		Msg(alert.Message)
	return nil
}
