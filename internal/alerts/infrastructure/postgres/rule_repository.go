package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/audit"
	"greenhouse-cloud/internal/auth"
	"greenhouse-cloud/internal/observability/metrics"
)

const ruleColumns = `id, sensor_id, facility_id, name, enabled, alert_type, condition, threshold,
	threshold_max, duration_minutes, cooldown_minutes, severity, notification_message_template,
	actions, trigger_count, last_triggered_at, created_at, updated_at`

// AlertRuleRepository is a Postgres repository for alert rules.
type AlertRuleRepository struct {
	db     *sql.DB
	audit  audit.Logger
	logger zerolog.Logger
}

// RuleRepositoryOption customizes the rule repository.
type RuleRepositoryOption func(*AlertRuleRepository)

// WithRuleLogger assigns the logger used to report skipped rows.
func WithRuleLogger(logger zerolog.Logger) RuleRepositoryOption {
	return func(r *AlertRuleRepository) {
		r.logger = logger
	}
}

// NewAlertRuleRepository constructs a repository.
func NewAlertRuleRepository(db *sql.DB, opts ...RuleRepositoryOption) *AlertRuleRepository {
	repo := &AlertRuleRepository{db: db, logger: zerolog.Nop()}
	if auditRepo := audit.NewRepository(db); auditRepo != nil {
		repo.audit = auditRepo
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Create inserts an alert rule.
func (r *AlertRuleRepository) Create(ctx context.Context, rule *alerts.AlertRule) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alert rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.Severity = alerts.ParseSeverity(string(rule.Severity))
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	actions, err := json.Marshal(nonNilActions(rule.Actions))
	if err != nil {
		return fmt.Errorf("alert rule repo: encode actions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO alert_rules (
	id, sensor_id, facility_id, name, enabled, alert_type, condition, threshold,
	threshold_max, duration_minutes, cooldown_minutes, severity, notification_message_template,
	actions, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13,
	$14, $15, $16
)`, rule.ID, rule.SensorID, rule.FacilityID, rule.Name, rule.Enabled, rule.AlertType, string(rule.Condition), rule.Threshold,
		nullFloat(rule.ThresholdMax), nullInt(rule.DurationMinutes), rule.CooldownMinutes, string(rule.Severity), rule.NotificationMessageTemplate,
		string(actions), rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return err
	}
	r.logCreateAudit(ctx, rule)
	return nil
}

// GetByID loads a rule by id.
func (r *AlertRuleRepository) GetByID(ctx context.Context, ruleID string) (*alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	if ruleID == "" {
		return nil, errors.New("alert rule repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+`
FROM alert_rules
WHERE id = $1
LIMIT 1`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, alerts.ErrRuleNotFound
		}
		return nil, err
	}
	return rule, nil
}

// ListEnabledBySensor returns enabled rules for a sensor.
func (r *AlertRuleRepository) ListEnabledBySensor(ctx context.Context, sensorID string) ([]alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	if sensorID == "" {
		return nil, errors.New("alert rule repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+`
FROM alert_rules
WHERE sensor_id = $1 AND enabled = TRUE
ORDER BY created_at ASC`, sensorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRules(rows, r.logger)
}

type ruleRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// collectRules scans every row. A row with a malformed rule is logged and
// skipped so the sensor's other rules still load; scan failures abort.
func collectRules(rows ruleRows, logger zerolog.Logger) ([]alerts.AlertRule, error) {
	var result []alerts.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			var cfgErr *alerts.ConfigurationError
			if !errors.As(err, &cfgErr) {
				return nil, err
			}
			logger.Warn().Err(err).Str("rule_id", cfgErr.RuleID).Msg("skipping malformed alert rule")
			metrics.IncAlertError(alerts.ErrorKind(err))
			continue
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RecordTrigger increments the trigger count and stamps the last trigger time.
func (r *AlertRuleRepository) RecordTrigger(ctx context.Context, ruleID string, triggeredAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alert_rules
SET trigger_count = trigger_count + 1,
	last_triggered_at = $2,
	updated_at = NOW()
WHERE id = $1`, ruleID, triggeredAt.UTC())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrRuleNotFound
	}
	return nil
}

func (r *AlertRuleRepository) logCreateAudit(ctx context.Context, rule *alerts.AlertRule) {
	if r.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"sensor_id":        rule.SensorID,
		"condition":        rule.Condition,
		"threshold":        rule.Threshold,
		"threshold_max":    rule.ThresholdMax,
		"duration_minutes": rule.DurationMinutes,
		"cooldown_minutes": rule.CooldownMinutes,
		"severity":         rule.Severity,
		"enabled":          rule.Enabled,
	})
	facilityID := auth.FacilityIDFromContext(ctx)
	if facilityID == "" {
		facilityID = rule.FacilityID
	}
	_ = r.audit.Log(ctx, audit.Entry{
		FacilityID:   facilityID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "alert_rule.create",
		ResourceType: "alert_rule",
		ResourceID:   rule.ID,
		Metadata:     meta,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*alerts.AlertRule, error) {
	var (
		rule          alerts.AlertRule
		condition     string
		severity      string
		thresholdMax  sql.NullFloat64
		duration      sql.NullInt32
		actions       []byte
		lastTriggered sql.NullTime
	)
	if err := row.Scan(
		&rule.ID,
		&rule.SensorID,
		&rule.FacilityID,
		&rule.Name,
		&rule.Enabled,
		&rule.AlertType,
		&condition,
		&rule.Threshold,
		&thresholdMax,
		&duration,
		&rule.CooldownMinutes,
		&severity,
		&rule.NotificationMessageTemplate,
		&actions,
		&rule.TriggerCount,
		&lastTriggered,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Condition = alerts.Condition(condition)
	rule.Severity = alerts.ParseSeverity(severity)
	if thresholdMax.Valid {
		value := thresholdMax.Float64
		rule.ThresholdMax = &value
	}
	if duration.Valid {
		value := int(duration.Int32)
		rule.DurationMinutes = &value
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return nil, alerts.NewConfigurationError(rule.ID, "decode actions: "+err.Error())
		}
	}
	if lastTriggered.Valid {
		at := lastTriggered.Time.UTC()
		rule.LastTriggeredAt = &at
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullInt(value *int) sql.NullInt32 {
	if value == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*value), Valid: true}
}

func nonNilActions(actions []string) []string {
	if actions == nil {
		return []string{}
	}
	return actions
}
