package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

const defaultListLimit = 500

// AlertLogRepository persists fired alerts.
type AlertLogRepository struct {
	db *sql.DB
}

// NewAlertLogRepository constructs a repository.
func NewAlertLogRepository(db *sql.DB) *AlertLogRepository {
	return &AlertLogRepository{db: db}
}

// CreateAlert inserts record and returns its id, generating one when empty.
func (r *AlertLogRepository) CreateAlert(ctx context.Context, record *alerts.AlertRecord) (string, error) {
	if r == nil || r.db == nil {
		return "", errors.New("alert log repo: nil db")
	}
	if record == nil {
		return "", errors.New("alert log repo: nil record")
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_logs (
	id, rule_id, sensor_id, facility_id, alert_type, severity, condition,
	triggered_value, threshold_value, threshold_max, unit, sensor_name, location,
	message, triggered_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13,
	$14, $15, $16
)`, id, record.RuleID, record.SensorID, record.FacilityID, record.AlertType, string(record.Severity), string(record.Condition),
		record.TriggeredValue, record.ThresholdValue, nullFloat(record.ThresholdMax), record.Unit, record.SensorName, record.Location,
		record.Message, record.TriggeredAt.UTC(), createdAt)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListByFacility returns alerts triggered in [from, to) for a facility, newest first.
// A zero bound is open.
func (r *AlertLogRepository) ListByFacility(ctx context.Context, facilityID string, from, to time.Time, limit int) ([]alerts.AlertRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert log repo: nil db")
	}
	if facilityID == "" {
		return nil, errors.New("alert log repo: invalid query")
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, rule_id, sensor_id, facility_id, alert_type, severity, condition,
	triggered_value, threshold_value, threshold_max, unit, sensor_name, location,
	message, triggered_at, created_at
FROM alert_logs
WHERE facility_id = $1
	AND ($2::timestamptz IS NULL OR triggered_at >= $2)
	AND ($3::timestamptz IS NULL OR triggered_at < $3)
ORDER BY triggered_at DESC
LIMIT $4`, facilityID, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.AlertRecord
	for rows.Next() {
		var (
			record       alerts.AlertRecord
			severity     string
			condition    string
			thresholdMax sql.NullFloat64
		)
		if err := rows.Scan(
			&record.ID,
			&record.RuleID,
			&record.SensorID,
			&record.FacilityID,
			&record.AlertType,
			&severity,
			&condition,
			&record.TriggeredValue,
			&record.ThresholdValue,
			&thresholdMax,
			&record.Unit,
			&record.SensorName,
			&record.Location,
			&record.Message,
			&record.TriggeredAt,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		record.Severity = alerts.ParseSeverity(severity)
		record.Condition = alerts.Condition(condition)
		if thresholdMax.Valid {
			value := thresholdMax.Float64
			record.ThresholdMax = &value
		}
		record.TriggeredAt = record.TriggeredAt.UTC()
		record.CreatedAt = record.CreatedAt.UTC()
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
