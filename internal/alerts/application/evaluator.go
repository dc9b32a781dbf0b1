package application

import (
	"errors"
	"math"
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// MinRateInterval is the shortest gap between two readings a RATE rule will divide by.
const MinRateInterval = time.Second

// ErrInsufficientInterval marks a RATE reading that arrived too soon after the
// previous sample. The reading is skipped and the state is left untouched.
var ErrInsufficientInterval = errors.New("alerts: insufficient interval for rate")

// Evaluate checks reading against rule. state is the rule's current violation
// state; RATE rules read and reseed its sample fields, other conditions ignore it.
// A nil violation with a nil error means the reading does not breach.
func Evaluate(rule alerts.AlertRule, reading alerts.SensorReading, state *alerts.ViolationState) (*alerts.Violation, error) {
	at := reading.Timestamp
	value := reading.Value

	var breached bool
	switch rule.Condition {
	case alerts.ConditionGreater:
		breached = value > rule.Threshold
	case alerts.ConditionGreaterOrEqual:
		breached = value >= rule.Threshold
	case alerts.ConditionLess:
		breached = value < rule.Threshold
	case alerts.ConditionLessOrEqual:
		breached = value <= rule.Threshold
	case alerts.ConditionBetween:
		if rule.ThresholdMax == nil {
			return nil, alerts.NewConfigurationError(rule.ID, "BETWEEN requires threshold_max")
		}
		breached = value < rule.Threshold || value > *rule.ThresholdMax
	case alerts.ConditionRate:
		return evaluateRate(rule, reading, state)
	default:
		return nil, alerts.NewConfigurationError(rule.ID, "invalid condition "+string(rule.Condition))
	}
	if !breached {
		return nil, nil
	}
	return &alerts.Violation{
		RuleID:         rule.ID,
		ActualValue:    value,
		ThresholdValue: rule.Threshold,
		ThresholdMax:   rule.ThresholdMax,
		Condition:      rule.Condition,
		Timestamp:      at,
	}, nil
}

func evaluateRate(rule alerts.AlertRule, reading alerts.SensorReading, state *alerts.ViolationState) (*alerts.Violation, error) {
	if rule.Threshold <= 0 {
		return nil, alerts.NewConfigurationError(rule.ID, "RATE requires a positive threshold")
	}
	if state == nil {
		return nil, errors.New("alerts: nil state for rate rule")
	}
	if !state.HasSample {
		seedSample(state, reading)
		return nil, nil
	}
	elapsed := reading.Timestamp.Sub(state.LastTimestamp)
	if elapsed < MinRateInterval {
		return nil, ErrInsufficientInterval
	}
	rate := math.Abs(reading.Value-state.LastValue) / elapsed.Seconds()
	seedSample(state, reading)
	if rate <= rule.Threshold {
		return nil, nil
	}
	return &alerts.Violation{
		RuleID:         rule.ID,
		ActualValue:    reading.Value,
		ThresholdValue: rule.Threshold,
		Condition:      rule.Condition,
		Timestamp:      reading.Timestamp,
		Rate:           rate,
	}, nil
}

func seedSample(state *alerts.ViolationState, reading alerts.SensorReading) {
	state.LastValue = reading.Value
	state.LastTimestamp = reading.Timestamp
	state.HasSample = true
}
