package application

import (
	"fmt"
	"strconv"
	"strings"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// RenderMessage builds the alert message. A rule template has its
// {{sensorName}}, {{value}}, {{condition}} and {{threshold}} placeholders replaced
// literally; without a template a default sentence names the rule and the breach.
func RenderMessage(rule alerts.AlertRule, reading alerts.SensorReading, violation alerts.Violation) string {
	threshold := formatThreshold(rule)
	if tpl := strings.TrimSpace(rule.NotificationMessageTemplate); tpl != "" {
		replacer := strings.NewReplacer(
			"{{sensorName}}", reading.DisplayName(),
			"{{value}}", formatValue(reading.Value),
			"{{condition}}", string(rule.Condition),
			"{{threshold}}", threshold,
		)
		return replacer.Replace(rule.NotificationMessageTemplate)
	}

	value := withUnit(formatValue(reading.Value), reading.Unit)
	sensor := reading.DisplayName()
	switch rule.Condition {
	case alerts.ConditionGreater, alerts.ConditionGreaterOrEqual:
		return fmt.Sprintf("%s: %s reading %s is above threshold %s", rule.DisplayName(), sensor, value, withUnit(threshold, reading.Unit))
	case alerts.ConditionLess, alerts.ConditionLessOrEqual:
		return fmt.Sprintf("%s: %s reading %s is below threshold %s", rule.DisplayName(), sensor, value, withUnit(threshold, reading.Unit))
	case alerts.ConditionBetween:
		return fmt.Sprintf("%s: %s reading %s is outside range %s", rule.DisplayName(), sensor, value, withUnit(threshold, reading.Unit))
	case alerts.ConditionRate:
		return fmt.Sprintf("%s: %s is changing too fast (%s per second, limit %s)", rule.DisplayName(), sensor,
			withUnit(formatValue(violation.Rate), reading.Unit), withUnit(threshold, reading.Unit))
	default:
		return fmt.Sprintf("%s: %s reading %s exceeded threshold %s", rule.DisplayName(), sensor, value, threshold)
	}
}

func formatThreshold(rule alerts.AlertRule) string {
	if rule.Condition == alerts.ConditionBetween && rule.ThresholdMax != nil {
		return formatValue(rule.Threshold) + "-" + formatValue(*rule.ThresholdMax)
	}
	return formatValue(rule.Threshold)
}

func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func withUnit(value, unit string) string {
	if unit == "" {
		return value
	}
	return value + " " + unit
}
