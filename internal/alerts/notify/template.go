package notify

import (
	"bytes"
	"errors"
	"strconv"
	"text/template"
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

const DefaultTemplate = `[{{.Severity}} Alert] {{.Rule}}
Facility: {{.Facility}}
Sensor: {{.Sensor}}{{ if .Location }} ({{.Location}}){{ end }}
Trigger Value: {{.TriggerValue}}
Threshold: {{.Threshold}}
Triggered At: {{.TriggeredAt}}
Suggestion: {{.Suggestion}}
{{.Message}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	AlertID      string
	Facility     string
	Sensor       string
	Location     string
	Rule         string
	Severity     string
	TriggerValue string
	Threshold    string
	TriggeredAt  string
	Suggestion   string
	Message      string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to alert.
func (t *Template) Render(alert alerts.AlertRecord) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, buildTemplateData(alert)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildTemplateData(alert alerts.AlertRecord) TemplateData {
	sensor := alert.SensorName
	if sensor == "" {
		sensor = alert.SensorID
	}
	threshold := formatFloat(alert.ThresholdValue)
	if alert.Condition == alerts.ConditionBetween && alert.ThresholdMax != nil {
		threshold = threshold + " - " + formatFloat(*alert.ThresholdMax)
	}
	threshold = alert.Condition.Symbol() + " " + threshold
	return TemplateData{
		AlertID:      alert.ID,
		Facility:     alert.FacilityID,
		Sensor:       sensor,
		Location:     alert.Location,
		Rule:         alert.RuleID,
		Severity:     string(alert.Severity),
		TriggerValue: withUnit(formatFloat(alert.TriggeredValue), alert.Unit),
		Threshold:    withUnit(threshold, alert.Unit),
		TriggeredAt:  alert.TriggeredAt.UTC().Format(time.RFC3339),
		Suggestion:   suggestionFor(alert.Severity),
		Message:      alert.Message,
	}
}

func suggestionFor(severity alerts.Severity) string {
	switch severity {
	case alerts.SeverityCritical, alerts.SeverityHigh:
		return "Investigate immediately and protect the crop."
	case alerts.SeverityMedium:
		return "Verify the condition and take action if needed."
	default:
		return "Monitor the sensor."
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func withUnit(value, unit string) string {
	if unit == "" {
		return value
	}
	return value + " " + unit
}
