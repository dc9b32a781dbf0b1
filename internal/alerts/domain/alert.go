package alerts

import "time"

// SensorReading is one immutable observation from a sensor.
type SensorReading struct {
	SensorID   string    `json:"sensor_id"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Timestamp  time.Time `json:"timestamp"`
	SensorName string    `json:"sensor_name,omitempty"`
	Location   string    `json:"location,omitempty"`
}

// DisplayName returns the sensor name or its id.
func (r SensorReading) DisplayName() string {
	if r.SensorName != "" {
		return r.SensorName
	}
	return r.SensorID
}

// Violation is the output of one rule evaluation that breached its condition.
type Violation struct {
	RuleID         string
	ActualValue    float64
	ThresholdValue float64
	ThresholdMax   *float64
	Condition      Condition
	Timestamp      time.Time
	// Rate is the observed change per second for RATE rules.
	Rate float64
}

// ViolationState tracks a continuous breach and the last rate sample for a rule.
type ViolationState struct {
	StartTime      time.Time
	ViolationCount int
	Confirmed      bool
	LastValue      float64
	LastTimestamp  time.Time
	HasSample      bool
}

// Tracking reports whether a breach is in progress.
func (s ViolationState) Tracking() bool {
	return !s.StartTime.IsZero()
}

// CooldownEntry records when a rule last fired.
type CooldownEntry struct {
	LastFiredAt time.Time
}

// AlertRecord is a persisted alert log entry.
type AlertRecord struct {
	ID             string    `json:"id"`
	RuleID         string    `json:"rule_id"`
	SensorID       string    `json:"sensor_id"`
	FacilityID     string    `json:"facility_id"`
	AlertType      string    `json:"alert_type"`
	Severity       Severity  `json:"severity"`
	Condition      Condition `json:"condition"`
	TriggeredValue float64   `json:"triggered_value"`
	ThresholdValue float64   `json:"threshold_value"`
	ThresholdMax   *float64  `json:"threshold_max,omitempty"`
	Unit           string    `json:"unit"`
	SensorName     string    `json:"sensor_name,omitempty"`
	Location       string    `json:"location,omitempty"`
	Message        string    `json:"message"`
	TriggeredAt    time.Time `json:"triggered_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Notification is handed to the notification queue after an alert is persisted.
type Notification struct {
	Alert   AlertRecord `json:"alert"`
	Actions []string    `json:"actions"`
}
