package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

// Dispatcher persists confirmed violations and fans them out.
type Dispatcher struct {
	sink   AlertSink
	rules  RuleStore
	events EventPublisher
	queue  NotificationQueue
	clock  Clock
	logger zerolog.Logger
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEventPublisher assigns the alert:created publisher.
func WithEventPublisher(events EventPublisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.events = events
	}
}

// WithNotificationQueue assigns the notification hand-off.
func WithNotificationQueue(queue NotificationQueue) DispatcherOption {
	return func(d *Dispatcher) {
		d.queue = queue
	}
}

// WithDispatcherClock assigns a clock.
func WithDispatcherClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDispatcherLogger assigns a logger.
func WithDispatcherLogger(logger zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(sink AlertSink, rules RuleStore, opts ...DispatcherOption) (*Dispatcher, error) {
	if sink == nil {
		return nil, errors.New("alert dispatcher: nil alert sink")
	}
	if rules == nil {
		return nil, errors.New("alert dispatcher: nil rule store")
	}
	d := &Dispatcher{
		sink:   sink,
		rules:  rules,
		clock:  systemClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch persists an alert for violation, then records the trigger on the rule,
// publishes alert:created and enqueues notifications. Nothing else happens when
// persistence fails. The three follow-up steps run independently of each other and
// their failures are joined into the returned error. Persistence and the trigger
// update ignore ctx cancellation; if ctx is done after them, publishing and
// notification are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, rule alerts.AlertRule, reading alerts.SensorReading, violation alerts.Violation) (*alerts.AlertRecord, error) {
	if d == nil {
		return nil, errors.New("alert dispatcher: nil dispatcher")
	}
	log := d.logger.With().Str("rule_id", rule.ID).Str("sensor_id", reading.SensorID).Logger()

	record := buildRecord(rule, reading, violation, d.clock)
	id, err := d.sink.CreateAlert(context.WithoutCancel(ctx), &record)
	if err != nil {
		storeErr := &alerts.TransientStoreError{Op: "create alert", Err: err}
		log.Error().Err(err).Str("error_kind", alerts.ErrorKind(storeErr)).Msg("alert persistence failed")
		return &record, storeErr
	}
	record.ID = id

	var errs []error

	if err := d.rules.RecordTrigger(context.WithoutCancel(ctx), rule.ID, record.TriggeredAt); err != nil {
		storeErr := &alerts.TransientStoreError{Op: "record trigger", Err: err}
		log.Warn().Err(err).Str("error_kind", alerts.ErrorKind(storeErr)).Msg("rule trigger update failed")
		errs = append(errs, storeErr)
	}

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Str("alert_id", record.ID).Msg("dispatch cancelled after persistence")
		return &record, errors.Join(append(errs, err)...)
	}

	if d.events != nil {
		if err := d.events.Publish(ctx, newAlertCreated(record)); err != nil {
			log.Warn().Err(err).Str("alert_id", record.ID).Msg("alert event publish failed")
			errs = append(errs, err)
		}
	}

	if d.queue != nil && len(rule.Actions) > 0 {
		notification := alerts.Notification{Alert: record, Actions: append([]string(nil), rule.Actions...)}
		if err := d.queue.Enqueue(ctx, notification); err != nil {
			var notifyErr *alerts.NotificationDispatchError
			if !errors.As(err, &notifyErr) {
				err = &alerts.NotificationDispatchError{Channel: "queue", Err: err}
			}
			log.Warn().Err(err).Str("error_kind", alerts.ErrorKind(err)).Str("alert_id", record.ID).Msg("notification enqueue failed")
			errs = append(errs, err)
		}
	}

	return &record, errors.Join(errs...)
}

func buildRecord(rule alerts.AlertRule, reading alerts.SensorReading, violation alerts.Violation, clock Clock) alerts.AlertRecord {
	triggeredAt := violation.Timestamp
	if triggeredAt.IsZero() {
		triggeredAt = clock.Now().UTC()
	}
	return alerts.AlertRecord{
		RuleID:         rule.ID,
		SensorID:       reading.SensorID,
		FacilityID:     rule.FacilityID,
		AlertType:      rule.AlertType,
		Severity:       rule.Severity,
		Condition:      rule.Condition,
		TriggeredValue: violation.ActualValue,
		ThresholdValue: violation.ThresholdValue,
		ThresholdMax:   violation.ThresholdMax,
		Unit:           reading.Unit,
		SensorName:     reading.SensorName,
		Location:       reading.Location,
		Message:        RenderMessage(rule, reading, violation),
		TriggeredAt:    triggeredAt.UTC(),
		CreatedAt:      clock.Now().UTC(),
	}
}

func newAlertCreated(record alerts.AlertRecord) AlertCreated {
	return AlertCreated{
		AlertID:    record.ID,
		RuleID:     record.RuleID,
		SensorID:   record.SensorID,
		FacilityID: record.FacilityID,
		AlertType:  record.AlertType,
		Severity:   record.Severity,
		Message:    record.Message,
		Value:      record.TriggeredValue,
		Threshold:  record.ThresholdValue,
		Unit:       record.Unit,
		Timestamp:  record.TriggeredAt,
	}
}
