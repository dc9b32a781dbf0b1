package application

import (
	"context"
	"errors"
	"testing"
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

func newTestDispatcher(t *testing.T, sink AlertSink, store RuleStore, events EventPublisher, queue NotificationQueue) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(sink, store,
		WithEventPublisher(events),
		WithNotificationQueue(queue),
		WithDispatcherClock(&fakeClock{now: baseTime()}),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func heatViolation(at time.Time) alerts.Violation {
	return alerts.Violation{RuleID: "rule-heat", ActualValue: 35, ThresholdValue: 30, Condition: alerts.ConditionGreater, Timestamp: at}
}

func TestDispatchRunsAllSteps(t *testing.T) {
	store := newStubRuleStore()
	sink := &stubSink{}
	events := &stubPublisher{}
	queue := &stubQueue{}
	d := newTestDispatcher(t, sink, store, events, queue)
	at := baseTime().Add(time.Minute)

	record, err := d.Dispatch(context.Background(), greenhouseHeatRule(), reading("temp-1", 35, at), heatViolation(at))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if record.ID != "alert-1" || record.FacilityID != "fac-1" || record.Severity != alerts.SeverityHigh {
		t.Fatalf("unexpected record %+v", record)
	}
	if !record.TriggeredAt.Equal(at) {
		t.Fatalf("expected triggered at reading time, got %v", record.TriggeredAt)
	}
	if store.triggers["rule-heat"] != 1 || !store.triggerAt["rule-heat"].Equal(at) {
		t.Fatalf("trigger not recorded: %+v", store.triggers)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events.events))
	}
	event, ok := events.events[0].(AlertCreated)
	if !ok || event.AlertID != "alert-1" || event.EventName() != AlertCreatedEvent {
		t.Fatalf("unexpected event %#v", events.events[0])
	}
	if len(queue.notifications) != 1 || queue.notifications[0].Actions[0] != alerts.ActionEmail {
		t.Fatalf("unexpected notifications %+v", queue.notifications)
	}
}

func TestDispatchPersistenceFailureStops(t *testing.T) {
	store := newStubRuleStore()
	events := &stubPublisher{}
	queue := &stubQueue{}
	d := newTestDispatcher(t, &stubSink{err: errors.New("insert failed")}, store, events, queue)

	record, err := d.Dispatch(context.Background(), greenhouseHeatRule(), reading("temp-1", 35, baseTime()), heatViolation(baseTime()))
	if alerts.ErrorKind(err) != "store" {
		t.Fatalf("expected store error, got %v", err)
	}
	if record.ID != "" {
		t.Fatalf("expected no id, got %q", record.ID)
	}
	if store.triggers["rule-heat"] != 0 || len(events.events) != 0 || len(queue.notifications) != 0 {
		t.Fatalf("follow-up steps ran after failed persistence")
	}
}

func TestDispatchFollowUpFailuresAreIndependent(t *testing.T) {
	store := newStubRuleStore()
	store.recordErr = errors.New("update failed")
	events := &stubPublisher{err: errors.New("bus closed")}
	queue := &stubQueue{err: alerts.ErrQueueFull}
	d := newTestDispatcher(t, &stubSink{}, store, events, queue)

	record, err := d.Dispatch(context.Background(), greenhouseHeatRule(), reading("temp-1", 35, baseTime()), heatViolation(baseTime()))
	if record == nil || record.ID == "" {
		t.Fatalf("persisted record must be returned")
	}
	if len(events.events) != 1 {
		t.Fatalf("publish must still run")
	}
	var storeErr *alerts.TransientStoreError
	var notifyErr *alerts.NotificationDispatchError
	if !errors.As(err, &storeErr) || !errors.As(err, &notifyErr) || !errors.Is(err, alerts.ErrQueueFull) {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestDispatchCancelledContextStillPersists(t *testing.T) {
	store := newStubRuleStore()
	sink := &stubSink{}
	queue := &stubQueue{}
	d := newTestDispatcher(t, sink, store, &stubPublisher{}, queue)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record, err := d.Dispatch(ctx, greenhouseHeatRule(), reading("temp-1", 35, baseTime()), heatViolation(baseTime()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if sink.count() != 1 || record.ID == "" {
		t.Fatalf("alert must be persisted despite cancellation")
	}
	if len(queue.notifications) != 0 {
		t.Fatalf("notification enqueued after cancellation")
	}
	if store.triggers["rule-heat"] != 1 || !store.triggerAt["rule-heat"].Equal(baseTime()) {
		t.Fatalf("trigger stats must follow the persisted alert, got %d", store.triggers["rule-heat"])
	}
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	if _, err := NewDispatcher(nil, newStubRuleStore()); err == nil {
		t.Fatalf("expected error for nil sink")
	}
	if _, err := NewDispatcher(&stubSink{}, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
