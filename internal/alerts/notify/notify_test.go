package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

type mockChannel struct {
	mock.Mock
	name string
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, alert alerts.AlertRecord) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

type panicChannel struct{}

func (panicChannel) Name() string { return alerts.ActionPush }

func (panicChannel) Send(context.Context, alerts.AlertRecord) error { panic("push provider exploded") }

func sampleAlert() alerts.AlertRecord {
	return alerts.AlertRecord{
		ID:             "alert-1",
		RuleID:         "rule-heat",
		SensorID:       "temp-1",
		FacilityID:     "fac-1",
		Severity:       alerts.SeverityHigh,
		Condition:      alerts.ConditionGreater,
		TriggeredValue: 35,
		ThresholdValue: 30,
		Unit:           "°C",
		SensorName:     "Bay 1 Temp",
		Message:        "Bay heat: Bay 1 Temp reading 35 °C is above threshold 30 °C",
		TriggeredAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestQueueDeliversEachAction(t *testing.T) {
	email := &mockChannel{name: alerts.ActionEmail}
	webhook := &mockChannel{name: alerts.ActionWebhook}
	email.On("Send", mock.Anything, sampleAlert()).Return(nil).Once()
	webhook.On("Send", mock.Anything, sampleAlert()).Return(nil).Once()

	q := NewQueue([]Channel{email, webhook}, WithWorkers(2))
	q.Start()
	require.NoError(t, q.Enqueue(context.Background(), alerts.Notification{
		Alert:   sampleAlert(),
		Actions: []string{alerts.ActionEmail, alerts.ActionWebhook, "carrier-pigeon"},
	}))
	require.NoError(t, q.Close(context.Background()))

	email.AssertExpectations(t)
	webhook.AssertExpectations(t)
}

func TestQueueRetriesWithBackoff(t *testing.T) {
	sms := &mockChannel{name: alerts.ActionSMS}
	sms.On("Send", mock.Anything, mock.Anything).Return(errors.New("gateway busy")).Twice()
	sms.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	q := NewQueue([]Channel{sms}, WithWorkers(1), WithRetry(3, time.Millisecond))
	q.Start()
	require.NoError(t, q.Enqueue(context.Background(), alerts.Notification{Alert: sampleAlert(), Actions: []string{alerts.ActionSMS}}))
	require.NoError(t, q.Close(context.Background()))

	sms.AssertNumberOfCalls(t, "Send", 3)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	sms := &mockChannel{name: alerts.ActionSMS}
	sms.On("Send", mock.Anything, mock.Anything).Return(errors.New("down"))

	q := NewQueue([]Channel{sms}, WithWorkers(1), WithRetry(2, time.Millisecond))
	q.Start()
	require.NoError(t, q.Enqueue(context.Background(), alerts.Notification{Alert: sampleAlert(), Actions: []string{alerts.ActionSMS}}))
	require.NoError(t, q.Close(context.Background()))

	sms.AssertNumberOfCalls(t, "Send", 3)
}

func TestQueueFullIsNonBlocking(t *testing.T) {
	q := NewQueue(nil, WithQueueSize(1))
	notification := alerts.Notification{Alert: sampleAlert(), Actions: []string{alerts.ActionEmail}}

	require.NoError(t, q.Enqueue(context.Background(), notification))
	err := q.Enqueue(context.Background(), notification)

	var dispatchErr *alerts.NotificationDispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.ErrorIs(t, err, alerts.ErrQueueFull)
	assert.Equal(t, "notification", alerts.ErrorKind(err))
	assert.Equal(t, 1, q.Len())
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue(nil)
	q.Start()
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()))

	err := q.Enqueue(context.Background(), alerts.Notification{Alert: sampleAlert()})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueRecoversChannelPanic(t *testing.T) {
	email := &mockChannel{name: alerts.ActionEmail}
	email.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	q := NewQueue([]Channel{panicChannel{}, email}, WithWorkers(1), WithRetry(0, time.Millisecond))
	q.Start()
	require.NoError(t, q.Enqueue(context.Background(), alerts.Notification{
		Alert:   sampleAlert(),
		Actions: []string{alerts.ActionPush, alerts.ActionEmail},
	}))
	require.NoError(t, q.Close(context.Background()))

	email.AssertExpectations(t)
}

func TestWebhookChannelPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	require.NoError(t, channel.Send(context.Background(), sampleAlert()))

	payload := <-payloadCh
	assert.Equal(t, "text", payload.MsgType)
	assert.Contains(t, payload.Text.Content, "[HIGH Alert] rule-heat")
	assert.Contains(t, payload.Text.Content, "Trigger Value: 35.00 °C")
	assert.Contains(t, payload.Text.Content, "Threshold: > 30.00 °C")
	assert.Equal(t, "alert-1", payload.Alert.ID)
	assert.Equal(t, "fac-1", payload.Alert.FacilityID)
}

func TestWebhookChannelNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	require.NoError(t, err)
	assert.Error(t, channel.Send(context.Background(), sampleAlert()))

	_, err = NewWebhookChannel("")
	assert.Error(t, err)
}

func TestKafkaChannelKeysByFacility(t *testing.T) {
	writer := &mockWriter{}
	writer.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || string(msgs[0].Key) != "fac-1" {
			return false
		}
		var decoded alerts.AlertRecord
		if err := json.Unmarshal(msgs[0].Value, &decoded); err != nil {
			return false
		}
		return decoded.ID == "alert-1" && decoded.TriggeredValue == 35
	})).Return(nil).Once()
	writer.On("Close").Return(nil).Once()

	channel := newKafkaChannelWithWriter(writer)
	require.NoError(t, channel.Send(context.Background(), sampleAlert()))
	require.NoError(t, channel.Close())
	writer.AssertExpectations(t)
}

func TestNewKafkaChannelValidation(t *testing.T) {
	_, err := NewKafkaChannel(nil, "alerts")
	assert.Error(t, err)
	_, err = NewKafkaChannel([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

func TestMultiChannelJoinsErrors(t *testing.T) {
	ok := &mockChannel{name: "a"}
	failing := &mockChannel{name: "b"}
	ok.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	failing.On("Send", mock.Anything, mock.Anything).Return(errors.New("boom")).Once()

	multi := NewMultiChannel(alerts.ActionWebhook, ok, nil, failing)
	assert.Equal(t, alerts.ActionWebhook, multi.Name())
	assert.EqualError(t, multi.Send(context.Background(), sampleAlert()), "boom")
	ok.AssertExpectations(t)
	failing.AssertExpectations(t)
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	var mu sync.Mutex
	delivered := 0
	counter := &countingChannel{fn: func() {
		mu.Lock()
		delivered++
		mu.Unlock()
	}}
	q := NewQueue([]Channel{counter}, WithWorkers(4), WithQueueSize(256))
	q.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = q.Enqueue(context.Background(), alerts.Notification{Alert: sampleAlert(), Actions: []string{"count"}})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 160, delivered)
}

type countingChannel struct {
	fn func()
}

func (c *countingChannel) Name() string { return "count" }

func (c *countingChannel) Send(context.Context, alerts.AlertRecord) error {
	c.fn()
	return nil
}
