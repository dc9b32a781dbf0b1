package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertapp "greenhouse-cloud/internal/alerts/application"
	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/audit"
	"greenhouse-cloud/internal/auth"
	"greenhouse-cloud/internal/ingest"
)

type stubSubmitter struct {
	mu       sync.Mutex
	readings []alerts.SensorReading
	failAt   int
	err      error
}

func (s *stubSubmitter) Submit(reading alerts.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && len(s.readings) == s.failAt {
		return s.err
	}
	s.readings = append(s.readings, reading)
	return nil
}

type stubInvalidator struct {
	calls []string
}

func (s *stubInvalidator) InvalidateCache(sensorID string) { s.calls = append(s.calls, sensorID) }

type stubAudit struct {
	entries []audit.Entry
}

func (s *stubAudit) Log(_ context.Context, entry audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type stubLister struct {
	facilityID string
	from, to   time.Time
	limit      int
	records    []alerts.AlertRecord
}

func (s *stubLister) ListByFacility(_ context.Context, facilityID string, from, to time.Time, limit int) ([]alerts.AlertRecord, error) {
	s.facilityID, s.from, s.to, s.limit = facilityID, from, to, limit
	return s.records, nil
}

func TestReadingHandlerAcceptsSingleAndBatch(t *testing.T) {
	submitter := &stubSubmitter{}
	handler, err := NewReadingHandler(submitter, zerolog.Nop())
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return fixed }

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/readings",
		strings.NewReader(`{"sensor_id":"temp-1","value":35,"unit":"°C"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/readings",
		strings.NewReader(`[{"sensor_id":"temp-1","value":36},{"sensor_id":"hum-1","value":80}]`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":2}`, rec.Body.String())

	require.Len(t, submitter.readings, 3)
	assert.Equal(t, "temp-1", submitter.readings[0].SensorID)
	assert.Equal(t, fixed, submitter.readings[0].Timestamp)
	assert.Equal(t, "hum-1", submitter.readings[2].SensorID)
}

func TestReadingHandlerRejectsBadInput(t *testing.T) {
	submitter := &stubSubmitter{}
	handler, err := NewReadingHandler(submitter, zerolog.Nop())
	require.NoError(t, err)

	for _, body := range []string{`not json`, `[]`, `{"value":1}`, `[{"sensor_id":"a","value":1},{"value":2}]`} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, submitter.readings)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/readings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReadingHandlerBackpressure(t *testing.T) {
	submitter := &stubSubmitter{failAt: 1, err: ingest.ErrPoolFull}
	handler, err := NewReadingHandler(submitter, zerolog.Nop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/readings",
		strings.NewReader(`[{"sensor_id":"a","value":1},{"sensor_id":"b","value":2}]`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body readingsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Accepted)
	assert.NotEmpty(t, body.Error)

	submitter = &stubSubmitter{err: errors.New("boom")}
	handler, err = NewReadingHandler(submitter, zerolog.Nop())
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/readings", strings.NewReader(`{"sensor_id":"a","value":1}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRuleCacheHandlerInvalidatesAndAudits(t *testing.T) {
	cache := &stubInvalidator{}
	auditLog := &stubAudit{}
	handler, err := NewRuleCacheHandler(cache, auditLog, zerolog.Nop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/cache/invalidate?sensor_id=temp-1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "", auth.RoleAdmin, "ops@example.com"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rules/cache/invalidate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"invalidated":"*"}`, rec.Body.String())

	assert.Equal(t, []string{"temp-1", ""}, cache.calls)
	require.Len(t, auditLog.entries, 2)
	assert.Equal(t, "alert_rule.cache_invalidate", auditLog.entries[0].Action)
	assert.Equal(t, "ops@example.com", auditLog.entries[0].Actor)
	assert.Equal(t, "temp-1", auditLog.entries[0].ResourceID)
}

func TestAlertHandlerScopesFacility(t *testing.T) {
	lister := &stubLister{records: []alerts.AlertRecord{{ID: "a1", FacilityID: "fac-1"}}}
	handler, err := NewAlertHandler(lister)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z&limit=10", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "fac-1", auth.RoleViewer, "viewer"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []alerts.AlertRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "fac-1", lister.facilityID)
	assert.Equal(t, 10, lister.limit)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), lister.from)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts?facility_id=fac-2", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "fac-1", auth.RoleViewer, "viewer"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAlertHandlerValidation(t *testing.T) {
	lister := &stubLister{}
	handler, err := NewAlertHandler(lister)
	require.NoError(t, err)

	cases := []string{
		"/api/v1/alerts",
		"/api/v1/alerts?facility_id=fac-1&from=yesterday",
		"/api/v1/alerts?facility_id=fac-1&from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z",
		"/api/v1/alerts?facility_id=fac-1&limit=-1",
	}
	for _, target := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?facility_id=fac-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStreamHandlerDeliversFacilityEvents(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/alerts/stream?facility_id=fac-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	require.Equal(t, "event: ready\n", readLine(t, reader))
	require.Equal(t, "data: {}\n", readLine(t, reader))
	require.Equal(t, "\n", readLine(t, reader))

	ctx := context.Background()
	require.NoError(t, broker.HandleAlertCreated(ctx, alertapp.AlertCreated{AlertID: "other", FacilityID: "fac-2"}))
	require.NoError(t, broker.HandleAlertCreated(ctx, alertapp.AlertCreated{AlertID: "a1", FacilityID: "fac-1", Value: 35}))

	require.Equal(t, "event: alert:created\n", readLine(t, reader))
	data := strings.TrimPrefix(strings.TrimSuffix(readLine(t, reader), "\n"), "data: ")
	var event alertapp.AlertCreated
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, "a1", event.AlertID)
	assert.Equal(t, 35.0, event.Value)
}

func TestSSEBrokerRejectsUnknownEvents(t *testing.T) {
	broker := NewSSEBroker()
	client := broker.Subscribe("")
	assert.Equal(t, 1, broker.Clients())
	assert.Error(t, broker.HandleAlertCreated(context.Background(), "not an alert"))

	for i := 0; i < 20; i++ {
		require.NoError(t, broker.HandleAlertCreated(context.Background(), alertapp.AlertCreated{AlertID: "a"}))
	}
	assert.Len(t, client.Events(), cap(client.Events()))

	broker.Unsubscribe(client)
	broker.Unsubscribe(client)
	assert.Equal(t, 0, broker.Clients())
}

func TestSSEBrokerSubscriptionFiltersFacility(t *testing.T) {
	broker := NewSSEBroker()
	scoped := broker.Subscribe("fac-1")
	all := broker.Subscribe("")
	defer broker.Unsubscribe(scoped)
	defer broker.Unsubscribe(all)
	assert.Equal(t, "fac-1", scoped.FacilityID())

	require.NoError(t, broker.HandleAlertCreated(context.Background(), alertapp.AlertCreated{AlertID: "a1", FacilityID: "fac-2"}))
	require.NoError(t, broker.HandleAlertCreated(context.Background(), alertapp.AlertCreated{AlertID: "a2", FacilityID: "fac-1"}))

	var events <-chan []byte = scoped.Events()
	require.Len(t, events, 1)
	var got alertapp.AlertCreated
	require.NoError(t, json.Unmarshal(<-events, &got))
	assert.Equal(t, "a2", got.AlertID)
	assert.Len(t, all.Events(), 2)
}

func TestSSEBrokerUnsubscribeClosesEvents(t *testing.T) {
	broker := NewSSEBroker()
	sub := broker.Subscribe("fac-1")
	broker.Unsubscribe(sub)
	_, open := <-sub.Events()
	assert.False(t, open)
}

func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	return line
}
