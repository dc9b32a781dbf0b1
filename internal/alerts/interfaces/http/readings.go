package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/ingest"
	"greenhouse-cloud/internal/observability/metrics"
)

const maxReadingBody = 1 << 20

// ReadingSubmitter accepts readings for asynchronous detection.
type ReadingSubmitter interface {
	Submit(reading alerts.SensorReading) error
}

// ReadingHandler accepts sensor readings.
type ReadingHandler struct {
	submitter ReadingSubmitter
	logger    zerolog.Logger
	now       func() time.Time
}

// NewReadingHandler constructs a handler.
func NewReadingHandler(submitter ReadingSubmitter, logger zerolog.Logger) (*ReadingHandler, error) {
	if submitter == nil {
		return nil, errors.New("readings handler: nil submitter")
	}
	return &ReadingHandler{submitter: submitter, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

type readingsResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// ServeHTTP handles POST /api/v1/readings with one reading or an array.
func (h *ReadingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()

	readings, err := decodeReadings(http.MaxBytesReader(w, r.Body, maxReadingBody))
	if err != nil {
		metrics.ObserveIngest(metrics.ResultRejected, time.Since(start))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for i := range readings {
		if err := validateReading(readings[i]); err != nil {
			metrics.ObserveIngest(metrics.ResultRejected, time.Since(start))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if readings[i].Timestamp.IsZero() {
			readings[i].Timestamp = h.now()
		}
	}

	accepted := 0
	for _, reading := range readings {
		if err := h.submitter.Submit(reading); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ingest.ErrPoolFull) || errors.Is(err, ingest.ErrPoolClosed) {
				status = http.StatusServiceUnavailable
			}
			h.logger.Warn().Err(err).Str("sensor_id", reading.SensorID).Int("accepted", accepted).Msg("reading rejected")
			metrics.ObserveIngest(metrics.ResultError, time.Since(start))
			writeJSON(w, status, readingsResponse{Accepted: accepted, Error: err.Error()})
			return
		}
		accepted++
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(start))
	writeJSON(w, http.StatusAccepted, readingsResponse{Accepted: accepted})
}

func decodeReadings(body io.Reader) ([]alerts.SensorReading, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, errors.New("invalid json body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var batch []alerts.SensorReading
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, errors.New("invalid reading batch")
		}
		if len(batch) == 0 {
			return nil, errors.New("empty reading batch")
		}
		return batch, nil
	}
	var single alerts.SensorReading
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, errors.New("invalid reading")
	}
	return []alerts.SensorReading{single}, nil
}

func validateReading(reading alerts.SensorReading) error {
	if reading.SensorID == "" {
		return errors.New("sensor_id is required")
	}
	if math.IsNaN(reading.Value) || math.IsInf(reading.Value, 0) {
		return errors.New("value must be finite")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
