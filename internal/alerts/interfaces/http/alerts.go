package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
	"greenhouse-cloud/internal/auth"
)

const timeLayout = time.RFC3339

// AlertLister reads persisted alerts.
type AlertLister interface {
	ListByFacility(ctx context.Context, facilityID string, from, to time.Time, limit int) ([]alerts.AlertRecord, error)
}

// AlertHandler serves the alert history.
type AlertHandler struct {
	alerts AlertLister
}

// NewAlertHandler constructs a handler.
func NewAlertHandler(lister AlertLister) (*AlertHandler, error) {
	if lister == nil {
		return nil, errors.New("alerts handler: nil lister")
	}
	return &AlertHandler{alerts: lister}, nil
}

// ServeHTTP handles GET /api/v1/alerts?facility_id=&from=&to=&limit=.
func (h *AlertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	facilityID, err := auth.ResolveFacility(r.Context(), r.URL.Query().Get("facility_id"))
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if facilityID == "" {
		http.Error(w, "facility_id is required", http.StatusBadRequest)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		limit, err = strconv.Atoi(value)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}

	list, err := h.alerts.ListByFacility(r.Context(), facilityID, from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerts.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

// parseTimeQuery returns the zero time when key is absent.
func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
