package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"greenhouse-cloud/internal/audit"
	"greenhouse-cloud/internal/auth"
)

// CacheInvalidator drops cached rules for a sensor, or every sensor when empty.
type CacheInvalidator interface {
	InvalidateCache(sensorID string)
}

// RuleCacheHandler lets rule editors force a reload after a rule change.
type RuleCacheHandler struct {
	cache  CacheInvalidator
	audit  audit.Logger
	logger zerolog.Logger
}

// NewRuleCacheHandler constructs a handler. auditLog may be nil.
func NewRuleCacheHandler(cache CacheInvalidator, auditLog audit.Logger, logger zerolog.Logger) (*RuleCacheHandler, error) {
	if cache == nil {
		return nil, errors.New("rule cache handler: nil cache")
	}
	return &RuleCacheHandler{cache: cache, audit: auditLog, logger: logger}, nil
}

// ServeHTTP handles POST /api/v1/rules/cache/invalidate?sensor_id=.
func (h *RuleCacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sensorID := r.URL.Query().Get("sensor_id")
	h.cache.InvalidateCache(sensorID)

	scope := sensorID
	if scope == "" {
		scope = "*"
	}
	h.logger.Info().Str("sensor_id", scope).Str("actor", auth.SubjectFromContext(r.Context())).Msg("rule cache invalidated")
	if h.audit != nil {
		meta, _ := json.Marshal(map[string]string{"sensor_id": scope})
		if err := h.audit.Log(r.Context(), audit.Entry{
			FacilityID:   auth.FacilityIDFromContext(r.Context()),
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "alert_rule.cache_invalidate",
			ResourceType: "sensor",
			ResourceID:   scope,
			Metadata:     meta,
			IP:           r.RemoteAddr,
			UserAgent:    r.UserAgent(),
		}); err != nil {
			h.logger.Warn().Err(err).Msg("audit log failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": scope})
}
