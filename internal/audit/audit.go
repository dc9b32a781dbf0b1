package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	FacilityID    string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates an audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LogWriter writes audit entries to a structured log instead of a table.
type LogWriter struct {
	logger zerolog.Logger
}

// NewLogWriter constructs a log-backed audit logger.
func NewLogWriter(logger zerolog.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Log writes entry as one log line.
func (w *LogWriter) Log(_ context.Context, entry Entry) error {
	fill(&entry)
	w.logger.Info().
		Str("audit_id", entry.ID).
		Str("facility_id", entry.FacilityID).
		Str("actor", entry.Actor).
		Str("role", entry.Role).
		Str("action", entry.Action).
		Str("resource_type", entry.ResourceType).
		Str("resource_id", entry.ResourceID).
		RawJSON("metadata", nonEmptyJSON(entry.Metadata)).
		Str("payload_digest", entry.PayloadDigest).
		Time("created_at", entry.CreatedAt).
		Msg("audit")
	return nil
}

func fill(entry *Entry) {
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
