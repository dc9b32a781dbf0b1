package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	alertapp "greenhouse-cloud/internal/alerts/application"
	"greenhouse-cloud/internal/auth"
)

// Subscription is one client's view of the alert stream.
type Subscription struct {
	facilityID string
	ch         chan []byte
}

// FacilityID is the facility filter, empty for every facility.
func (s *Subscription) FacilityID() string { return s.facilityID }

// Events delivers marshalled AlertCreated payloads. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan []byte { return s.ch }

// SSEBroker fans out alert:created events to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[*Subscription]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[*Subscription]struct{})}
}

// HandleAlertCreated is an eventbus handler for alert:created.
func (b *SSEBroker) HandleAlertCreated(_ context.Context, event any) error {
	if b == nil {
		return nil
	}
	created, ok := event.(alertapp.AlertCreated)
	if !ok {
		return errors.New("sse broker: unexpected event type")
	}
	payload, err := json.Marshal(created)
	if err != nil {
		return err
	}
	b.broadcast(created.FacilityID, payload)
	return nil
}

// Subscribe registers a client for facilityID, or for every facility when empty.
func (b *SSEBroker) Subscribe(facilityID string) *Subscription {
	if b == nil {
		return nil
	}
	client := &Subscription{facilityID: facilityID, ch: make(chan []byte, 16)}
	b.mu.Lock()
	b.clients[client] = struct{}{}
	b.mu.Unlock()
	return client
}

// Unsubscribe removes a client.
func (b *SSEBroker) Unsubscribe(client *Subscription) {
	if b == nil || client == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.ch)
	}
	b.mu.Unlock()
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast drops the payload for clients whose buffer is full.
func (b *SSEBroker) broadcast(facilityID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		if client.facilityID != "" && client.facilityID != facilityID {
			continue
		}
		select {
		case client.ch <- payload:
		default:
		}
	}
}

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/alerts/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	facilityID, err := auth.ResolveFacility(r.Context(), r.URL.Query().Get("facility_id"))
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.broker.Subscribe(facilityID)
	defer h.broker.Unsubscribe(client)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case payload, ok := <-client.Events():
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + alertapp.AlertCreatedEvent + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
