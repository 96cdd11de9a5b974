// ABOUTME: Server-sent events endpoint streaming store mutations and actions to the UI
// ABOUTME: Bus subscriptions are bound to the request context so disconnects clean up

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/ordertrack/internal/bus"
	"github.com/2389/ordertrack/internal/store"
)

// sseEvent pairs a stream event name with its JSON payload.
type sseEvent struct {
	name string
	data any
}

// handleEvents streams store activity over SSE. Each mutation arrives as a
// "mutation" event and each settled dispatch as an "action" event. The
// subscriptions die with the request context, so a dropped client needs no
// explicit cleanup.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Buffered so a slow client drops events instead of stalling publishers.
	events := make(chan sseEvent, 64)
	ctx := r.Context()

	enqueue := func(name string) bus.Listener {
		return func(payload any) {
			select {
			case events <- sseEvent{name: name, data: payload}:
			default:
				s.logger.Warn("SSE client too slow, dropping event", "event", name)
			}
		}
	}

	eventBus := s.store.Bus()
	if _, err := eventBus.Subscribe(store.TopicMutation, enqueue("mutation"), bus.WithContext(ctx)); err != nil {
		s.sendJSONError(w, http.StatusInternalServerError, "subscribing failed")
		return
	}
	if _, err := eventBus.Subscribe(store.TopicAction, enqueue("action"), bus.WithContext(ctx)); err != nil {
		s.sendJSONError(w, http.StatusInternalServerError, "subscribing failed")
		return
	}

	s.writeSSEEvent(w, "connected", map[string]string{"status": "ok"})
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := s.writeSSEEvent(w, ev.name, ev.data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE frame with a named event and JSON data.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling SSE data: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, encoded)
	return err
}
