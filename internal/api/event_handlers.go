package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ignite/member-messaging/internal/domain"
)

// PublishEvent ingests a domain event. The response is always 202 once the
// payload parses: matching and enqueueing happen asynchronously so the
// caller's request path never waits on the automation engine.
//
//	POST /api/events
func (s *Server) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string            `json:"name"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if body.Payload == nil {
		body.Payload = map[string]string{}
	}

	s.events.Publish(r.Context(), domain.Event{
		Name:       body.Name,
		Payload:    body.Payload,
		OccurredAt: time.Now(),
	})
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
