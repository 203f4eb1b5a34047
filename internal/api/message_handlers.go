package api

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/member-messaging/internal/domain"
)

// ProcessMessages runs one dispatch tick: claim due messages and send them.
// Cron-compatible so deployments without a resident worker can drive
// dispatch from an external scheduler.
//
//	POST /api/messages/process
func (s *Server) ProcessMessages(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		respondError(w, http.StatusServiceUnavailable, "dispatcher not running on this instance")
		return
	}
	claimed, err := s.dispatcher.Tick(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "message processing failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"claimed": claimed})
}

// CancelMessages cancels all pending messages linked to an entity. Messages
// already claimed by a dispatcher are untouched.
//
//	POST /api/messages/cancel
func (s *Server) CancelMessages(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RelatedEntityType string `json:"related_entity_type"`
		RelatedEntityID   string `json:"related_entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.RelatedEntityType {
	case domain.EntityAutomationRule, domain.EntitySequenceEnrollment,
		domain.EntityCampaign, domain.EntitySession:
	default:
		respondError(w, http.StatusBadRequest, "invalid related_entity_type")
		return
	}
	if body.RelatedEntityID == "" {
		respondError(w, http.StatusBadRequest, "related_entity_id is required")
		return
	}

	n, err := s.messages.CancelByEntity(r.Context(), body.RelatedEntityType, body.RelatedEntityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"cancelled": n})
}

// MessageStats returns queue depth by status plus dispatch counters.
//
//	GET /api/messages/stats
func (s *Server) MessageStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.messages.CountByStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count messages")
		return
	}
	out := map[string]interface{}{"queue": counts}
	if s.dispatcher != nil {
		out["dispatch"] = s.dispatcher.Stats()
	}
	respondJSON(w, http.StatusOK, out)
}
