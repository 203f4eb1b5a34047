package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/repository/postgres"
)

// ListSequences returns all sequences.
//
//	GET /api/sequences
func (s *Server) ListSequences(w http.ResponseWriter, r *http.Request) {
	seqs, err := s.sequences.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sequences")
		return
	}
	if seqs == nil {
		seqs = []domain.Sequence{}
	}
	respondJSON(w, http.StatusOK, seqs)
}

// CreateSequence creates a sequence. Steps are added separately.
//
//	POST /api/sequences
func (s *Server) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var seq domain.Sequence
	if err := json.NewDecoder(r.Body).Decode(&seq); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if seq.Name == "" || seq.TriggerEvent == "" {
		respondError(w, http.StatusBadRequest, "name and trigger_event are required")
		return
	}
	// An exit event equal to the trigger event would cancel every enrollment
	// on the same event that created it.
	for _, ev := range seq.ExitEvents {
		if ev == seq.TriggerEvent {
			respondError(w, http.StatusBadRequest, "exit_events cannot contain trigger_event")
			return
		}
	}

	id, err := s.sequences.Create(r.Context(), &seq)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create sequence")
		return
	}
	seq.ID = id
	respondJSON(w, http.StatusCreated, seq)
}

// GetSequence returns a sequence together with its ordered steps.
//
//	GET /api/sequences/{id}
func (s *Server) GetSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seq, err := s.sequences.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrSequenceNotFound) {
			respondError(w, http.StatusNotFound, "sequence not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get sequence")
		return
	}
	steps, err := s.sequences.ListSteps(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}
	if steps == nil {
		steps = []domain.SequenceStep{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sequence": seq,
		"steps":    steps,
	})
}

// UpdateSequenceStatus moves a sequence between active, paused and archived.
// Pausing stops new enrollments and step sends; already-queued messages
// still dispatch.
//
//	PUT /api/sequences/{id}/status
func (s *Server) UpdateSequenceStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status domain.SequenceStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.Status {
	case domain.SequenceActive, domain.SequencePaused, domain.SequenceArchived:
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := s.sequences.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status); err != nil {
		if errors.Is(err, postgres.ErrSequenceNotFound) {
			respondError(w, http.StatusNotFound, "sequence not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update sequence status")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(body.Status)})
}

// DeleteSequence removes a sequence and its steps.
//
//	DELETE /api/sequences/{id}
func (s *Server) DeleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.sequences.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, postgres.ErrSequenceNotFound) {
			respondError(w, http.StatusNotFound, "sequence not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete sequence")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSteps returns a sequence's steps in order.
//
//	GET /api/sequences/{id}/steps
func (s *Server) ListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.sequences.ListSteps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}
	if steps == nil {
		steps = []domain.SequenceStep{}
	}
	respondJSON(w, http.StatusOK, steps)
}

// CreateStep appends a step to a sequence; step_order is assigned
// server-side.
//
//	POST /api/sequences/{id}/steps
func (s *Server) CreateStep(w http.ResponseWriter, r *http.Request) {
	var step domain.SequenceStep
	if err := json.NewDecoder(r.Body).Decode(&step); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	step.SequenceID = chi.URLParam(r, "id")
	if step.TemplateID == "" {
		respondError(w, http.StatusBadRequest, "template_id is required")
		return
	}
	if step.Channel != domain.ChannelEmail && step.Channel != domain.ChannelSMS {
		respondError(w, http.StatusBadRequest, "channel must be email or sms")
		return
	}
	if step.DelayMinutes < 0 {
		respondError(w, http.StatusBadRequest, "delay_minutes cannot be negative")
		return
	}
	if step.DelayFrom != "" && step.DelayFrom != domain.DelayFromEnrollment && step.DelayFrom != domain.DelayFromPreviousStep {
		respondError(w, http.StatusBadRequest, "delay_from must be enrollment or previous_step")
		return
	}

	// Ensure the sequence exists before inserting into its step chain.
	if _, err := s.sequences.Get(r.Context(), step.SequenceID); err != nil {
		if errors.Is(err, postgres.ErrSequenceNotFound) {
			respondError(w, http.StatusNotFound, "sequence not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get sequence")
		return
	}

	id, err := s.sequences.CreateStep(r.Context(), &step)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create step")
		return
	}
	step.ID = id
	respondJSON(w, http.StatusCreated, step)
}

// DeleteStep removes a step. Remaining step orders keep their values; the
// engine tolerates gaps.
//
//	DELETE /api/sequences/{id}/steps/{stepID}
func (s *Server) DeleteStep(w http.ResponseWriter, r *http.Request) {
	err := s.sequences.DeleteStep(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stepID"))
	if err != nil {
		if errors.Is(err, postgres.ErrStepNotFound) {
			respondError(w, http.StatusNotFound, "step not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete step")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProcessSequences advances all due enrollments. Cron-compatible.
//
//	POST /api/sequences/process
func (s *Server) ProcessSequences(w http.ResponseWriter, r *http.Request) {
	if s.seqEngine == nil {
		respondError(w, http.StatusServiceUnavailable, "sequence engine not running on this instance")
		return
	}
	stats, err := s.seqEngine.ProcessDue(r.Context(), time.Now())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sequence processing failed")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
