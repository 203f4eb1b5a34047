package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/member-messaging/internal/domain"
	"github.com/ignite/member-messaging/internal/repository/postgres"
)

// ListRules returns all automation rules.
//
//	GET /api/rules
func (s *Server) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if rules == nil {
		rules = []domain.AutomationRule{}
	}
	respondJSON(w, http.StatusOK, rules)
}

// CreateRule creates an automation rule.
//
//	POST /api/rules
func (s *Server) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AutomationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.Name == "" || rule.EventName == "" || rule.TemplateID == "" {
		respondError(w, http.StatusBadRequest, "name, event_name and template_id are required")
		return
	}
	if rule.Channel != domain.ChannelEmail && rule.Channel != domain.ChannelSMS {
		respondError(w, http.StatusBadRequest, "channel must be email or sms")
		return
	}
	if rule.DelayMinutes < 0 {
		respondError(w, http.StatusBadRequest, "delay_minutes cannot be negative")
		return
	}

	id, err := s.rules.Create(r.Context(), &rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	rule.ID = id
	respondJSON(w, http.StatusCreated, rule)
}

// GetRule returns a single rule.
//
//	GET /api/rules/{id}
func (s *Server) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpdateRule replaces a rule's mutable fields.
//
//	PUT /api/rules/{id}
func (s *Server) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.AutomationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if err := s.rules.Update(r.Context(), &rule); err != nil {
		if errors.Is(err, postgres.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// UpdateRuleStatus moves a rule between active, paused and archived.
//
//	PUT /api/rules/{id}/status
func (s *Server) UpdateRuleStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status domain.RuleStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.Status {
	case domain.RuleActive, domain.RulePaused, domain.RuleArchived:
	default:
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := s.rules.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status); err != nil {
		if errors.Is(err, postgres.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update rule status")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(body.Status)})
}

// DeleteRule removes a rule.
//
//	DELETE /api/rules/{id}
func (s *Server) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, postgres.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
