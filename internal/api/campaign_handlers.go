package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/member-messaging/internal/campaign"
	"github.com/ignite/member-messaging/internal/domain"
)

// ListCampaigns returns campaigns, optionally filtered by ?status=.
//
//	GET /api/campaigns
func (s *Server) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	out, err := s.campaigns.List(r.Context(), campaign.ListFilter{
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if out == nil {
		out = []domain.Campaign{}
	}
	respondJSON(w, http.StatusOK, out)
}

// CreateCampaign creates a draft campaign.
//
//	POST /api/campaigns
func (s *Server) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := s.campaigns.Create(r.Context(), input)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// GetCampaign returns a single campaign.
//
//	GET /api/campaigns/{id}
func (s *Server) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, campaign.ErrNotFound) {
			respondError(w, http.StatusNotFound, "campaign not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get campaign")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// SendCampaign resolves the audience and queues the send. Safe against
// double-submit: the second request gets 409.
//
//	POST /api/campaigns/{id}/send
func (s *Server) SendCampaign(w http.ResponseWriter, r *http.Request) {
	report, err := s.campaigns.Send(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, report)
	case errors.Is(err, campaign.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, campaign.ErrAlreadySending):
		respondError(w, http.StatusConflict, "campaign is already sending or sent")
	case errors.Is(err, campaign.ErrAudienceTooLarge):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, campaign.ErrNoTemplate):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "campaign send failed")
	}
}
