// Package api exposes the campaign intake HTTP surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-engine/internal/intake"
	"github.com/ignite/campaign-engine/internal/store"
)

// Handlers contains the HTTP handlers for campaign submission and
// status reads.
type Handlers struct {
	intake *intake.Service
}

// NewHandlers creates a Handlers instance over the intake service.
func NewHandlers(svc *intake.Service) *Handlers {
	return &Handlers{intake: svc}
}

// SubmitCampaign handles POST /api/campaigns.
func (h *Handlers) SubmitCampaign(w http.ResponseWriter, r *http.Request) {
	var sub intake.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}

	id, err := h.intake.SubmitCampaign(r.Context(), &sub)
	if err != nil {
		var verr *intake.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusUnprocessableEntity, verr.Kind, verr.Message)
			return
		}
		respondError(w, http.StatusServiceUnavailable, "transient", "campaign could not be launched, retry the submission")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"campaign_id": id})
}

// GetCampaign handles GET /api/campaigns/{campaignID}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	c, err := h.intake.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "no such campaign")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "transient", "campaign store unavailable")
		return
	}

	respondJSON(w, http.StatusOK, c)
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, map[string]string{
		"error_kind":    kind,
		"error_message": message,
	})
}
