package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cardforge/internal/domain"
	"cardforge/internal/middleware"
)

type cardPayload struct {
	Theme           string   `json:"theme"`
	Tone            string   `json:"tone"`
	Style           string   `json:"style"`
	Occasion        string   `json:"occasion"`
	Recipient       string   `json:"recipient"`
	Message         string   `json:"message"`
	PaperFormat     string   `json:"paper_format"`
	AspectRatio     string   `json:"aspect_ratio"`
	ReferenceImages []string `json:"reference_images"`
}

type draftsRequest struct {
	cardPayload
	Count int `json:"count"`
}

type jobAccepted struct {
	BatchID string `json:"batch_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status"`
}

func (p cardPayload) toDomain(locale string) domain.CardRequest {
	return domain.CardRequest{
		Theme:           p.Theme,
		Tone:            p.Tone,
		Style:           p.Style,
		Occasion:        p.Occasion,
		Recipient:       p.Recipient,
		Message:         p.Message,
		PaperFormat:     p.PaperFormat,
		AspectRatio:     p.AspectRatio,
		Locale:          locale,
		ReferenceImages: p.ReferenceImages,
	}
}

// DraftsCreate fans out a new batch of draft variations. A new batch
// supersedes whatever was in flight.
func (a *App) DraftsCreate(w http.ResponseWriter, r *http.Request) {
	var req draftsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Theme == "" && req.Occasion == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "theme or occasion required")
		return
	}
	n := req.Count
	if n <= 0 {
		n = a.DraftCount
	}
	card := req.toDomain(middleware.LocaleFromContext(r.Context()))
	batchID, err := a.Cards.StartDraftBatch(r.Context(), card, n)
	if err != nil {
		if errors.Is(err, domain.ErrPromptUnusable) {
			a.error(w, http.StatusBadGateway, "prompt_failed", "could not generate prompts, try again")
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: start draft batch failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start drafts")
		return
	}
	a.json(w, http.StatusAccepted, jobAccepted{BatchID: batchID, Status: "processing"})
}

// DraftPromote turns the draft at a display slot into the final card job.
// The body carries the user-editable fields as they are now.
func (a *App) DraftPromote(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid display slot")
		return
	}
	var req cardPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	card := req.toDomain(middleware.LocaleFromContext(r.Context()))
	jobID, err := a.Cards.SelectDraft(r.Context(), slot, card)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoActiveBatch):
			a.error(w, http.StatusConflict, "no_active_batch", "no draft batch in progress")
		case errors.Is(err, domain.ErrEmptySlot):
			a.error(w, http.StatusNotFound, "empty_slot", "no draft at that display slot")
		case errors.Is(err, domain.ErrPromptUnusable):
			a.error(w, http.StatusBadGateway, "prompt_failed", "could not derive panel prompts")
		case errors.Is(err, domain.ErrProviderFailure):
			a.error(w, http.StatusBadGateway, "provider_failed", "image service rejected the job")
		default:
			a.Logger.Error().Err(err).Int("slot", slot).Msg("handlers: promote draft failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to promote draft")
		}
		return
	}
	a.json(w, http.StatusAccepted, jobAccepted{JobID: jobID, Status: "processing"})
}

// Generate skips the draft phase entirely.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req cardPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Theme == "" && req.Occasion == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "theme or occasion required")
		return
	}
	card := req.toDomain(middleware.LocaleFromContext(r.Context()))
	jobID, err := a.Cards.StartSingleGeneration(r.Context(), card)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPromptUnusable):
			a.error(w, http.StatusBadGateway, "prompt_failed", "could not generate prompts, try again")
		case errors.Is(err, domain.ErrProviderFailure):
			a.error(w, http.StatusBadGateway, "provider_failed", "image service rejected the job")
		default:
			a.Logger.Error().Err(err).Msg("handlers: single generation failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
		}
		return
	}
	a.json(w, http.StatusAccepted, jobAccepted{JobID: jobID, Status: "processing"})
}

// State reports the orchestrator snapshot for rendering: pending jobs with
// elapsed times, the display list in completion order, the variation
// mapping, and the settled flag.
func (a *App) State(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Cards.State(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: state snapshot failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load state")
		return
	}
	a.json(w, http.StatusOK, snap)
}
