package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cardforge/internal/domain"
	"cardforge/internal/infra"
	"cardforge/internal/orchestrator"
)

// CardService is the orchestrator surface the HTTP layer depends on.
type CardService interface {
	StartDraftBatch(ctx context.Context, req domain.CardRequest, n int) (string, error)
	SelectDraft(ctx context.Context, displaySlot int, current domain.CardRequest) (string, error)
	StartSingleGeneration(ctx context.Context, req domain.CardRequest) (string, error)
	State(ctx context.Context) (*orchestrator.Snapshot, error)
	Subscribe() (<-chan orchestrator.Event, func())
	ReadyCard() *domain.Card
}

type App struct {
	Cards      CardService
	Logger     infra.Logger
	DraftCount int

	// fetch retrieves panel bytes for the download archive.
	fetch *http.Client
}

func NewApp(cards CardService, logger infra.Logger, draftCount int) *App {
	if draftCount <= 0 {
		draftCount = orchestrator.DefaultDraftCount
	}
	return &App{
		Cards:      cards,
		Logger:     logger,
		DraftCount: draftCount,
		fetch:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
