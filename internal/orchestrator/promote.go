package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"cardforge/internal/domain"
	"cardforge/internal/providers/image"
	"cardforge/internal/providers/prompt"
)

var panelOrder = []string{"front", "back", "interior_left", "interior_right"}

// SelectDraft promotes the draft at the given display slot into one
// high-quality final job. The current request carries the user-editable
// fields as they are now; only the draft's front-artwork prompt is reused,
// verbatim, as the anchor for the remaining panels. Selecting a draft
// implicitly abandons its still-processing siblings.
func (o *Orchestrator) SelectDraft(ctx context.Context, displaySlot int, current domain.CardRequest) (string, error) {
	o.mu.Lock()
	batch := o.batch
	if batch == nil {
		o.mu.Unlock()
		return "", domain.ErrNoActiveBatch
	}
	if displaySlot < 0 || displaySlot >= len(batch.display) {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: slot %d", domain.ErrEmptySlot, displaySlot)
	}
	entry := batch.display[displaySlot]
	anchor := entry.Context.FrontPrompt
	o.mu.Unlock()

	// Drafts only ever generated a front preview; the remaining panels are
	// derived fresh against the anchor, from the fields as they are NOW.
	panels, err := o.prompts.PanelPrompts(ctx, prompt.PanelRequest{
		Card:   current,
		Anchor: anchor,
		Locale: current.Locale,
	})
	if err != nil {
		return "", fmt.Errorf("%w: panel prompts: %v", domain.ErrPromptUnusable, err)
	}

	message := current.Message
	if strings.TrimSpace(message) == "" {
		if generated, err := o.prompts.CardCopy(ctx, prompt.CopyRequest{Card: current, Locale: current.Locale}); err == nil {
			message = generated
		}
	}

	merged := current
	merged.Message = message
	cctx := domain.CardContext{
		Request:      merged,
		FrontPrompt:  anchor,
		Panels:       panels,
		StyleVariant: entry.Context.StyleVariant,
		Quality:      domain.QualityFinal,
		Model:        o.model,
	}
	jobID, err := o.startFinal(ctx, cctx)
	if err != nil {
		return "", err
	}

	// The chosen draft wins; whatever siblings are still processing are
	// abandoned client-side only.
	o.mu.Lock()
	o.supersedePendingDraftsLocked(ctx, batch.id)
	o.mu.Unlock()

	o.logger.Info().Str("job_id", jobID).Int("slot", displaySlot).Int("variation", entry.VariationIndex).Msg("orchestrator: draft promoted")
	return jobID, nil
}

// StartSingleGeneration skips the draft phase: one final job straight from
// the request. Any in-flight batch or final job is superseded.
func (o *Orchestrator) StartSingleGeneration(ctx context.Context, req domain.CardRequest) (string, error) {
	fronts, err := o.prompts.FrontPrompts(ctx, prompt.FrontRequest{Card: req, Count: 1, Locale: req.Locale})
	if err != nil || len(fronts) == 0 {
		return "", fmt.Errorf("%w: front prompt: %v", domain.ErrPromptUnusable, err)
	}
	front := fronts[0]
	panels, err := o.prompts.PanelPrompts(ctx, prompt.PanelRequest{
		Card:   req,
		Anchor: front.Text,
		Locale: req.Locale,
	})
	if err != nil {
		return "", fmt.Errorf("%w: panel prompts: %v", domain.ErrPromptUnusable, err)
	}

	message := req.Message
	if strings.TrimSpace(message) == "" {
		if generated, err := o.prompts.CardCopy(ctx, prompt.CopyRequest{Card: req, Locale: req.Locale}); err == nil {
			message = generated
		}
	}

	merged := req
	merged.Message = message
	o.mu.Lock()
	o.supersedeLocked(ctx)
	o.mu.Unlock()

	return o.startFinal(ctx, domain.CardContext{
		Request:      merged,
		FrontPrompt:  front.Text,
		Panels:       panels,
		StyleVariant: front.StyleVariant,
		Quality:      domain.QualityFinal,
		Model:        o.model,
	})
}

// startFinal persists and launches exactly one high-quality final job.
func (o *Orchestrator) startFinal(ctx context.Context, cctx domain.CardContext) (string, error) {
	job := &domain.Job{
		ID:          uuid.NewString(),
		Kind:        domain.JobKindFinal,
		Status:      domain.JobStatusProcessing,
		SubmittedAt: o.clock.Now(),
		Attempt:     1,
		Context:     cctx,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("orchestrator: persist final job: %w", err)
	}

	remoteID, err := o.images.Start(ctx, finalPrompt(cctx), image.GenerationConfig{
		Model:       o.model,
		AspectRatio: cctx.Request.AspectRatio,
		Quality:     domain.QualityFinal,
		InputImages: cctx.Request.ReferenceImages,
	})
	if err != nil {
		_ = o.jobs.Remove(ctx, job.ID)
		return "", fmt.Errorf("%w: start final job: %v", domain.ErrProviderFailure, err)
	}
	if _, err := o.jobs.Update(ctx, job.ID, func(j *domain.Job) {
		j.RemoteID = remoteID
	}); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: record remote id failed")
	}

	o.mu.Lock()
	// A newer final job supersedes the previous one, if any.
	if o.finalJobID != "" && o.finalJobID != job.ID {
		if _, err := o.jobs.Update(ctx, o.finalJobID, func(j *domain.Job) {
			j.Superseded = true
		}); err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.logger.Error().Err(err).Str("job_id", o.finalJobID).Msg("orchestrator: supersede previous final failed")
		}
	}
	o.finalJobID = job.ID
	o.mu.Unlock()

	o.attachPoller(job.ID, remoteID)
	return job.ID, nil
}

// finalPrompt concatenates the anchor front prompt, unmodified, with the
// freshly derived panel prompts into the multi-panel request payload.
func finalPrompt(cctx domain.CardContext) string {
	p := cctx.Panels
	if p == nil {
		return cctx.FrontPrompt
	}
	sections := []string{
		"front: " + p.Front,
		"back: " + p.Back,
		"interior_left: " + p.InteriorLeft,
		"interior_right: " + p.InteriorRight,
	}
	return strings.Join(sections, "\n\n")
}

// supersedePendingDraftsLocked marks the batch's still-processing jobs as
// superseded without touching already-displayed entries. Callers hold o.mu.
func (o *Orchestrator) supersedePendingDraftsLocked(ctx context.Context, batchID string) {
	pending, err := o.jobs.ListPending(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("orchestrator: list pending for supersede failed")
		return
	}
	for _, j := range pending {
		if j.BatchID != batchID || j.Superseded {
			continue
		}
		if _, err := o.jobs.Update(ctx, j.ID, func(job *domain.Job) {
			job.Superseded = true
		}); err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.logger.Error().Err(err).Str("job_id", j.ID).Msg("orchestrator: supersede failed")
		}
	}
}

// settleFinal completes the final-job pipeline: share/persist handshake,
// then the card-ready signal. Share or QR failure degrades gracefully; the
// card is still done.
func (o *Orchestrator) settleFinal(ctx context.Context, job *domain.Job, s Settlement) {
	o.mu.Lock()
	if o.finalJobID != job.ID {
		// A newer generation replaced this final while it was in flight.
		o.mu.Unlock()
		_ = o.jobs.Remove(ctx, job.ID)
		return
	}
	o.finalJobID = ""
	o.mu.Unlock()

	if s.Status == domain.JobStatusFailed {
		o.logger.Error().Str("job_id", job.ID).Str("reason", s.Reason).Msg("orchestrator: final job failed")
		o.publish(Event{Type: EventFinalFailed, JobID: job.ID, Reason: s.Reason})
		_ = o.jobs.Remove(ctx, job.ID)
		return
	}

	card := assembleCard(job, s.Result)
	o.shareHandshake(ctx, card)
	o.mu.Lock()
	o.lastCard = card
	o.mu.Unlock()
	o.publish(Event{Type: EventCardReady, JobID: job.ID, Card: card})
	_ = o.jobs.Remove(ctx, job.ID)
}

// assembleCard maps the final job's image URLs onto named panels in wire
// order: front, back, interior left, interior right.
func assembleCard(job *domain.Job, result *domain.JobResult) *domain.Card {
	card := &domain.Card{
		ID:      job.ID,
		Message: job.Context.Request.Message,
	}
	if result == nil {
		return card
	}
	for i, url := range result.ImageURLs {
		name := fmt.Sprintf("panel_%d", i)
		if i < len(panelOrder) {
			name = panelOrder[i]
		}
		card.Panels = append(card.Panels, domain.CardPanel{Name: name, URL: url})
	}
	return card
}

// shareHandshake stores the card for a share URL and stamps it as a QR code
// onto the back panel. Every step is optional-best-effort.
func (o *Orchestrator) shareHandshake(ctx context.Context, card *domain.Card) {
	if o.share == nil {
		return
	}
	shareURL, err := o.share.Store(ctx, *card)
	if err != nil {
		o.logger.Warn().Err(err).Str("card_id", card.ID).Msg("orchestrator: share handshake failed, card is still ready")
		return
	}
	card.ShareURL = shareURL

	if o.overlay == nil || o.panels == nil {
		return
	}
	backIdx := -1
	for i, p := range card.Panels {
		if p.Name == "back" {
			backIdx = i
			break
		}
	}
	if backIdx < 0 {
		return
	}
	stamped, err := o.overlay.Overlay(ctx, card.Panels[backIdx].URL, shareURL)
	if err != nil {
		o.logger.Warn().Err(err).Str("card_id", card.ID).Msg("orchestrator: qr overlay failed, keeping plain back panel")
		return
	}
	key, err := o.panels.Write(ctx, fmt.Sprintf("cards/%s/back-qr.png", card.ID), stamped)
	if err != nil {
		o.logger.Warn().Err(err).Str("card_id", card.ID).Msg("orchestrator: persist stamped panel failed")
		return
	}
	if o.panelBaseURL != "" {
		card.Panels[backIdx].URL = strings.TrimRight(o.panelBaseURL, "/") + "/" + key
	} else {
		card.Panels[backIdx].URL = key
	}
}
