// Package orchestrator coordinates asynchronous card generation: draft
// fan-out, per-job polling, completion-order aggregation, promotion of a
// selected draft to a final job, and crash recovery from persisted state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardforge/internal/adapter/repo"
	"cardforge/internal/domain"
	"cardforge/internal/infra"
	"cardforge/internal/providers/image"
	"cardforge/internal/providers/prompt"
)

// DefaultDraftCount is how many variations a draft batch fans out to when
// the caller does not say otherwise.
const DefaultDraftCount = 5

// ShareService persists a finished card and returns a shareable URL.
type ShareService interface {
	Store(ctx context.Context, card domain.Card) (string, error)
}

// QROverlayer stamps the share URL onto a panel image.
type QROverlayer interface {
	Overlay(ctx context.Context, panelURL, shareURL string) ([]byte, error)
}

// PanelStore hosts overlaid panel images.
type PanelStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Jobs    *repo.JobStore
	Prompts prompt.Service
	Images  image.Backend
	// Share, Overlay and Panels are optional; without them the share
	// handshake degrades to "card ready, no share url".
	Share        ShareService
	Overlay      QROverlayer
	Panels       PanelStore
	PanelBaseURL string
	Clock        Clock
	Poll         PollConfig
	Logger       infra.Logger
	Model        string
}

// DisplayEntry is one completed draft as the user sees it: display slots
// are assigned in completion order, not variation order.
type DisplayEntry struct {
	Slot           int
	VariationIndex int
	JobID          string
	Result         domain.JobResult
	// Context is retained in memory past job removal so promotion can use
	// the draft's stored front-artwork prompt as anchor.
	Context domain.CardContext
}

type draftBatch struct {
	id       string
	request  domain.CardRequest
	n        int
	terminal int
	failures int
	settled  bool
	display  []DisplayEntry
	mapping  []int
	// settledJobs makes duplicate terminal deliveries for one job id a
	// no-op instead of a double-count.
	settledJobs map[string]bool
}

// Orchestrator is the explicit state object behind the UI surface. All
// mutations of the aggregation structures are serialized by mu, which plays
// the role the single-threaded event loop plays in a browser client.
type Orchestrator struct {
	mu sync.Mutex

	jobs    *repo.JobStore
	prompts prompt.Service
	images  image.Backend
	share   ShareService
	overlay QROverlayer
	panels  PanelStore

	panelBaseURL string
	model        string

	clock  Clock
	poll   PollConfig
	logger infra.Logger

	batch      *draftBatch
	finalJobID string
	lastCard   *domain.Card

	// baseCtx outlives individual HTTP requests; pollers run on it.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New builds an orchestrator. Call Stop to detach all pollers.
func New(opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:         opts.Jobs,
		prompts:      opts.Prompts,
		images:       opts.Images,
		share:        opts.Share,
		overlay:      opts.Overlay,
		panels:       opts.Panels,
		panelBaseURL: opts.PanelBaseURL,
		model:        opts.Model,
		clock:        clock,
		poll:         opts.Poll.withDefaults(),
		logger:       opts.Logger,
		baseCtx:      ctx,
		stop:         cancel,
		subs:         make(map[int]chan Event),
	}
}

// Stop detaches every poller and closes subscriber channels. In-flight
// remote jobs are not cancelled; their records stay in the store for the
// next session's recovery scan.
func (o *Orchestrator) Stop() {
	o.stop()
	o.wg.Wait()
	o.subMu.Lock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.subMu.Unlock()
}

// Subscribe returns a channel of change notifications and a cancel func.
// Slow subscribers drop events rather than blocking the orchestrator.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSub
	o.nextSub++
	ch := make(chan Event, 32)
	o.subs[id] = ch
	return ch, func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		if c, ok := o.subs[id]; ok {
			close(c)
			delete(o.subs, id)
		}
	}
}

func (o *Orchestrator) publish(ev Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// StartDraftBatch fans out n concurrent draft jobs for the given card
// request and returns the batch id. n <= 0 uses DefaultDraftCount. Any
// previous batch or final job is logically superseded, never cancelled
// remotely.
func (o *Orchestrator) StartDraftBatch(ctx context.Context, req domain.CardRequest, n int) (string, error) {
	if n <= 0 {
		n = DefaultDraftCount
	}

	fronts, err := o.prompts.FrontPrompts(ctx, prompt.FrontRequest{
		Card:   req,
		Count:  n,
		Locale: req.Locale,
	})
	if err != nil {
		return "", fmt.Errorf("%w: front prompts: %v", domain.ErrPromptUnusable, err)
	}
	byVariation := make(map[int]prompt.FrontPrompt, len(fronts))
	for _, f := range fronts {
		byVariation[f.VariationIndex] = f
	}

	o.mu.Lock()
	o.supersedeLocked(ctx)
	batchID := uuid.NewString()
	batch := &draftBatch{
		id:          batchID,
		request:     req,
		n:           n,
		settledJobs: make(map[string]bool),
	}
	o.batch = batch
	o.mu.Unlock()

	for i := 0; i < n; i++ {
		front, ok := byVariation[i]
		if !ok {
			// This variation's prompt never materialized; it fails in
			// isolation and still counts toward settlement.
			o.recordVariationFailure(batchID, i, "prompt generation failed")
			continue
		}
		job := &domain.Job{
			ID:             uuid.NewString(),
			Kind:           domain.JobKindDraft,
			BatchID:        batchID,
			BatchSize:      n,
			VariationIndex: i,
			Status:         domain.JobStatusProcessing,
			SubmittedAt:    o.clock.Now(),
			Attempt:        1,
			Context: domain.CardContext{
				Request:      req,
				FrontPrompt:  front.Text,
				StyleVariant: front.StyleVariant,
				Quality:      domain.QualityDraft,
				Model:        o.model,
			},
		}
		// Persist before the remote call so a teardown mid-start leaves a
		// record the recovery scan can reconcile.
		if err := o.jobs.Create(ctx, job); err != nil {
			o.recordVariationFailure(batchID, i, "persist failed: "+err.Error())
			continue
		}
		remoteID, err := o.images.Start(ctx, front.Text, image.GenerationConfig{
			Model:       o.model,
			AspectRatio: req.AspectRatio,
			Quality:     domain.QualityDraft,
			InputImages: req.ReferenceImages,
		})
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.ID).Int("variation", i).Msg("orchestrator: draft start failed")
			_ = o.jobs.Remove(ctx, job.ID)
			o.recordVariationFailure(batchID, i, "image job start failed")
			continue
		}
		if _, err := o.jobs.Update(ctx, job.ID, func(j *domain.Job) {
			j.RemoteID = remoteID
		}); err != nil {
			o.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: record remote id failed")
		}
		o.attachPoller(job.ID, remoteID)
	}

	o.logger.Info().Str("batch_id", batchID).Int("variations", n).Msg("orchestrator: draft batch started")
	return batchID, nil
}

// attachPoller runs a poller for the job on the orchestrator's own context
// so it survives the HTTP request that created it.
func (o *Orchestrator) attachPoller(jobID, remoteID string) {
	p := NewPoller(o.images, o.clock, o.poll, o.logger)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		p.Poll(o.baseCtx, jobID, remoteID, o.onSettled)
	}()
}

// recordVariationFailure marks a variation that never got a running job as
// terminally failed so the batch still settles after exactly n observations.
func (o *Orchestrator) recordVariationFailure(batchID string, variation int, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.batch
	if batch == nil || batch.id != batchID {
		return
	}
	batch.terminal++
	batch.failures++
	o.logger.Warn().Str("batch_id", batchID).Int("variation", variation).Str("reason", reason).Msg("orchestrator: draft variation failed")
	o.publish(Event{Type: EventDraftFailed, BatchID: batchID, VariationIndex: variation, Reason: reason})
	o.maybeSettleLocked(batch)
}

// onSettled is the single funnel for terminal poller outcomes. It looks up
// the persisted record, routes drafts and finals, and absorbs anything
// stale (superseded jobs, duplicates, jobs already consumed) as a no-op.
// The record keeps its processing status until the outcome has been fully
// consumed; a teardown anywhere in here is replayed by the recovery scan,
// which re-queries the backend and lands in this same funnel.
func (o *Orchestrator) onSettled(s Settlement) {
	ctx := context.Background()
	job, err := o.jobs.Get(ctx, s.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		// Already consumed. A duplicate delivery, not a bug.
		return
	}
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", s.JobID).Msg("orchestrator: load settled job failed")
		return
	}
	if job.Superseded {
		// Late completion of an abandoned job: accepted so nothing leaks,
		// never resurfaced to the UI.
		_ = o.jobs.Remove(ctx, s.JobID)
		return
	}

	switch job.Kind {
	case domain.JobKindDraft:
		o.settleDraft(ctx, job, s)
	case domain.JobKindFinal:
		o.settleFinal(ctx, job, s)
	}
}

func (o *Orchestrator) settleDraft(ctx context.Context, job *domain.Job, s Settlement) {
	o.mu.Lock()
	batch := o.batch
	if batch == nil || batch.id != job.BatchID {
		// The batch this job belonged to is gone; absorb quietly.
		o.mu.Unlock()
		_ = o.jobs.Remove(ctx, job.ID)
		return
	}
	if batch.settledJobs[job.ID] {
		o.mu.Unlock()
		return
	}
	batch.settledJobs[job.ID] = true
	batch.terminal++

	var ev Event
	if s.Status == domain.JobStatusCompleted && s.Result != nil {
		entry := DisplayEntry{
			Slot:           len(batch.display),
			VariationIndex: job.VariationIndex,
			JobID:          job.ID,
			Result:         *s.Result,
			Context:        job.Context,
		}
		batch.display = append(batch.display, entry)
		batch.mapping = append(batch.mapping, job.VariationIndex)
		ev = Event{
			Type:           EventDraftCompleted,
			JobID:          job.ID,
			BatchID:        batch.id,
			DisplaySlot:    entry.Slot,
			VariationIndex: job.VariationIndex,
			Result:         s.Result,
		}
	} else {
		batch.failures++
		ev = Event{
			Type:           EventDraftFailed,
			JobID:          job.ID,
			BatchID:        batch.id,
			VariationIndex: job.VariationIndex,
			Reason:         s.Reason,
		}
	}
	o.publish(ev)
	o.maybeSettleLocked(batch)
	o.mu.Unlock()

	// Terminal and consumed: the record has done its job.
	_ = o.jobs.Remove(ctx, job.ID)
}

// maybeSettleLocked fires the aggregate signal exactly once, at the point
// the n-th terminal observation lands. Callers hold o.mu.
func (o *Orchestrator) maybeSettleLocked(batch *draftBatch) {
	if batch.settled || batch.terminal < batch.n {
		return
	}
	batch.settled = true
	if len(batch.display) == 0 {
		o.logger.Warn().Str("batch_id", batch.id).Msg("orchestrator: batch settled with zero successes")
		o.publish(Event{Type: EventBatchFailed, BatchID: batch.id, Reason: "generation failed, try again"})
		return
	}
	o.logger.Info().Str("batch_id", batch.id).Int("succeeded", len(batch.display)).Int("failed", batch.failures).Msg("orchestrator: batch settled")
	o.publish(Event{Type: EventBatchSettled, BatchID: batch.id})
}

// supersedeLocked marks every still-processing job of the current batch and
// any in-flight final job as superseded. Their pollers keep running so the
// records eventually settle and drain from the store, but their outcomes
// stop reaching the UI. Callers hold o.mu.
func (o *Orchestrator) supersedeLocked(ctx context.Context) {
	if o.batch != nil && !o.batch.settled {
		batchID := o.batch.id
		pending, err := o.jobs.ListPending(ctx)
		if err != nil {
			o.logger.Error().Err(err).Msg("orchestrator: list pending for supersede failed")
		} else {
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
	}
	o.batch = nil
	o.lastCard = nil
	if o.finalJobID != "" {
		if _, err := o.jobs.Update(ctx, o.finalJobID, func(job *domain.Job) {
			job.Superseded = true
		}); err != nil && !errors.Is(err, domain.ErrNotFound) {
			o.logger.Error().Err(err).Str("job_id", o.finalJobID).Msg("orchestrator: supersede final failed")
		}
		o.finalJobID = ""
	}
}

// PendingJob is the observable view of one still-processing job.
type PendingJob struct {
	ID             string        `json:"id"`
	Kind           domain.JobKind `json:"kind"`
	VariationIndex int           `json:"variation_index"`
	Elapsed        time.Duration `json:"elapsed"`
}

// DisplaySlot is the observable view of one completed draft.
type DisplaySlot struct {
	Slot           int      `json:"slot"`
	VariationIndex int      `json:"variation_index"`
	ImageURLs      []string `json:"image_urls"`
	StyleVariant   string   `json:"style_variant,omitempty"`
}

// Snapshot is the orchestrator's observable state for rendering.
type Snapshot struct {
	BatchID  string        `json:"batch_id,omitempty"`
	Display  []DisplaySlot `json:"display"`
	Mapping  []int         `json:"mapping"`
	Settled  bool          `json:"settled"`
	Pending  []PendingJob  `json:"pending"`
	FinalJob string        `json:"final_job,omitempty"`
	Card     *domain.Card  `json:"card,omitempty"`
}

// ReadyCard returns the most recently finished card, or nil.
func (o *Orchestrator) ReadyCard() *domain.Card {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastCard == nil {
		return nil
	}
	cp := *o.lastCard
	cp.Panels = append([]domain.CardPanel(nil), o.lastCard.Panels...)
	return &cp
}

// State reports the current aggregate view. Elapsed times come from the
// persisted SubmittedAt so they survive restarts.
func (o *Orchestrator) State(ctx context.Context) (*Snapshot, error) {
	pendingJobs, err := o.jobs.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	now := o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	snap := &Snapshot{FinalJob: o.finalJobID, Card: o.lastCard}
	if o.batch != nil {
		snap.BatchID = o.batch.id
		snap.Settled = o.batch.settled
		for _, e := range o.batch.display {
			snap.Display = append(snap.Display, DisplaySlot{
				Slot:           e.Slot,
				VariationIndex: e.VariationIndex,
				ImageURLs:      e.Result.ImageURLs,
				StyleVariant:   e.Result.StyleVariant,
			})
		}
		snap.Mapping = append(snap.Mapping, o.batch.mapping...)
	}
	for _, j := range pendingJobs {
		if j.Superseded {
			continue
		}
		snap.Pending = append(snap.Pending, PendingJob{
			ID:             j.ID,
			Kind:           j.Kind,
			VariationIndex: j.VariationIndex,
			Elapsed:        j.Elapsed(now),
		})
	}
	return snap, nil
}
