package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"cardforge/internal/domain"
)

func birthdayRequest() domain.CardRequest {
	return domain.CardRequest{
		Theme:       "birthday",
		Tone:        "playful",
		Style:       "smart",
		Recipient:   "Alex",
		AspectRatio: "5:7",
	}
}

func TestStartDraftBatchCreatesNDistinctVariations(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 5); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}

	pending, err := h.jobs.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 5 {
		t.Fatalf("created %d job records, want 5", len(pending))
	}
	seen := map[int]bool{}
	for _, j := range pending {
		if j.Kind != domain.JobKindDraft {
			t.Fatalf("job %s kind = %s", j.ID, j.Kind)
		}
		if j.Context.Quality != domain.QualityDraft {
			t.Fatalf("draft job %s has quality %s", j.ID, j.Context.Quality)
		}
		if seen[j.VariationIndex] {
			t.Fatalf("variation index %d appears twice", j.VariationIndex)
		}
		seen[j.VariationIndex] = true
	}
	for i := 0; i < 5; i++ {
		if !seen[i] {
			t.Fatalf("variation index %d missing", i)
		}
	}

	started := h.backend.startedJobs()
	if len(started) != 5 {
		t.Fatalf("backend saw %d starts, want 5", len(started))
	}
	for _, s := range started {
		if s.cfg.Quality != domain.QualityDraft {
			t.Fatalf("backend start quality = %s, want draft", s.cfg.Quality)
		}
	}
}

// The worked scenario: variation 4 completes first, then 0, 1, 2; variation
// 3 fails. Display order must be completion order with the mapping intact,
// and the batch settles after the fifth terminal observation.
func TestDisplayOrderIsCompletionOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, domain.CardRequest{Theme: "birthday"}, 5); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}

	completionOrder := []int{4, 0, 1, 2}
	for slot, variation := range completionOrder {
		remote := h.backend.remoteFor(t, fmt.Sprintf("front-%d ", variation))
		h.backend.complete(remote, []string{fmt.Sprintf("https://img/v%d.png", variation)}, "")
		ev := waitEvent(t, h.events, EventDraftCompleted)
		if ev.DisplaySlot != slot {
			t.Fatalf("variation %d landed at slot %d, want %d", variation, ev.DisplaySlot, slot)
		}
		if ev.VariationIndex != variation {
			t.Fatalf("slot %d maps to variation %d, want %d", slot, ev.VariationIndex, variation)
		}
	}

	h.backend.fail(h.backend.remoteFor(t, "front-3 "), "nsfw filter")
	waitEvent(t, h.events, EventDraftFailed)
	waitEvent(t, h.events, EventBatchSettled)

	snap, err := h.orch.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !snap.Settled {
		t.Fatal("batch should be settled after 5 terminal observations")
	}
	if len(snap.Display) != 4 {
		t.Fatalf("display length = %d, want 4", len(snap.Display))
	}
	wantMapping := []int{4, 0, 1, 2}
	if len(snap.Mapping) != len(wantMapping) {
		t.Fatalf("mapping = %v, want %v", snap.Mapping, wantMapping)
	}
	for i, v := range wantMapping {
		if snap.Mapping[i] != v {
			t.Fatalf("mapping[%d] = %d, want %d", i, snap.Mapping[i], v)
		}
	}
}

func TestDuplicateTerminalDeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 3); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}
	h.backend.complete(h.backend.remoteFor(t, "front-1 "), []string{"https://img/1.png"}, "")
	ev := waitEvent(t, h.events, EventDraftCompleted)
	waitRemoved(t, h.jobs, ev.JobID)

	// Replay the settlement as a late duplicate.
	h.orch.onSettled(Settlement{
		JobID:  ev.JobID,
		Status: domain.JobStatusCompleted,
		Result: &domain.JobResult{ImageURLs: []string{"https://img/dup.png"}},
	})

	snap, err := h.orch.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(snap.Display) != 1 {
		t.Fatalf("duplicate delivery duplicated the display entry: %v", snap.Display)
	}
	if snap.Settled {
		t.Fatal("duplicate delivery double-counted toward settlement")
	}
}

func TestZeroSuccessesConsolidatesIntoSingleBatchFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 3); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}
	for i := 0; i < 3; i++ {
		h.backend.fail(h.backend.remoteFor(t, fmt.Sprintf("front-%d ", i)), "overloaded")
	}
	waitEvent(t, h.events, EventBatchFailed)
	expectNoEvent(t, h.events, EventBatchSettled, 20*time.Millisecond)
}

func TestPromotionUsesAnchorPromptVerbatim(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 3); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}
	// Variation 2 completes first and takes display slot 0.
	h.backend.complete(h.backend.remoteFor(t, "front-2 "), []string{"https://img/v2.png"}, "vintage letterpress")
	waitEvent(t, h.events, EventDraftCompleted)

	// The user edited the message since the batch started.
	current := birthdayRequest()
	current.Message = "Now we are six!"
	finalID, err := h.orch.SelectDraft(ctx, 0, current)
	if err != nil {
		t.Fatalf("SelectDraft: %v", err)
	}

	started := h.backend.startedJobs()
	final := started[len(started)-1]
	anchor := "front-2 for birthday"
	if !strings.Contains(final.prompt, anchor) {
		t.Fatalf("final prompt does not contain the anchor verbatim: %q", final.prompt)
	}
	if final.cfg.Quality != domain.QualityFinal {
		t.Fatalf("final quality = %s, want %s", final.cfg.Quality, domain.QualityFinal)
	}

	job, err := h.jobs.Get(ctx, finalID)
	if err != nil {
		t.Fatalf("Get final job: %v", err)
	}
	if job.Kind != domain.JobKindFinal {
		t.Fatalf("kind = %s", job.Kind)
	}
	if job.Context.FrontPrompt != anchor {
		t.Fatalf("stored anchor = %q", job.Context.FrontPrompt)
	}
	if job.Context.Request.Message != "Now we are six!" {
		t.Fatalf("promotion dropped current user fields: %q", job.Context.Request.Message)
	}
}

func TestLateSiblingCompletionAfterPromotionIsAbsorbed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 2); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}
	h.backend.complete(h.backend.remoteFor(t, "front-0 "), []string{"https://img/v0.png"}, "")
	waitEvent(t, h.events, EventDraftCompleted)

	if _, err := h.orch.SelectDraft(ctx, 0, birthdayRequest()); err != nil {
		t.Fatalf("SelectDraft: %v", err)
	}

	// The abandoned sibling finishes late; its record must drain from the
	// store without surfacing as an actionable draft.
	pending, err := h.jobs.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	var siblingID string
	for _, j := range pending {
		if j.Kind == domain.JobKindDraft {
			if !j.Superseded {
				t.Fatalf("sibling %s was not marked superseded", j.ID)
			}
			siblingID = j.ID
		}
	}
	if siblingID == "" {
		t.Fatal("expected a still-processing sibling")
	}
	h.backend.complete(h.backend.remoteFor(t, "front-1 "), []string{"https://img/v1.png"}, "")
	waitRemoved(t, h.jobs, siblingID)
	expectNoEvent(t, h.events, EventDraftCompleted, 20*time.Millisecond)
}

func TestFinalCompletionRunsShareHandshake(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 1); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}
	h.backend.complete(h.backend.remoteFor(t, "front-0 "), []string{"https://img/v0.png"}, "")
	waitEvent(t, h.events, EventDraftCompleted)

	finalID, err := h.orch.SelectDraft(ctx, 0, birthdayRequest())
	if err != nil {
		t.Fatalf("SelectDraft: %v", err)
	}
	urls := []string{
		"https://img/final-front.png",
		"https://img/final-back.png",
		"https://img/final-il.png",
		"https://img/final-ir.png",
	}
	h.backend.complete(h.backend.remoteFor(t, "back matching anchor"), urls, "")

	ev := waitEvent(t, h.events, EventCardReady)
	if ev.Card == nil {
		t.Fatal("card ready event without card")
	}
	if ev.Card.ShareURL != "https://cards.example/s/test" {
		t.Fatalf("share url = %q", ev.Card.ShareURL)
	}
	if len(ev.Card.Panels) != 4 || ev.Card.Panels[1].Name != "back" {
		t.Fatalf("panels = %+v", ev.Card.Panels)
	}
	waitRemoved(t, h.jobs, finalID)
}

func TestShareFailureDegradesGracefully(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.share.err = domain.ErrShareFailed

	if _, err := h.orch.StartSingleGeneration(ctx, birthdayRequest()); err != nil {
		t.Fatalf("StartSingleGeneration: %v", err)
	}
	h.backend.complete(h.backend.remoteFor(t, "back matching anchor"), []string{"https://img/f.png"}, "")

	ev := waitEvent(t, h.events, EventCardReady)
	if ev.Card == nil || ev.Card.ShareURL != "" {
		t.Fatalf("expected card ready without share url, got %+v", ev.Card)
	}
}

func TestFinalFailureIsUserBlocking(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartSingleGeneration(ctx, birthdayRequest()); err != nil {
		t.Fatalf("StartSingleGeneration: %v", err)
	}
	h.backend.fail(h.backend.remoteFor(t, "back matching anchor"), "render farm down")
	ev := waitEvent(t, h.events, EventFinalFailed)
	if ev.Reason != "render farm down" {
		t.Fatalf("reason = %q", ev.Reason)
	}
}

func TestNewBatchSupersedesPreviousBatch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 2); err != nil {
		t.Fatalf("first StartDraftBatch: %v", err)
	}
	firstRemote := h.backend.remoteFor(t, "front-0 ")

	wedding := domain.CardRequest{Theme: "wedding"}
	if _, err := h.orch.StartDraftBatch(ctx, wedding, 2); err != nil {
		t.Fatalf("second StartDraftBatch: %v", err)
	}

	// A late completion from the abandoned batch is absorbed quietly.
	h.backend.complete(firstRemote, []string{"https://img/old.png"}, "")
	expectNoEvent(t, h.events, EventDraftCompleted, 20*time.Millisecond)

	snap, err := h.orch.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if len(snap.Display) != 0 {
		t.Fatalf("old batch leaked into the new display list: %+v", snap.Display)
	}
}

func TestSelectDraftValidatesSlot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.SelectDraft(ctx, 0, birthdayRequest()); err == nil {
		t.Fatal("expected error with no active batch")
	}
	if _, err := h.orch.StartDraftBatch(ctx, birthdayRequest(), 2); err != nil {
		t.Fatalf("StartDraftBatch: %v", err)
	}
	if _, err := h.orch.SelectDraft(ctx, 0, birthdayRequest()); err == nil {
		t.Fatal("expected error for empty display slot")
	}
}
