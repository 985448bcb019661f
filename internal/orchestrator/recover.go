package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"cardforge/internal/domain"
	"cardforge/internal/providers/image"
)

// recoveryStatusFanout bounds concurrent status queries during the scan.
const recoveryStatusFanout = 4

// Recover runs once at session start. Every record the store still reports
// as processing is reconciled against the backend: already-terminal jobs go
// through the same settle path the live pipeline uses, and genuinely
// in-flight jobs get a fresh poller with the attempt counter reset.
func (o *Orchestrator) Recover(ctx context.Context) error {
	pending, err := o.jobs.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	o.logger.Info().Int("jobs", len(pending)).Msg("orchestrator: recovering persisted jobs")

	o.rebuildAggregation(pending)

	statuses := make([]*image.JobStatus, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryStatusFanout)
	for i, job := range pending {
		i, job := i, job
		g.Go(func() error {
			st, err := o.images.Status(gctx, job.RemoteID)
			if err != nil {
				// A failed query is transient here exactly as it is in the
				// live poll loop; the job just stays attached.
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: recovery status query failed")
				return nil
			}
			statuses[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, job := range pending {
		st := statuses[i]
		switch {
		case st == nil || st.State == image.JobStateProcessing:
			// Still running (or unknown): re-attach with attempt reset;
			// elapsed time is recomputed from the persisted SubmittedAt.
			o.attachPoller(job.ID, job.RemoteID)
		case st.State == image.JobStateCompleted:
			o.onSettled(Settlement{
				JobID:  job.ID,
				Status: domain.JobStatusCompleted,
				Result: &domain.JobResult{
					ImageURLs:    st.ImageURLs,
					StyleVariant: st.StyleVariant,
				},
			})
		case st.State == image.JobStateFailed:
			o.onSettled(Settlement{
				JobID:  job.ID,
				Status: domain.JobStatusFailed,
				Reason: st.Reason,
			})
		}
	}
	return nil
}

// rebuildAggregation reconstructs just enough in-memory batch state for the
// settle path to work: the display list of the interrupted session is gone,
// so recovered completions take display slots from zero in scan completion
// order. Jobs the previous session already consumed were removed from the
// store and count as settled.
func (o *Orchestrator) rebuildAggregation(pending []*domain.Job) {
	var activeBatch *domain.Job
	var activeFinal *domain.Job
	perBatch := make(map[string]int)
	for _, j := range pending {
		if j.Superseded {
			continue
		}
		switch j.Kind {
		case domain.JobKindDraft:
			perBatch[j.BatchID]++
			if activeBatch == nil || j.SubmittedAt.After(activeBatch.SubmittedAt) {
				activeBatch = j
			}
		case domain.JobKindFinal:
			if activeFinal == nil || j.SubmittedAt.After(activeFinal.SubmittedAt) {
				activeFinal = j
			}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if activeBatch != nil {
		n := activeBatch.BatchSize
		if n <= 0 {
			n = perBatch[activeBatch.BatchID]
		}
		o.batch = &draftBatch{
			id:          activeBatch.BatchID,
			request:     activeBatch.Context.Request,
			n:           n,
			terminal:    n - perBatch[activeBatch.BatchID],
			settledJobs: make(map[string]bool),
		}
	}
	if activeFinal != nil {
		o.finalJobID = activeFinal.ID
	}
}
