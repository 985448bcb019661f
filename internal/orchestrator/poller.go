package orchestrator

import (
	"context"
	"math"
	"time"

	"cardforge/internal/domain"
	"cardforge/internal/infra"
	"cardforge/internal/providers/image"
)

// PollConfig tunes the status-query loop. The zero value is usable; every
// field falls back to a default.
type PollConfig struct {
	// Interval is the fixed re-query delay while the remote job is
	// legitimately still processing.
	Interval time.Duration
	// BackoffBase, BackoffGrowth, BackoffCeiling and BackoffCap shape the
	// bounded exponential backoff applied only when the status query
	// itself fails: delay = min(ceiling, base * growth^min(attempt-1, cap)).
	BackoffBase    time.Duration
	BackoffGrowth  float64
	BackoffCeiling time.Duration
	BackoffCap     int
	// MaxSession bounds how long one session keeps polling a stuck job.
	// On expiry the job is left processing for the next session's recovery
	// scan; it is never failed client-side. Zero means no bound.
	MaxSession time.Duration
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffGrowth <= 1 {
		c.BackoffGrowth = 2
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 30 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 6
	}
	if c.MaxSession < 0 {
		c.MaxSession = 0
	}
	return c
}

// backoffDelay computes the delay after the attempt-th consecutive failed
// status query (attempt >= 1).
func (c PollConfig) backoffDelay(attempt int) time.Duration {
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	if exp > c.BackoffCap {
		exp = c.BackoffCap
	}
	delay := time.Duration(float64(c.BackoffBase) * math.Pow(c.BackoffGrowth, float64(exp)))
	if delay > c.BackoffCeiling || delay <= 0 {
		delay = c.BackoffCeiling
	}
	return delay
}

// Settlement is the terminal outcome a Poller reports, exactly once.
type Settlement struct {
	JobID  string
	Status domain.JobStatus
	Result *domain.JobResult
	Reason string
}

// Poller drives one job from processing to a terminal state by querying the
// image backend on a schedule. Failures of the query itself are transient
// and retried with bounded backoff; only an explicit remote verdict settles
// the job.
type Poller struct {
	backend image.Backend
	clock   Clock
	cfg     PollConfig
	logger  infra.Logger
}

// NewPoller builds a poller over the given backend.
func NewPoller(backend image.Backend, clock Clock, cfg PollConfig, logger infra.Logger) *Poller {
	if clock == nil {
		clock = SystemClock()
	}
	return &Poller{
		backend: backend,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Poll blocks until the job settles, the context is cancelled, or the
// session poll budget runs out. onSettled is invoked at most once, and
// always exactly once when a terminal remote verdict arrives.
func (p *Poller) Poll(ctx context.Context, jobID, remoteID string, onSettled func(Settlement)) {
	attempt := 0
	started := p.clock.Now()
	for {
		var delay time.Duration
		status, err := p.backend.Status(ctx, remoteID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay = p.cfg.backoffDelay(attempt)
			p.logger.Warn().Err(err).
				Str("job_id", jobID).
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Msg("poller: status query failed, backing off")
		case status.State == image.JobStateCompleted:
			onSettled(Settlement{
				JobID:  jobID,
				Status: domain.JobStatusCompleted,
				Result: &domain.JobResult{
					ImageURLs:    status.ImageURLs,
					StyleVariant: status.StyleVariant,
				},
			})
			return
		case status.State == image.JobStateFailed:
			onSettled(Settlement{
				JobID:  jobID,
				Status: domain.JobStatusFailed,
				Reason: status.Reason,
			})
			return
		default:
			// Still processing: a successful query resets the failure streak.
			attempt = 0
			delay = p.cfg.Interval
		}

		if p.cfg.MaxSession > 0 && p.clock.Now().Sub(started)+delay > p.cfg.MaxSession {
			p.logger.Info().
				Str("job_id", jobID).
				Dur("session_budget", p.cfg.MaxSession).
				Msg("poller: session poll budget exhausted, leaving job for recovery")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(delay):
		}
	}
}
