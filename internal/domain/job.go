package domain

import "time"

// JobKind enumerates generation job categories.
type JobKind string

const (
	JobKindDraft JobKind = "draft"
	JobKindFinal JobKind = "final"
)

// JobStatus enumerates job lifecycle states. A job is terminal once its
// status is no longer processing.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the unit of work tracked by the orchestrator. IDs are assigned
// client-side so a record can be persisted before the remote service has
// acknowledged anything.
type Job struct {
	ID             string      `json:"id"`
	Kind           JobKind     `json:"kind"`
	BatchID        string      `json:"batch_id"`
	BatchSize      int         `json:"batch_size,omitempty"`
	VariationIndex int         `json:"variation_index"`
	Status         JobStatus   `json:"status"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	Context        CardContext `json:"context"`
	Result         *JobResult  `json:"result,omitempty"`
	FailReason     string      `json:"fail_reason,omitempty"`
	Superseded     bool        `json:"superseded,omitempty"`

	// RemoteID is the image service's handle for this job.
	RemoteID string `json:"remote_id"`

	// Attempt counts poll attempts within the current session. Recovery
	// resets it to 1 rather than trusting the stale persisted value.
	Attempt int `json:"-"`
}

// JobResult holds what the image service returned for a completed job.
type JobResult struct {
	ImageURLs []string `json:"image_urls"`
	// StyleVariant echoes which artistic style the service ended up using.
	// Meaningful for smart-style drafts where the style was picked for the
	// user rather than by them.
	StyleVariant string `json:"style_variant,omitempty"`
}

// Elapsed reports how long the job has been running relative to now. The
// caller supplies now so recovered jobs compute elapsed time from the
// persisted SubmittedAt instead of an in-memory counter.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.SubmittedAt.IsZero() {
		return 0
	}
	return now.Sub(j.SubmittedAt)
}
