// Package image wraps the asynchronous image-generation service.
package image

import (
	"context"

	"cardforge/internal/domain"
)

// JobState is the remote service's view of a generation job.
type JobState string

const (
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// GenerationConfig carries the knobs for one generation job. Quality is
// what makes draft mode fast and final mode slow.
type GenerationConfig struct {
	Model       string         `json:"model,omitempty"`
	AspectRatio string         `json:"aspect_ratio,omitempty"`
	Quality     domain.Quality `json:"quality"`
	InputImages []string       `json:"input_images,omitempty"`
}

// JobStatus is the answer to a status query.
type JobStatus struct {
	State JobState `json:"status"`
	// ImageURLs is populated once the job completed.
	ImageURLs []string `json:"images,omitempty"`
	// StyleVariant echoes the artistic style the service applied.
	StyleVariant string `json:"style_variant,omitempty"`
	// Reason describes why the job failed.
	Reason string `json:"reason,omitempty"`
}

// Backend is the contract implemented by image-generation providers.
type Backend interface {
	// Start submits a generation job and returns the remote job handle.
	Start(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
	// Status queries the remote job. A returned error means the query
	// itself failed, which is distinct from the remote job failing.
	Status(ctx context.Context, jobID string) (*JobStatus, error)
}
