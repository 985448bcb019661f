// Package repo persists job records in the key-value store so in-flight
// generation survives a process restart.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cardforge/internal/domain"
	"cardforge/internal/kv"
)

const jobKeyPrefix = "job/"

// JobStore maps job id to job record on top of a kv.Store. Every mutation
// is flushed to the backend before returning, so a teardown between "remote
// job completed" and "local state updated" loses nothing the recovery scan
// cannot rebuild.
type JobStore struct {
	store kv.Store
}

// NewJobStore creates a job store backed by the given key-value store.
func NewJobStore(store kv.Store) *JobStore {
	return &JobStore{store: store}
}

// Create persists a new job record.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("repo: job id is required")
	}
	return s.put(ctx, job)
}

// Get fetches a job by id, returning domain.ErrNotFound when absent.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := s.store.Get(ctx, jobKeyPrefix+id)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("repo: decode job %s: %w", id, err)
	}
	return &job, nil
}

// Update applies patch to the stored record and flushes it. It returns the
// patched job, or domain.ErrNotFound when the record no longer exists
// (e.g. a late callback for a job the UI already consumed).
func (s *JobStore) Update(ctx context.Context, id string, patch func(*domain.Job)) (*domain.Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	patch(job)
	if err := s.put(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Remove deletes a job record. Removing an absent record is a no-op.
func (s *JobStore) Remove(ctx context.Context, id string) error {
	return s.store.Delete(ctx, jobKeyPrefix+id)
}

// ListPending returns every job whose status was processing at last
// persist, regardless of elapsed wall time.
func (s *JobStore) ListPending(ctx context.Context) ([]*domain.Job, error) {
	keys, err := s.store.Keys(ctx, jobKeyPrefix)
	if err != nil {
		return nil, err
	}
	var pending []*domain.Job
	for _, key := range keys {
		raw, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var job domain.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return nil, fmt.Errorf("repo: decode %s: %w", key, err)
		}
		if job.Status == domain.JobStatusProcessing {
			pending = append(pending, &job)
		}
	}
	return pending, nil
}

func (s *JobStore) put(ctx context.Context, job *domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("repo: encode job %s: %w", job.ID, err)
	}
	return s.store.Set(ctx, jobKeyPrefix+job.ID, raw)
}
