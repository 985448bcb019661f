package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrJobSettled      = errors.New("job already settled")
	ErrNoActiveBatch   = errors.New("no active draft batch")
	ErrEmptySlot       = errors.New("no draft at display slot")
	ErrPromptUnusable  = errors.New("prompt service returned unusable output")
	ErrProviderFailure = errors.New("provider failure")
	ErrShareFailed     = errors.New("share handshake failed")
)
