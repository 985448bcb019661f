// Package kv provides the persistent key-value store that checkpoints job
// state across process restarts. Semantics are deliberately small: string
// keys, opaque byte values, last-write-wins, no transactions.
package kv

import "context"

// Store is the contract shared by all backends.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Keys lists all keys starting with prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases backend resources.
	Close() error
}
