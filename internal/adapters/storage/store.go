// Package storage provides the per-tab key/value storage that backs candidate
// session state and task drafts.
package storage

import "context"

// Store is a string-keyed blob store scoped to one browser tab (or CLI profile).
// Writes are last-writer-wins.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
