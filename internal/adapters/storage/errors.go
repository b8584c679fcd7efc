package storage

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrEmptyKey = errors.New("storage key must not be empty")
	ErrClosed   = errors.New("storage closed")
)
