package bff

import "errors"

var (
	// ErrUpstream marks an upstream call that produced no HTTP response.
	ErrUpstream = errors.New("upstream request failed")
	// ErrBodyTooLarge marks an upstream body above the configured limit.
	ErrBodyTooLarge = errors.New("upstream body too large")
)
