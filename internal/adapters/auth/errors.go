package auth

import "errors"

// Sentinel kinds for auth errors.
var (
	ErrNoSession        = errors.New("no session")
	ErrInvalidSession   = errors.New("invalid session")
	ErrTokenUnavailable = errors.New("access token unavailable")
	ErrStateMismatch    = errors.New("login state mismatch")
	ErrNotConfigured    = errors.New("identity provider not configured")
	ErrNoSecret         = errors.New("session secret not set")
)
