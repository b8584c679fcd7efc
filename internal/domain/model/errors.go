package model

import "errors"

// ErrInvalidPayload marks a payload that failed schema validation.
var ErrInvalidPayload = errors.New("invalid payload")
