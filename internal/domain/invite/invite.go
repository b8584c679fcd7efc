// Package invite holds recruiter-side invite rules: local validation of the
// invite form and resend cooldown tracking.
package invite

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultResendCooldown applies when retry-after is missing or is not a
// number of seconds (for example an HTTP-date).
const DefaultResendCooldown = 30 * time.Second

// Validation messages shown before any network call.
var (
	ErrNameRequired  = errors.New("Candidate name is required.")  //nolint:staticcheck // user-facing sentence
	ErrEmailRequired = errors.New("Candidate email is required.") //nolint:staticcheck // user-facing sentence
)

// Validate checks the invite form and returns the trimmed values.
func Validate(candidateName, inviteEmail string) (string, string, error) {
	name := strings.TrimSpace(candidateName)
	email := strings.TrimSpace(inviteEmail)
	if name == "" {
		return "", "", ErrNameRequired
	}
	if email == "" {
		return "", "", ErrEmailRequired
	}
	return name, email, nil
}

// ParseRetryAfter converts a retry-after header to a cooldown. Only a whole,
// non-negative number of seconds is honoured; anything else yields fallback.
func ParseRetryAfter(value string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// Cooldowns tracks when each candidate session may be resent an invite.
type Cooldowns struct {
	mu    sync.Mutex
	until map[int64]time.Time
	now   func() time.Time
}

// NewCooldowns returns an empty tracker. now defaults to time.Now.
func NewCooldowns(now func() time.Time) *Cooldowns {
	if now == nil {
		now = time.Now
	}
	return &Cooldowns{until: make(map[int64]time.Time), now: now}
}

// Start begins a cooldown of d for a candidate session.
func (c *Cooldowns) Start(candidateSessionID int64, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[candidateSessionID] = c.now().Add(d)
}

// Remaining returns how long until a resend is allowed; zero means now.
func (c *Cooldowns) Remaining(candidateSessionID int64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[candidateSessionID]
	if !ok {
		return 0
	}
	left := until.Sub(c.now())
	if left <= 0 {
		delete(c.until, candidateSessionID)
		return 0
	}
	return left
}
