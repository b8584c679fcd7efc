package candidate

import (
	"context"
	"time"

	"github.com/okian/tenon/pkg/logger"
)

// Option configures a Controller.
type Option func(*Controller)

// WithAdvanceDelay sets how long the submitted banner shows before the next
// task is fetched.
func WithAdvanceDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.advanceDelay = d
		}
	}
}

// WithDraftDebounce sets the draft autosave window.
func WithDraftDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.draftDebounce = d
		}
	}
}

// WithAuthTokenSource sets how the signed-in bearer token is loaded on Mount.
func WithAuthTokenSource(fn func(ctx context.Context) (string, error)) Option {
	return func(c *Controller) { c.authToken = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.log = logger.OrNop(l) }
}
