package dashboard

import (
	"time"

	"github.com/okian/tenon/internal/domain/invite"
	"github.com/okian/tenon/pkg/logger"
)

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithRedirect sets where the dashboard sends the browser when the session
// is missing or lacks the recruiter permission.
func WithRedirect(fn func(target string)) Option {
	return func(d *Dashboard) { d.redirect = fn }
}

// WithReturnTo sets the page to come back to after signing in.
func WithReturnTo(path string) Option {
	return func(d *Dashboard) {
		if path != "" {
			d.returnTo = path
		}
	}
}

// WithToastDismiss sets how long a toast stays up.
func WithToastDismiss(v time.Duration) Option {
	return func(d *Dashboard) {
		if v > 0 {
			d.toastDismiss = v
		}
	}
}

// WithCopyReset sets how long the copied indicator stays on.
func WithCopyReset(v time.Duration) Option {
	return func(d *Dashboard) {
		if v > 0 {
			d.copyReset = v
		}
	}
}

// WithResendFallback overrides invite.DefaultResendCooldown.
func WithResendFallback(v time.Duration) Option {
	return func(d *Dashboard) {
		if v > 0 {
			d.resendFallback = v
		}
	}
}

// WithClock sets the clock used for resend cooldowns.
func WithClock(now func() time.Time) Option {
	return func(d *Dashboard) { d.cooldowns = invite.NewCooldowns(now) }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dashboard) { d.log = logger.OrNop(l) }
}
