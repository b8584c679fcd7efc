// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a YAML file and TENON_* env vars on top of the defaults.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"context"
	"time"
)

// Config contains process configuration for the BFF and the CLI client.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":3000".
	Addr string `koanf:"addr"`

	// BrandSlug prefixes diagnostic headers: x-{brand}-upstream-status, x-{brand}-bff.
	BrandSlug string `koanf:"brand_slug"`

	// BackendBaseURL is the upstream domain service. A trailing /api is stripped.
	BackendBaseURL string `koanf:"backend_base_url"`
	// UpstreamTimeoutMS bounds a single forwarded call.
	UpstreamTimeoutMS int `koanf:"upstream_timeout_ms"`
	// MaxUpstreamBodyBytes caps the upstream body read into memory.
	MaxUpstreamBodyBytes int64 `koanf:"max_upstream_body_bytes"`

	// Session cookie settings.
	SessionSecret     string `koanf:"session_secret"`
	SessionCookie     string `koanf:"session_cookie"`
	SessionTTLMinutes int    `koanf:"session_ttl_minutes"`
	// AcceptBearer lets API callers present an Authorization: Bearer token instead of a cookie.
	AcceptBearer bool `koanf:"accept_bearer"`

	// Identity provider (OAuth2 authorization code flow).
	AuthClientID     string `koanf:"auth_client_id"`
	AuthClientSecret string `koanf:"auth_client_secret"`
	AuthURL          string `koanf:"auth_url"`
	TokenURL         string `koanf:"token_url"`
	AuthRedirectURL  string `koanf:"auth_redirect_url"`
	AuthAudience     string `koanf:"auth_audience"`
	AuthScope        string `koanf:"auth_scope"`

	// PublicBaseURL is where the CLI reaches the BFF.
	PublicBaseURL string `koanf:"public_base_url"`

	// Client-side timers.
	SubmitAdvanceDelayMS    int `koanf:"submit_advance_delay_ms"`
	DraftDebounceMS         int `koanf:"draft_debounce_ms"`
	ToastDismissMS          int `koanf:"toast_dismiss_ms"`
	CopyResetMS             int `koanf:"copy_reset_ms"`
	ResendCooldownFallbackS int `koanf:"resend_cooldown_fallback_s"`

	// Metric naming and latency buckets (milliseconds) for the BFF.
	MetricsNamespace string    `koanf:"metrics_namespace"`
	MetricsSubsystem string    `koanf:"metrics_subsystem"`
	MetricsBuckets   []float64 `koanf:"metrics_buckets"`

	// StatePath is the sqlite file the CLI uses as per-tab session storage.
	StatePath string `koanf:"state_path"`
}

// New creates a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":3000",
		BrandSlug:               "tenon",
		BackendBaseURL:          "http://localhost:8000",
		UpstreamTimeoutMS:       15_000,
		MaxUpstreamBodyBytes:    10 << 20,
		SessionCookie:           "tenon_session",
		SessionTTLMinutes:       60 * 24,
		AuthScope:               "openid profile email offline_access",
		PublicBaseURL:           "http://localhost:3000",
		SubmitAdvanceDelayMS:    900,
		DraftDebounceMS:         350,
		ToastDismissMS:          6500,
		CopyResetMS:             2000,
		ResendCooldownFallbackS: 30,
		StatePath:               "tenon-state.db",
		MetricsNamespace:        "tenon",
		MetricsSubsystem:        "bff",
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// UpstreamTimeout returns the forwarder timeout.
func (c *Config) UpstreamTimeout() time.Duration { return ms(c.UpstreamTimeoutMS) }

// SessionTTL returns the session cookie lifetime.
func (c *Config) SessionTTL() time.Duration { return time.Duration(c.SessionTTLMinutes) * time.Minute }

// SubmitAdvanceDelay is how long the submitted banner shows before the next task loads.
func (c *Config) SubmitAdvanceDelay() time.Duration { return ms(c.SubmitAdvanceDelayMS) }

// DraftDebounce is the autosave debounce window.
func (c *Config) DraftDebounce() time.Duration { return ms(c.DraftDebounceMS) }

// ToastDismiss is the toast auto-dismiss delay.
func (c *Config) ToastDismiss() time.Duration { return ms(c.ToastDismissMS) }

// CopyReset is how long the copied indicator stays on.
func (c *Config) CopyReset() time.Duration { return ms(c.CopyResetMS) }

// ResendCooldownFallback is used when retry-after is not a number of seconds.
func (c *Config) ResendCooldownFallback() time.Duration {
	return time.Duration(c.ResendCooldownFallbackS) * time.Second
}

// AuthConfigured reports whether an identity provider is set up.
func (c *Config) AuthConfigured() bool {
	return c.AuthClientID != "" && c.AuthURL != "" && c.TokenURL != ""
}
