package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for every environment override.
const EnvPrefix = "TENON_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if TENON_CONFIG is set
//  3. env (prefix TENON_)
//
// The result is checked with Validate, so a server config must carry a
// session_secret.
func Load(ctx context.Context) (*Config, error) {
	cfg, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient is Load for processes that never sign session cookies, such as
// the CLI. It skips the session_secret requirement.
func LoadClient(ctx context.Context) (*Config, error) {
	cfg, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// TENON_BACKEND_BASE_URL -> backend_base_url (flat keys, underscores kept)
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg.BackendBaseURL = NormalizeBackendBaseURL(cfg.BackendBaseURL)
	return &cfg, nil
}

// NormalizeBackendBaseURL trims whitespace, trailing slashes and a trailing /api.
func NormalizeBackendBaseURL(raw string) string {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	s = strings.TrimSuffix(s, "/api")
	return strings.TrimRight(s, "/")
}

// MinSessionSecretBytes is the shortest accepted session_secret.
const MinSessionSecretBytes = 32

// Validate checks everything ValidateClient does plus the session secret
// that signs and seals session cookies.
func (c *Config) Validate() error {
	if err := c.ValidateClient(); err != nil {
		return err
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("%w: session_secret must be set", ErrInvalidConfig)
	}
	if len(c.SessionSecret) < MinSessionSecretBytes {
		return fmt.Errorf("%w: session_secret must be at least %d bytes", ErrInvalidConfig, MinSessionSecretBytes)
	}
	for i := 1; i < len(c.MetricsBuckets); i++ {
		if c.MetricsBuckets[i] <= c.MetricsBuckets[i-1] {
			return fmt.Errorf("%w: metrics_buckets must be strictly increasing", ErrInvalidConfig)
		}
	}
	return nil
}

// ValidateClient checks the invariants shared by the server and the CLI.
func (c *Config) ValidateClient() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	u, err := url.Parse(c.BackendBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: backend_base_url must be an absolute http(s) URL, got %q", ErrInvalidConfig, c.BackendBaseURL)
	}
	for name, v := range map[string]int{
		"upstream_timeout_ms":        c.UpstreamTimeoutMS,
		"session_ttl_minutes":        c.SessionTTLMinutes,
		"submit_advance_delay_ms":    c.SubmitAdvanceDelayMS,
		"draft_debounce_ms":          c.DraftDebounceMS,
		"toast_dismiss_ms":           c.ToastDismissMS,
		"copy_reset_ms":              c.CopyResetMS,
		"resend_cooldown_fallback_s": c.ResendCooldownFallbackS,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}
	if c.MaxUpstreamBodyBytes <= 0 {
		return fmt.Errorf("%w: max_upstream_body_bytes must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	}
	return nil
}
