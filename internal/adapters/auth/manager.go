package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/okian/tenon/internal/config"
	"github.com/okian/tenon/internal/domain/identity"
	"github.com/okian/tenon/pkg/logger"
	"github.com/okian/tenon/pkg/metrics"
)

const stateCookieSuffix = "_state"

// Manager resolves and stores sessions.
type Manager struct {
	codec        *Codec
	cookieName   string
	ttl          time.Duration
	acceptBearer bool
	oauth        *oauth2.Config
	audience     string
	log          logger.Logger
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = logger.OrNop(l) }
}

// WithOAuthConfig replaces the identity provider configuration built from config.
func WithOAuthConfig(c *oauth2.Config) Option {
	return func(m *Manager) { m.oauth = c }
}

// NewManager builds a Manager from process configuration.
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cookieName:   cfg.SessionCookie,
		ttl:          cfg.SessionTTL(),
		acceptBearer: cfg.AcceptBearer,
		audience:     cfg.AuthAudience,
		log:          logger.NewNop(),
		now:          time.Now,
	}
	if cfg.AuthConfigured() {
		m.oauth = &oauth2.Config{
			ClientID:     cfg.AuthClientID,
			ClientSecret: cfg.AuthClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
			RedirectURL:  cfg.AuthRedirectURL,
			Scopes:       strings.Fields(cfg.AuthScope),
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	m.codec = NewCodec(cfg.SessionSecret, m.ttl, m.now)
	return m
}

// Configured reports whether the login flow is available.
func (m *Manager) Configured() bool { return m.oauth != nil }

// Session resolves the session of r. A cookie session wins over a bearer token.
func (m *Manager) Session(r *http.Request) (*Session, error) {
	if raw, ok := readCookie(r, m.cookieName); ok {
		s, err := m.codec.Decode(raw)
		if err == nil {
			return s, nil
		}
		m.log.Debug(r.Context(), "ignoring invalid session cookie", logger.Error(err))
	}
	if m.acceptBearer {
		if token, ok := bearerToken(r); ok {
			return m.bearerSession(token), nil
		}
	}
	return nil, ErrNoSession
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// bearerSession trusts the upstream to verify the token; claims are only
// decoded to derive permissions and expiry.
func (m *Manager) bearerSession(token string) *Session {
	claims := identity.DecodeTokenClaims(token)
	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if exp, ok := claims["exp"].(float64); ok && exp > 0 {
		tok.Expiry = time.Unix(int64(exp), 0)
	}
	s := NewSession(nil, tok, m.now())
	s.User = claims
	s.Bearer = true
	return s
}

// Save writes s as the session cookie.
func (m *Manager) Save(w http.ResponseWriter, r *http.Request, s *Session) error {
	raw, err := m.codec.Encode(s)
	if err != nil {
		return err
	}
	writeCookie(w, r, m.cookieName, raw, m.ttl)
	return nil
}

// Clear removes the session cookie.
func (m *Manager) Clear(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, r, m.cookieName)
}

func (m *Manager) tokenValid(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	// oauth2.Token.Valid uses the wall clock; keep the injected one.
	return t.Expiry.IsZero() || t.Expiry.After(m.now().Add(10*time.Second))
}

// AccessToken returns a usable access token for s. When the stored token has
// expired it is refreshed through the identity provider; the refreshed
// session is returned so the caller can persist it.
func (m *Manager) AccessToken(ctx context.Context, s *Session) (string, *Session, error) {
	if s == nil {
		return "", nil, ErrNoSession
	}
	if m.tokenValid(s.Token) {
		return s.Token.AccessToken, nil, nil
	}
	if s.Bearer {
		metrics.RecordSessionRefresh("expired_bearer")
		return "", nil, fmt.Errorf("%w: bearer token expired", ErrTokenUnavailable)
	}
	if s.Token == nil || s.Token.RefreshToken == "" {
		metrics.RecordSessionRefresh("no_refresh_token")
		return "", nil, fmt.Errorf("%w: access token expired and no refresh token is available", ErrTokenUnavailable)
	}
	if m.oauth == nil {
		metrics.RecordSessionRefresh("not_configured")
		return "", nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, ErrNotConfigured)
	}
	expired := *s.Token
	expired.Expiry = m.now().Add(-time.Minute)
	fresh, err := m.oauth.TokenSource(ctx, &expired).Token()
	if err != nil {
		metrics.RecordSessionRefresh("error")
		return "", nil, fmt.Errorf("%w: refresh: %w", ErrTokenUnavailable, err)
	}
	metrics.RecordSessionRefresh("ok")
	user := s.User
	if idt, ok := fresh.Extra("id_token").(string); ok && idt != "" {
		if c := identity.DecodeTokenClaims(idt); c != nil {
			user = c
		}
	}
	next := NewSession(user, fresh, s.CreatedAt)
	next.ID = s.ID
	return fresh.AccessToken, next, nil
}

// Touch resolves the session of r and refreshes its token when needed,
// re-saving the cookie. It never fails the request; a session that cannot be
// refreshed is returned as is and rejected later by the access check.
func (m *Manager) Touch(w http.ResponseWriter, r *http.Request) *Session {
	s, err := m.Session(r)
	if err != nil {
		return nil
	}
	if s.Bearer || m.tokenValid(s.Token) {
		return s
	}
	_, refreshed, err := m.AccessToken(r.Context(), s)
	if err != nil {
		if !errors.Is(err, ErrTokenUnavailable) {
			m.log.Warn(r.Context(), "session refresh failed", logger.Error(err))
		}
		return s
	}
	if refreshed != nil {
		if err := m.Save(w, r, refreshed); err != nil {
			m.log.Warn(r.Context(), "saving refreshed session", logger.Error(err))
		}
		return refreshed
	}
	return s
}
