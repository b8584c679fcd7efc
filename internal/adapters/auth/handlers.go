package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/okian/tenon/internal/domain/identity"
	"github.com/okian/tenon/pkg/logger"
)

const stateTTL = 10 * time.Minute

type loginState struct {
	jwt.RegisteredClaims
	ReturnTo string `json:"rt,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// SanitizeReturnTo keeps only local absolute paths, so a login can never
// bounce the browser to another origin.
func SanitizeReturnTo(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return raw
}

// DashboardFor returns the landing page for a permission set, or "".
func DashboardFor(perms []string) string {
	switch {
	case identity.HasPermission(perms, identity.PermRecruiter):
		return "/dashboard"
	case identity.HasPermission(perms, identity.PermCandidate):
		return "/candidate/dashboard"
	}
	return ""
}

// LoginURL is the login page that returns to returnTo afterwards.
func LoginURL(mode, returnTo string) string {
	return withReturn("/auth/login", mode, returnTo)
}

// NotAuthorizedURL is the page shown when the session lacks a permission.
func NotAuthorizedURL(mode, returnTo string) string {
	return withReturn("/not-authorized", mode, returnTo)
}

func withReturn(target, mode, returnTo string) string {
	q := url.Values{}
	if returnTo != "" {
		q.Set("returnTo", returnTo)
	}
	if mode != "" {
		q.Set("mode", mode)
	}
	if len(q) == 0 {
		return target
	}
	return target + "?" + q.Encode()
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// Login starts the authorization code flow. returnTo and mode survive the
// round trip in a signed state cookie.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request) {
	if m.oauth == nil {
		writeAuthError(w, http.StatusServiceUnavailable, "Login is not available right now.")
		return
	}
	q := r.URL.Query()
	state := uuid.NewString()
	now := m.now()
	claims := loginState{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        state,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
		ReturnTo: SanitizeReturnTo(q.Get("returnTo")),
		Mode:     q.Get("mode"),
	}
	key, err := m.codec.signingKey()
	if err != nil {
		m.log.Error(r.Context(), "login state not signed", logger.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "Unable to start login.")
		return
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "Unable to start login.")
		return
	}
	writeCookie(w, r, m.cookieName+stateCookieSuffix, signed, stateTTL)

	var params []oauth2.AuthCodeOption
	if m.audience != "" {
		params = append(params, oauth2.SetAuthURLParam("audience", m.audience))
	}
	if claims.Mode == "candidate" {
		params = append(params, oauth2.SetAuthURLParam("screen_hint", "login"))
	}
	http.Redirect(w, r, m.oauth.AuthCodeURL(state, params...), http.StatusFound)
}

func (m *Manager) readState(r *http.Request) (*loginState, error) {
	raw, ok := readCookie(r, m.cookieName+stateCookieSuffix)
	if !ok {
		return nil, ErrStateMismatch
	}
	key, err := m.codec.signingKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	var st loginState
	_, err = jwt.ParseWithClaims(raw, &st, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateMismatch, err)
	}
	if st.ID == "" || st.ID != r.URL.Query().Get("state") {
		return nil, ErrStateMismatch
	}
	return &st, nil
}

// Callback completes the login: checks state, exchanges the code, saves the
// session and redirects to the sanitized returnTo.
func (m *Manager) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if m.oauth == nil {
		writeAuthError(w, http.StatusServiceUnavailable, "Login is not available right now.")
		return
	}
	st, err := m.readState(r)
	if err != nil {
		m.log.Warn(ctx, "login callback rejected", logger.Error(err))
		writeAuthError(w, http.StatusBadRequest, "Login session expired. Please try again.")
		return
	}
	clearCookie(w, r, m.cookieName+stateCookieSuffix)

	if e := r.URL.Query().Get("error"); e != "" {
		writeAuthError(w, http.StatusUnauthorized, "Login was not completed.")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAuthError(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		m.log.Error(ctx, "code exchange failed", logger.Error(err))
		writeAuthError(w, http.StatusBadGateway, "Unable to complete login.")
		return
	}
	var user identity.Claims
	if idt, ok := tok.Extra("id_token").(string); ok {
		user = identity.DecodeTokenClaims(idt)
	}
	s := NewSession(user, tok, m.now())
	if err := m.Save(w, r, s); err != nil {
		writeAuthError(w, http.StatusInternalServerError, "Unable to save session.")
		return
	}
	m.log.Info(ctx, "login completed", logger.String("session_id", s.ID), logger.Any("permissions", s.Permissions))

	dest := st.ReturnTo
	if dest == "" {
		dest = DashboardFor(s.Permissions)
	}
	if dest == "" {
		dest = "/"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// Logout clears the session and returns to the home page.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	m.Clear(w, r)
	dest := SanitizeReturnTo(r.URL.Query().Get("returnTo"))
	if dest == "" {
		dest = "/"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// IsAuthError reports whether err means the caller has to sign in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoSession) || errors.Is(err, ErrTokenUnavailable) || errors.Is(err, ErrInvalidSession)
}
