// Package guard classifies every page request and redirects anonymous or
// under-permissioned visitors before any page handler runs.
package guard

import (
	"net/http"
	"strings"

	"github.com/okian/tenon/internal/adapters/auth"
	"github.com/okian/tenon/internal/domain/identity"
	"github.com/okian/tenon/pkg/metrics"
)

// Class is the access class of a path.
type Class int

const (
	// Restricted paths need any signed-in session.
	Restricted Class = iota
	// Public paths are served without a session.
	Public
	// Candidate pages need candidate access.
	Candidate
	// Recruiter pages need recruiter access.
	Recruiter
	// API routes answer 401 instead of redirecting to login.
	API
)

var (
	publicPaths       = []string{"/", "/auth/login", "/auth/logout", "/not-authorized", "/healthz", "/readyz", "/metrics", "/favicon.ico", "/api-docs", "/openapi.yaml"}
	publicPrefixes    = []string{"/auth", "/static"}
	candidatePrefixes = []string{"/candidate-sessions", "/candidate"}
	recruiterPrefixes = []string{"/dashboard"}
)

func hasPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return matchAny(path, publicPrefixes)
}

func matchAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if hasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Classify returns the access class of path. Unknown paths are Restricted.
func Classify(path string) Class {
	switch {
	case hasPrefix(path, "/api"):
		return API
	case isPublicPath(path):
		return Public
	case matchAny(path, candidatePrefixes):
		return Candidate
	case matchAny(path, recruiterPrefixes):
		return Recruiter
	}
	return Restricted
}

// Touch refreshes the identity of a request, if any.
type Touch interface {
	Touch(w http.ResponseWriter, r *http.Request) *auth.Session
}

func mode(path string) string {
	if matchAny(path, candidatePrefixes) {
		return "candidate"
	}
	return "recruiter"
}

func returnTo(r *http.Request) string {
	rt := r.URL.Path
	if r.URL.RawQuery != "" {
		rt += "?" + r.URL.RawQuery
	}
	return rt
}

func redirectWith(w http.ResponseWriter, r *http.Request, build func(mode, returnTo string) string, decision string) {
	metrics.RecordGuardDecision(decision)
	http.Redirect(w, r, build(mode(r.URL.Path), returnTo(r)), http.StatusFound)
}

// Middleware returns the route guard in front of next.
func Middleware(sessions Touch, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		s := sessions.Touch(w, r)
		class := Classify(path)

		switch class {
		case API:
			metrics.RecordGuardDecision("api")
			next.ServeHTTP(w, r)
			return
		case Public:
			if s != nil && (path == "/" || path == "/auth/login") {
				if dest := auth.DashboardFor(s.Permissions); dest != "" {
					metrics.RecordGuardDecision("dashboard")
					http.Redirect(w, r, dest, http.StatusFound)
					return
				}
			}
			metrics.RecordGuardDecision("public")
			next.ServeHTTP(w, r)
			return
		}

		if s == nil {
			redirectWith(w, r, auth.LoginURL, "login")
			return
		}
		if !allowed(class, s) {
			redirectWith(w, r, auth.NotAuthorizedURL, "not_authorized")
			return
		}
		metrics.RecordGuardDecision("allow")
		next.ServeHTTP(w, r)
	})
}

// allowed checks the permission of a prefix class; other restricted pages
// only need a session.
func allowed(class Class, s *auth.Session) bool {
	switch class {
	case Recruiter:
		return s.Has(identity.PermRecruiter)
	case Candidate:
		return s.Has(identity.PermCandidate)
	}
	return true
}
