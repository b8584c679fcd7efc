// Package api registers the BFF routes: typed forwarders to the upstream
// service, the generic backend proxy, login endpoints and health checks.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/okian/tenon/internal/adapters/bff"
	"github.com/okian/tenon/internal/domain/identity"
	"github.com/okian/tenon/pkg/logger"
)

const maxRequestBody = 1 << 20

// Sessions bundles what the routes need from the auth layer.
type Sessions interface {
	bff.Sessions
	Login(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
}

// Server wires HTTP routes for the BFF.
type Server struct {
	sessions Sessions
	gate     *bff.Gate
	fwd      *bff.Forwarder
	health   *HealthHandler
	log      logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithReady sets the readiness check.
func WithReady(fn ReadyFunc) ServerOption {
	return func(s *Server) { s.health = NewHealthHandler(fn) }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = logger.OrNop(l) }
}

// NewServer creates a new API server.
func NewServer(sessions Sessions, fwd *bff.Forwarder, opts ...ServerOption) *Server {
	s := &Server{
		sessions: sessions,
		fwd:      fwd,
		health:   NewHealthHandler(nil),
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = bff.NewGate(sessions, s.log)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	handle := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.Handle(pattern, RequestID(MetricsMiddleware(h, endpoint)))
	}

	handle("GET /healthz", "healthz", s.health.HandleHealth)
	handle("GET /readyz", "readyz", s.health.HandleReady)
	handle("GET /metrics", "metrics", s.health.HandleMetrics)

	handle("GET /auth/login", "auth_login", s.sessions.Login)
	handle("GET /auth/callback", "auth_callback", s.sessions.Callback)
	handle("GET /auth/logout", "auth_logout", s.sessions.Logout)

	handle("GET /api/auth/me", "auth_me", s.forward(route{
		perm: identity.PermRecruiter, tag: "auth-me",
		path: func(*http.Request) string { return bff.Path("auth", "me") },
	}))
	handle("GET /api/auth/access-token", "access_token", s.handleAccessToken)

	handle("GET /api/simulations", "simulations", s.forward(route{
		perm: identity.PermRecruiter, tag: "simulations-list",
		path: func(*http.Request) string { return bff.Path("simulations") },
	}))
	handle("POST /api/simulations", "simulations", s.forward(route{
		perm: identity.PermRecruiter, tag: "simulations-create", jsonBody: true,
		path: func(*http.Request) string { return bff.Path("simulations") },
	}))
	handle("POST /api/simulations/{id}/invite", "simulation_invite", s.forward(route{
		perm: identity.PermRecruiter, tag: "simulations-invite", jsonBody: true,
		path: func(r *http.Request) string { return bff.Path("simulations", r.PathValue("id"), "invite") },
	}))
	handle("POST /api/simulations/{id}/candidates/{csid}/invite/resend", "simulation_invite_resend", s.forward(route{
		perm: identity.PermRecruiter, tag: "simulations-invite-resend",
		path: func(r *http.Request) string {
			return bff.Path("simulations", r.PathValue("id"), "candidates", r.PathValue("csid"), "invite", "resend")
		},
	}))
	handle("GET /api/simulations/{id}/candidates", "simulation_candidates", s.forward(route{
		perm: identity.PermRecruiter, tag: "simulations-candidates",
		path: func(r *http.Request) string { return bff.Path("simulations", r.PathValue("id"), "candidates") },
	}))

	handle("GET /api/submissions", "submissions", s.forward(route{
		perm: identity.PermRecruiter, tag: "submissions-list",
		path: func(r *http.Request) string { return withQuery(bff.Path("submissions"), r) },
	}))
	handle("GET /api/submissions/{id}", "submission", s.forward(route{
		perm: identity.PermRecruiter, tag: "submissions-detail",
		path: func(r *http.Request) string { return bff.Path("submissions", r.PathValue("id")) },
	}))

	handle("GET /api/candidate/session/{token}", "candidate_bootstrap", s.forward(route{
		perm: identity.PermCandidate, tag: "candidate-session",
		path: func(r *http.Request) string { return bff.Path("candidate", "session", r.PathValue("token")) },
	}))
	handle("POST /api/candidate/session/{token}/verify", "candidate_verify", s.forward(route{
		perm: identity.PermCandidate, tag: "candidate-verify", jsonBody: true,
		path: func(r *http.Request) string { return bff.Path("candidate", "session", r.PathValue("token"), "verify") },
	}))
	handle("GET /api/candidate/session/{id}/current_task", "candidate_current_task", s.forward(route{
		perm: identity.PermCandidate, tag: "candidate-current-task",
		path: func(r *http.Request) string {
			return bff.Path("candidate", "session", r.PathValue("id"), "current_task")
		},
	}))
	handle("POST /api/tasks/{id}/submit", "task_submit", s.forward(route{
		perm: identity.PermCandidate, tag: "task-submit", jsonBody: true,
		path: func(r *http.Request) string { return bff.Path("tasks", r.PathValue("id"), "submit") },
	}))

	handle("/api/backend/{path...}", "backend_proxy", s.handleProxy)
}

// route describes one typed forwarder.
type route struct {
	perm     string
	tag      string
	jsonBody bool
	path     func(r *http.Request) string
}

// forwardedHeaders are the caller headers a typed route passes upstream.
var forwardedHeaders = []string{"X-Candidate-Session-Id", "Accept", "X-Request-Id"}

func (s *Server) forward(rt route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, fail := s.gate.EnsureAccess(w, r, rt.perm)
		if fail != nil {
			fail.Response().Write(w)
			return
		}

		header := http.Header{}
		for _, h := range forwardedHeaders {
			if v := r.Header.Get(h); v != "" {
				header.Set(h, v)
			}
		}
		var body io.Reader
		if rt.jsonBody {
			raw, err := readJSON(r)
			if err != nil {
				s.log.Debug(r.Context(), "rejected request body", logger.String("tag", rt.tag), logger.Error(err))
				writeError(w, http.StatusBadRequest, "Bad request", "")
				return
			}
			body = bytes.NewReader(raw)
			header.Set("Content-Type", "application/json")
		}

		resp := s.fwd.Forward(r.Context(), bff.Request{
			Path:        rt.path(r),
			Method:      r.Method,
			Header:      header,
			Body:        body,
			AccessToken: token,
		})
		resp.Header.Set(s.fwd.TagHeader(), rt.tag)
		resp.Write(w)
	}
}

// readJSON reads the request body and checks it is one JSON value.
// An empty body is sent upstream as {}.
func readJSON(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, WrapKind("read body", ErrBadRequest, err)
	}
	if len(raw) > maxRequestBody {
		return nil, NewKind("read body", ErrBadRequest)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, NewKind("decode body", ErrBadRequest)
	}
	return raw, nil
}

func withQuery(path string, r *http.Request) string {
	if q := r.URL.Query().Encode(); q != "" {
		return path + "?" + q
	}
	return path
}

func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	token, fail := s.gate.EnsureAccess(w, r, "")
	if fail != nil {
		fail.Response().Write(w)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	token, fail := s.gate.EnsureAccess(w, r, "")
	if fail != nil {
		fail.Response().Write(w)
		return
	}
	resp := s.fwd.Proxy(r, r.PathValue("path"), token)
	resp.Header.Set(s.fwd.TagHeader(), "backend-proxy")
	resp.Write(w)
}

type errorResponse struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Message: msg, Details: details})
}
