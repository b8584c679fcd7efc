package bff

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/tenon/internal/adapters/auth"
	"github.com/okian/tenon/pkg/logger"
	"github.com/okian/tenon/pkg/metrics"
)

// Sessions is the part of the auth manager the access check needs.
type Sessions interface {
	Session(r *http.Request) (*auth.Session, error)
	AccessToken(ctx context.Context, s *auth.Session) (string, *auth.Session, error)
	Save(w http.ResponseWriter, r *http.Request, s *auth.Session) error
}

// Failure is a rejected access check, ready to be written to the client.
type Failure struct {
	Status  int
	Message string
	Details string
}

func (f *Failure) Error() string { return f.Message }

// Response converts the failure into a JSON response.
func (f *Failure) Response() *Response {
	body := map[string]string{"message": f.Message}
	if f.Details != "" {
		body["details"] = f.Details
	}
	return jsonResponse(f.Status, body)
}

// Gate runs access checks in front of forwarded routes.
type Gate struct {
	sessions Sessions
	log      logger.Logger
}

// NewGate returns a Gate.
func NewGate(s Sessions, l logger.Logger) *Gate {
	return &Gate{sessions: s, log: logger.OrNop(l)}
}

// EnsureAccess resolves the session of r, checks perm when non-empty and
// returns a usable access token. A refreshed session is saved on w. It never
// panics or returns a bare error: every failure is a 401 or 403.
func (g *Gate) EnsureAccess(w http.ResponseWriter, r *http.Request, perm string) (string, *Failure) {
	ctx := r.Context()
	s, err := g.sessions.Session(r)
	if err != nil || s == nil {
		metrics.RecordAuthFailure(http.StatusUnauthorized)
		return "", &Failure{Status: http.StatusUnauthorized, Message: "Not authenticated"}
	}
	if perm != "" && !s.Has(perm) {
		g.log.Debug(ctx, "missing permission", logger.String("required", perm), logger.Any("permissions", s.Permissions))
		metrics.RecordAuthFailure(http.StatusForbidden)
		return "", &Failure{Status: http.StatusForbidden, Message: "Forbidden"}
	}
	token, refreshed, err := g.sessions.AccessToken(ctx, s)
	if err != nil {
		metrics.RecordAuthFailure(http.StatusUnauthorized)
		detail := "Unknown token error"
		if msg := err.Error(); msg != "" {
			detail = msg
		}
		return "", &Failure{Status: http.StatusUnauthorized, Message: "Not authenticated", Details: detail}
	}
	if refreshed != nil {
		if err := g.sessions.Save(w, r, refreshed); err != nil && !errors.Is(err, context.Canceled) {
			g.log.Warn(ctx, "saving refreshed session", logger.Error(err))
		}
	}
	return token, nil
}
