// Package auth resolves the signed-in identity of a request: the session
// cookie, optional bearer tokens, token refresh and the login flow.
package auth

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/okian/tenon/internal/domain/identity"
)

// Session is a signed-in identity.
type Session struct {
	ID          string
	User        identity.Claims
	Token       *oauth2.Token
	Permissions []string
	CreatedAt   time.Time
	// Bearer is set when the session came from an Authorization header.
	Bearer bool
}

// NewSession builds a session and derives its permissions. This is the only
// place permissions are computed; later reads reuse the cached set.
func NewSession(user identity.Claims, token *oauth2.Token, now time.Time) *Session {
	access := ""
	if token != nil {
		access = token.AccessToken
	}
	return &Session{
		ID:          uuid.NewString(),
		User:        user,
		Token:       token,
		Permissions: identity.ExtractPermissions(user, access),
		CreatedAt:   now,
	}
}

// Has reports whether the session carries perm.
func (s *Session) Has(perm string) bool {
	return s != nil && identity.HasPermission(s.Permissions, perm)
}

// Email returns the user's email, or "".
func (s *Session) Email() string {
	if s == nil {
		return ""
	}
	return identity.UserEmail(s.User)
}
