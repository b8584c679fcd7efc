// Package identity derives coarse permissions and the user email from identity claims.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Coarse permissions understood by the route guard and the forwarder.
const (
	PermRecruiter = "recruiter:access"
	PermCandidate = "candidate:access"
)

// Custom claim namespace issued by the identity provider.
const claimNamespace = "https://simuhire.com/"

const (
	claimPermissions       = "permissions"
	claimCustomPermissions = claimNamespace + "permissions"
	claimPermissionsString = claimNamespace + "permissions_str"
	claimCustomRoles       = claimNamespace + "roles"
	claimRoles             = "roles"
	claimCustomEmail       = claimNamespace + "email"
	claimEmail             = "email"
)

// Claims is a raw identity claims object.
type Claims map[string]any

var permSplit = regexp.MustCompile(`[,\s]+`)

// ExtractPermissions returns the deduplicated permission set for a user.
// User claims are consulted first; only when they yield nothing is the access
// token's payload segment decoded and searched the same way. Undecodable
// tokens count as empty claims.
func ExtractPermissions(user Claims, accessToken string) []string {
	set := make(map[string]struct{})
	collect(set, user)
	if len(set) == 0 {
		collect(set, DecodeTokenClaims(accessToken))
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func collect(set map[string]struct{}, c Claims) {
	if c == nil {
		return
	}
	add := func(items []string) {
		for _, it := range items {
			set[it] = struct{}{}
		}
	}
	add(stringSlice(c[claimPermissions]))
	add(stringSlice(c[claimCustomPermissions]))
	add(splitPermissions(c[claimPermissionsString]))

	roles, ok := c[claimCustomRoles]
	if !ok || roles == nil {
		roles = c[claimRoles]
	}
	add(rolesToPermissions(stringSlice(roles)))
}

// HasPermission reports whether perms contains required.
func HasPermission(perms []string, required string) bool {
	for _, p := range perms {
		if p == required {
			return true
		}
	}
	return false
}

// UserEmail returns the trimmed custom email claim, then the standard one.
// The empty string means no usable email.
func UserEmail(user Claims) string {
	for _, key := range []string{claimCustomEmail, claimEmail} {
		if s, ok := user[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// DecodeTokenClaims decodes the payload segment of a JWT without verifying it.
// It returns nil for anything that is not a decodable JSON object.
func DecodeTokenClaims(token string) Claims {
	parts := strings.Split(token, ".")
	if token == "" || len(parts) < 2 {
		return nil
	}
	raw, err := jwt.NewParser(jwt.WithPaddingAllowed()).DecodeSegment(parts[1])
	if err != nil {
		// some issuers emit standard base64 in the payload
		seg := parts[1]
		if m := len(seg) % 4; m != 0 {
			seg += strings.Repeat("=", 4-m)
		}
		if raw, err = base64.StdEncoding.DecodeString(seg); err != nil {
			return nil
		}
	}
	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	return c
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func splitPermissions(v any) []string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range permSplit.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func rolesToPermissions(roles []string) []string {
	var out []string
	for _, role := range roles {
		lower := strings.ToLower(role)
		if strings.Contains(lower, "recruiter") {
			out = append(out, PermRecruiter)
		}
		if strings.Contains(lower, "candidate") {
			out = append(out, PermCandidate)
		}
	}
	return out
}
