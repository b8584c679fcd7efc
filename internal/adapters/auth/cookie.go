package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/okian/tenon/internal/domain/identity"
)

type sessionClaims struct {
	jwt.RegisteredClaims
	User         identity.Claims `json:"usr,omitempty"`
	Permissions  []string        `json:"perms"`
	AccessToken  string          `json:"at,omitempty"`
	RefreshToken string          `json:"rt,omitempty"`
	TokenType    string          `json:"tt,omitempty"`
	TokenExpiry  int64           `json:"tx,omitempty"`
}

const sealContext = "tenon session cookie v1"

// Codec signs session cookies as HS256 JWTs and seals them with AES-GCM, so
// the tokens they carry never reach the browser in the clear. An empty
// secret leaves the codec unusable: every call fails with ErrNoSecret.
type Codec struct {
	secret []byte
	aead   cipher.AEAD
	err    error
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec returns a codec. now defaults to time.Now.
func NewCodec(secret string, ttl time.Duration, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	c := &Codec{secret: []byte(secret), ttl: ttl, now: now}
	if secret == "" {
		c.err = ErrNoSecret
		return c
	}
	// The sealing key is derived so it never equals the signing key.
	key := sha256.Sum256([]byte(sealContext + "\x00" + secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		c.err = fmt.Errorf("new cipher: %w", err)
		return c
	}
	if c.aead, err = cipher.NewGCM(block); err != nil {
		c.err = fmt.Errorf("new gcm: %w", err)
	}
	return c
}

// signingKey returns the HMAC key, refusing an unset secret.
func (c *Codec) signingKey() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.secret, nil
}

func (c *Codec) seal(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	// nonce || ciphertext
	out := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (c *Codec) open(sealed string) (string, error) {
	payload, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed cookie: %w", err)
	}
	n := c.aead.NonceSize()
	if len(payload) < n {
		return "", fmt.Errorf("sealed cookie is too short")
	}
	plain, err := c.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt cookie: %w", err)
	}
	return string(plain), nil
}

// Encode signs and seals s.
func (c *Codec) Encode(s *Session) (string, error) {
	key, err := c.signingKey()
	if err != nil {
		return "", err
	}
	now := c.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		User:        s.User,
		Permissions: s.Permissions,
	}
	if sub, ok := s.User["sub"].(string); ok {
		claims.Subject = sub
	}
	if s.Token != nil {
		claims.AccessToken = s.Token.AccessToken
		claims.RefreshToken = s.Token.RefreshToken
		claims.TokenType = s.Token.TokenType
		if !s.Token.Expiry.IsZero() {
			claims.TokenExpiry = s.Token.Expiry.Unix()
		}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return c.seal(signed)
}

// Decode opens and verifies raw and rebuilds the session, keeping its cached
// permissions.
func (c *Codec) Decode(raw string) (*Session, error) {
	key, err := c.signingKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	signed, err := c.open(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	var claims sessionClaims
	_, err = jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	s := &Session{
		ID:          claims.ID,
		User:        claims.User,
		Permissions: claims.Permissions,
	}
	if claims.IssuedAt != nil {
		s.CreatedAt = claims.IssuedAt.Time
	}
	if claims.AccessToken != "" {
		s.Token = &oauth2.Token{
			AccessToken:  claims.AccessToken,
			RefreshToken: claims.RefreshToken,
			TokenType:    claims.TokenType,
		}
		if claims.TokenExpiry > 0 {
			s.Token.Expiry = time.Unix(claims.TokenExpiry, 0)
		}
	}
	return s, nil
}

// isHTTPS reports whether the request reached us over TLS, directly or via a proxy.
func isHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func readCookie(r *http.Request, name string) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(name)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

func writeCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge / time.Second),
	})
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
