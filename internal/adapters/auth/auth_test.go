package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/oauth2"

	"github.com/okian/tenon/internal/config"
	"github.com/okian/tenon/internal/domain/identity"
)

func unsignedToken(payload map[string]any) string {
	b, _ := json.Marshal(payload)
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString(b) + ".x"
}

func testConfig() *config.Config {
	cfg := config.New(context.Background())
	cfg.SessionSecret = "test-secret-test-secret-test-secret"
	return cfg
}

func cookieFrom(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCodec(t *testing.T) {
	Convey("Given a session codec", t, func() {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		codec := NewCodec("s3cret", time.Hour, func() time.Time { return now })
		s := NewSession(identity.Claims{"sub": "u1", "permissions": []any{"recruiter:access"}},
			&oauth2.Token{AccessToken: "at", RefreshToken: "rt", Expiry: now.Add(time.Minute)}, now)

		Convey("Encode then Decode keeps identity, tokens and cached permissions", func() {
			raw, err := codec.Encode(s)
			So(err, ShouldBeNil)
			got, err := codec.Decode(raw)
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, s.ID)
			So(got.Permissions, ShouldResemble, []string{identity.PermRecruiter})
			So(got.Token.AccessToken, ShouldEqual, "at")
			So(got.Token.RefreshToken, ShouldEqual, "rt")
			So(got.Token.Expiry.Equal(now.Add(time.Minute)), ShouldBeTrue)
			So(got.Has(identity.PermRecruiter), ShouldBeTrue)
		})

		Convey("A cookie signed with another secret is rejected", func() {
			raw, _ := NewCodec("other", time.Hour, func() time.Time { return now }).Encode(s)
			_, err := codec.Decode(raw)
			So(errors.Is(err, ErrInvalidSession), ShouldBeTrue)
		})

		Convey("The cookie hides the tokens it carries", func() {
			raw, err := codec.Encode(s)
			So(err, ShouldBeNil)
			So(strings.Contains(raw, "."), ShouldBeFalse)
			So(identity.DecodeTokenClaims(raw)["rt"], ShouldBeNil)
			So(strings.Contains(raw, base64.RawURLEncoding.EncodeToString([]byte(`"rt":"rt"`))), ShouldBeFalse)
		})

		Convey("A plain signed JWT is not accepted as a cookie", func() {
			forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
				RegisteredClaims: jwt.RegisteredClaims{ID: "x", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
				Permissions:      []string{identity.PermRecruiter},
				AccessToken:      "attacker-token",
			}).SignedString([]byte("s3cret"))
			_, err := codec.Decode(forged)
			So(errors.Is(err, ErrInvalidSession), ShouldBeTrue)
		})

		Convey("A codec without a secret refuses to sign or verify", func() {
			empty := NewCodec("", time.Hour, func() time.Time { return now })
			_, err := empty.Encode(s)
			So(errors.Is(err, ErrNoSecret), ShouldBeTrue)

			forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
				RegisteredClaims: jwt.RegisteredClaims{ID: "x", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
				Permissions:      []string{identity.PermRecruiter},
			}).SignedString([]byte(""))
			_, err = empty.Decode(forged)
			So(errors.Is(err, ErrInvalidSession), ShouldBeTrue)
			So(errors.Is(err, ErrNoSecret), ShouldBeTrue)
		})

		Convey("An expired cookie is rejected", func() {
			raw, _ := codec.Encode(s)
			later := NewCodec("s3cret", time.Hour, func() time.Time { return now.Add(2 * time.Hour) })
			_, err := later.Decode(raw)
			So(errors.Is(err, ErrInvalidSession), ShouldBeTrue)
		})
	})
}

func TestManagerSession(t *testing.T) {
	Convey("Given a manager", t, func() {
		cfg := testConfig()
		m := NewManager(cfg)

		Convey("A request without credentials has no session", func() {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			_, err := m.Session(r)
			So(err, ShouldEqual, ErrNoSession)
		})

		Convey("A saved session is read back from the cookie", func() {
			s := NewSession(identity.Claims{"email": "a@b.c"}, &oauth2.Token{AccessToken: "tok"}, time.Now())
			rec := httptest.NewRecorder()
			So(m.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), s), ShouldBeNil)
			c := cookieFrom(rec, cfg.SessionCookie)
			So(c, ShouldNotBeNil)
			So(c.HttpOnly, ShouldBeTrue)
			So(c.Secure, ShouldBeFalse)

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(c)
			got, err := m.Session(r)
			So(err, ShouldBeNil)
			So(got.Email(), ShouldEqual, "a@b.c")
		})

		Convey("Cookies are marked secure behind an https proxy", func() {
			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("X-Forwarded-Proto", "https")
			_ = m.Save(rec, r, NewSession(nil, &oauth2.Token{AccessToken: "t"}, time.Now()))
			So(cookieFrom(rec, cfg.SessionCookie).Secure, ShouldBeTrue)
		})

		Convey("Bearer tokens are ignored unless enabled", func() {
			tok := unsignedToken(map[string]any{"permissions": []string{"candidate:access"}})
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Authorization", "Bearer "+tok)
			_, err := m.Session(r)
			So(err, ShouldEqual, ErrNoSession)

			cfg.AcceptBearer = true
			s, err := NewManager(cfg).Session(r)
			So(err, ShouldBeNil)
			So(s.Bearer, ShouldBeTrue)
			So(s.Has(identity.PermCandidate), ShouldBeTrue)
		})

		Convey("Clear expires the cookie", func() {
			rec := httptest.NewRecorder()
			m.Clear(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			So(cookieFrom(rec, cfg.SessionCookie).MaxAge, ShouldBeLessThan, 0)
		})
	})
}

func tokenServer(t *testing.T, idToken string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("grant_type") == "refresh_token" && r.Form.Get("refresh_token") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh",
			"token_type":    "Bearer",
			"refresh_token": "good",
			"expires_in":    3600,
			"id_token":      idToken,
		})
	}))
}

func TestAccessToken(t *testing.T) {
	Convey("Given a manager backed by a token endpoint", t, func() {
		calls := 0
		idt := unsignedToken(map[string]any{"email": "r@x.io", "permissions": []string{"recruiter:access"}})
		srv := tokenServer(t, idt, &calls)
		defer srv.Close()

		cfg := testConfig()
		cfg.AuthClientID = "client"
		cfg.AuthURL = srv.URL + "/authorize"
		cfg.TokenURL = srv.URL + "/token"
		m := NewManager(cfg)
		ctx := context.Background()

		Convey("A valid token is returned without a refresh", func() {
			s := NewSession(nil, &oauth2.Token{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}, time.Now())
			tok, refreshed, err := m.AccessToken(ctx, s)
			So(err, ShouldBeNil)
			So(tok, ShouldEqual, "live")
			So(refreshed, ShouldBeNil)
			So(calls, ShouldEqual, 0)
		})

		Convey("An expired token is refreshed and permissions are derived again", func() {
			s := NewSession(nil, &oauth2.Token{AccessToken: "old", RefreshToken: "good", Expiry: time.Now().Add(-time.Hour)}, time.Now())
			tok, refreshed, err := m.AccessToken(ctx, s)
			So(err, ShouldBeNil)
			So(tok, ShouldEqual, "fresh")
			So(refreshed.ID, ShouldEqual, s.ID)
			So(refreshed.Has(identity.PermRecruiter), ShouldBeTrue)
			So(refreshed.Email(), ShouldEqual, "r@x.io")
			So(calls, ShouldEqual, 1)
		})

		Convey("A rejected refresh means the token is unavailable", func() {
			s := NewSession(nil, &oauth2.Token{AccessToken: "old", RefreshToken: "bad", Expiry: time.Now().Add(-time.Hour)}, time.Now())
			_, _, err := m.AccessToken(ctx, s)
			So(errors.Is(err, ErrTokenUnavailable), ShouldBeTrue)
			So(IsAuthError(err), ShouldBeTrue)
		})

		Convey("An expired token without a refresh token is unavailable", func() {
			s := NewSession(nil, &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}, time.Now())
			_, _, err := m.AccessToken(ctx, s)
			So(errors.Is(err, ErrTokenUnavailable), ShouldBeTrue)
			So(calls, ShouldEqual, 0)
		})

		Convey("Touch saves the refreshed session", func() {
			s := NewSession(nil, &oauth2.Token{AccessToken: "old", RefreshToken: "good", Expiry: time.Now().Add(-time.Hour)}, time.Now())
			rec := httptest.NewRecorder()
			_ = m.Save(rec, httptest.NewRequest(http.MethodGet, "/", nil), s)

			r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			r.AddCookie(cookieFrom(rec, cfg.SessionCookie))
			rec2 := httptest.NewRecorder()
			got := m.Touch(rec2, r)
			So(got.Token.AccessToken, ShouldEqual, "fresh")
			So(cookieFrom(rec2, cfg.SessionCookie), ShouldNotBeNil)
		})
	})
}

func TestLoginFlow(t *testing.T) {
	Convey("Given a configured identity provider", t, func() {
		calls := 0
		idt := unsignedToken(map[string]any{"https://simuhire.com/roles": []string{"candidate"}})
		srv := tokenServer(t, idt, &calls)
		defer srv.Close()

		cfg := testConfig()
		cfg.AuthClientID = "client"
		cfg.AuthURL = srv.URL + "/authorize"
		cfg.TokenURL = srv.URL + "/token"
		cfg.AuthAudience = "https://api.tenon"
		cfg.AuthRedirectURL = "http://localhost:3000/auth/callback"
		m := NewManager(cfg)

		rec := httptest.NewRecorder()
		m.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login?returnTo=/candidate/session/abc&mode=candidate", nil))

		Convey("Login redirects to the provider with state and audience", func() {
			So(rec.Code, ShouldEqual, http.StatusFound)
			loc, err := url.Parse(rec.Header().Get("Location"))
			So(err, ShouldBeNil)
			So(loc.Path, ShouldEqual, "/authorize")
			So(loc.Query().Get("audience"), ShouldEqual, "https://api.tenon")
			So(loc.Query().Get("state"), ShouldNotBeEmpty)
			So(cookieFrom(rec, cfg.SessionCookie+stateCookieSuffix), ShouldNotBeNil)
		})

		Convey("Callback with matching state saves a session and returns to the page", func() {
			loc, _ := url.Parse(rec.Header().Get("Location"))
			r := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state="+loc.Query().Get("state"), nil)
			r.AddCookie(cookieFrom(rec, cfg.SessionCookie+stateCookieSuffix))
			out := httptest.NewRecorder()
			m.Callback(out, r)
			So(out.Code, ShouldEqual, http.StatusFound)
			So(out.Header().Get("Location"), ShouldEqual, "/candidate/session/abc")

			r2 := httptest.NewRequest(http.MethodGet, "/", nil)
			r2.AddCookie(cookieFrom(out, cfg.SessionCookie))
			s, err := m.Session(r2)
			So(err, ShouldBeNil)
			So(s.Has(identity.PermCandidate), ShouldBeTrue)
		})

		Convey("Callback with a different state is rejected", func() {
			r := httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=forged", nil)
			r.AddCookie(cookieFrom(rec, cfg.SessionCookie+stateCookieSuffix))
			out := httptest.NewRecorder()
			m.Callback(out, r)
			So(out.Code, ShouldEqual, http.StatusBadRequest)
			So(calls, ShouldEqual, 0)
		})
	})

	Convey("Without an identity provider login is unavailable", t, func() {
		rec := httptest.NewRecorder()
		NewManager(testConfig()).Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
	})

	Convey("Logout clears the session", t, func() {
		cfg := testConfig()
		rec := httptest.NewRecorder()
		NewManager(cfg).Logout(rec, httptest.NewRequest(http.MethodGet, "/auth/logout?returnTo=//evil.com", nil))
		So(rec.Header().Get("Location"), ShouldEqual, "/")
		So(cookieFrom(rec, cfg.SessionCookie).MaxAge, ShouldBeLessThan, 0)
	})
}

func TestSanitizeReturnTo(t *testing.T) {
	Convey("Only local paths survive", t, func() {
		So(SanitizeReturnTo("/dashboard?x=1"), ShouldEqual, "/dashboard?x=1")
		So(SanitizeReturnTo("https://evil.com"), ShouldBeEmpty)
		So(SanitizeReturnTo("//evil.com/x"), ShouldBeEmpty)
		So(SanitizeReturnTo("/\\evil.com"), ShouldBeEmpty)
		So(SanitizeReturnTo("dashboard"), ShouldBeEmpty)
		So(SanitizeReturnTo("  "), ShouldBeEmpty)
	})

	Convey("Landing pages follow permissions", t, func() {
		So(DashboardFor([]string{identity.PermCandidate, identity.PermRecruiter}), ShouldEqual, "/dashboard")
		So(DashboardFor([]string{identity.PermCandidate}), ShouldEqual, "/candidate/dashboard")
		So(DashboardFor(nil), ShouldBeEmpty)
		So(strings.HasPrefix(DashboardFor([]string{identity.PermRecruiter}), "/"), ShouldBeTrue)
	})
}
