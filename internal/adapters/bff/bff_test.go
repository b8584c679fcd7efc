package bff

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/oauth2"

	"github.com/okian/tenon/internal/adapters/auth"
	"github.com/okian/tenon/internal/domain/identity"
)

type fakeSessions struct {
	session   *auth.Session
	tokenErr  error
	refreshed *auth.Session
	saved     *auth.Session
}

func (f *fakeSessions) Session(*http.Request) (*auth.Session, error) {
	if f.session == nil {
		return nil, auth.ErrNoSession
	}
	return f.session, nil
}

func (f *fakeSessions) AccessToken(context.Context, *auth.Session) (string, *auth.Session, error) {
	if f.tokenErr != nil {
		return "", nil, f.tokenErr
	}
	return "access", f.refreshed, nil
}

func (f *fakeSessions) Save(_ http.ResponseWriter, _ *http.Request, s *auth.Session) error {
	f.saved = s
	return nil
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

func TestEnsureAccess(t *testing.T) {
	Convey("Given an access gate", t, func() {
		recruiter := auth.NewSession(identity.Claims{"permissions": []any{identity.PermRecruiter}}, &oauth2.Token{AccessToken: "x"}, time.Now())
		fs := &fakeSessions{}
		g := NewGate(fs, nil)
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		w := httptest.NewRecorder()

		Convey("No session is a 401", func() {
			_, f := g.EnsureAccess(w, r, identity.PermRecruiter)
			So(f.Status, ShouldEqual, http.StatusUnauthorized)
			So(decode(t, f.Response().Body)["message"], ShouldEqual, "Not authenticated")
		})

		Convey("A missing permission is a 403", func() {
			fs.session = recruiter
			_, f := g.EnsureAccess(w, r, identity.PermCandidate)
			So(f.Status, ShouldEqual, http.StatusForbidden)
			So(decode(t, f.Response().Body)["message"], ShouldEqual, "Forbidden")
		})

		Convey("A token failure is a 401 with details", func() {
			fs.session = recruiter
			fs.tokenErr = errors.New("refresh failed")
			_, f := g.EnsureAccess(w, r, "")
			So(f.Status, ShouldEqual, http.StatusUnauthorized)
			So(decode(t, f.Response().Body)["details"], ShouldEqual, "refresh failed")
		})

		Convey("Success returns the token and saves a refreshed session", func() {
			fs.session = recruiter
			fs.refreshed = recruiter
			tok, f := g.EnsureAccess(w, r, identity.PermRecruiter)
			So(f, ShouldBeNil)
			So(tok, ShouldEqual, "access")
			So(fs.saved, ShouldEqual, recruiter)
		})
	})
}

func TestForward(t *testing.T) {
	Convey("Given an upstream service", t, func() {
		var seen *http.Request
		var seenBody string
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r
			b, _ := io.ReadAll(r.Body)
			seenBody = string(b)
			switch r.URL.Path {
			case "/api/json":
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "12")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{ "message" : "slow down" }`))
			case "/api/text":
				w.Header().Set("Content-Type", "text/csv")
				_, _ = w.Write([]byte("a,b\n1,2\n"))
			case "/api/redirect":
				w.Header().Set("Location", "https://evil.example/steal")
				w.WriteHeader(http.StatusFound)
			case "/api/badjson":
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte("{oops"))
			case "/api/big":
				_, _ = w.Write([]byte(strings.Repeat("x", 64)))
			case "/api/slow":
				time.Sleep(200 * time.Millisecond)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer upstream.Close()
		f := New(upstream.URL, WithTimeout(100*time.Millisecond), WithMaxBodyBytes(32))
		ctx := context.Background()

		Convey("JSON is re-serialized and the upstream status is stamped", func() {
			resp := f.Forward(ctx, Request{Path: "/api/json", AccessToken: "tok", Header: http.Header{"Cookie": {"a=b"}, "X-Candidate-Session-Id": {"7"}}})
			So(resp.Status, ShouldEqual, http.StatusTooManyRequests)
			So(string(resp.Body), ShouldEqual, `{"message":"slow down"}`)
			So(resp.Header.Get("x-tenon-upstream-status"), ShouldEqual, "429")
			So(resp.Header.Get("Retry-After"), ShouldEqual, "12")
			So(seen.Header.Get("Authorization"), ShouldEqual, "Bearer tok")
			So(seen.Header.Get("Cookie"), ShouldBeEmpty)
			So(seen.Header.Get("X-Candidate-Session-Id"), ShouldEqual, "7")
		})

		Convey("Other bodies pass through with their content type", func() {
			resp := f.Forward(ctx, Request{Path: "/api/text"})
			So(resp.Status, ShouldEqual, http.StatusOK)
			So(string(resp.Body), ShouldEqual, "a,b\n1,2\n")
			So(resp.Header.Get("Content-Type"), ShouldEqual, "text/csv")
		})

		Convey("Redirects are never followed", func() {
			resp := f.Forward(ctx, Request{Path: "/api/redirect"})
			So(resp.Status, ShouldEqual, http.StatusBadGateway)
			So(resp.UpstreamStatus, ShouldEqual, http.StatusFound)
			So(resp.Header.Get("x-tenon-upstream-status"), ShouldEqual, "302")
			body := decode(t, resp.Body)
			So(body["message"], ShouldEqual, "Upstream redirect blocked")
			So(body["upstreamStatus"], ShouldEqual, float64(302))

			w := httptest.NewRecorder()
			resp.Write(w)
			So(w.Header().Get("Location"), ShouldBeEmpty)
		})

		Convey("Malformed JSON becomes null", func() {
			resp := f.Forward(ctx, Request{Path: "/api/badjson"})
			So(string(resp.Body), ShouldEqual, "null")
		})

		Convey("Bodies above the limit are a 502", func() {
			resp := f.Forward(ctx, Request{Path: "/api/big"})
			So(resp.Status, ShouldEqual, http.StatusBadGateway)
		})

		Convey("Timeouts are a 502 without an upstream status", func() {
			resp := f.Forward(ctx, Request{Path: "/api/slow"})
			So(resp.Status, ShouldEqual, http.StatusBadGateway)
			So(resp.UpstreamStatus, ShouldEqual, 0)
			So(decode(t, resp.Body)["message"], ShouldEqual, "Upstream request failed")
		})

		Convey("A request body is forwarded", func() {
			body, err := JSONBody(map[string]string{"email": "a@b.c"})
			So(err, ShouldBeNil)
			f.Forward(ctx, Request{Path: "/api/echo", Method: http.MethodPost, Body: body})
			So(seen.Method, ShouldEqual, http.MethodPost)
			So(seenBody, ShouldEqual, `{"email":"a@b.c"}`)
		})

		Convey("Proxy maps the path, keeps the query and drops the caller's credentials", func() {
			r := httptest.NewRequest(http.MethodPost, "/api/backend/tasks/1/submit?x=1", strings.NewReader(`{"a":1}`))
			r.Header.Set("Authorization", "Bearer browser")
			r.Header.Set("Cookie", "tenon_session=secret")
			f.Proxy(r, "tasks/1/submit", "server-token")
			So(seen.URL.Path, ShouldEqual, "/api/tasks/1/submit")
			So(seen.URL.RawQuery, ShouldEqual, "x=1")
			So(seen.Header.Get("Authorization"), ShouldEqual, "Bearer server-token")
			So(seen.Header.Get("Cookie"), ShouldBeEmpty)
			So(seenBody, ShouldEqual, `{"a":1}`)
		})
	})

	Convey("An unreachable upstream is a 502", t, func() {
		f := New("http://127.0.0.1:1")
		resp := f.Forward(context.Background(), Request{Path: "/api/x"})
		So(resp.Status, ShouldEqual, http.StatusBadGateway)
		So(decode(t, resp.Body)["detail"], ShouldNotBeEmpty)
	})

	Convey("Path escapes each segment", t, func() {
		So(Path("candidate", "session", "a/b c"), ShouldEqual, "/api/candidate/session/a%2Fb%20c")
		So(escapeSegments("/x//y/"), ShouldEqual, "x/y")
	})
}
