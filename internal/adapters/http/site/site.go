// Package site serves the HTML shells of the pages the route guard protects.
package site

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/okian/tenon/pkg/logger"
)

// Error constants
var (
	ErrTemplate = errors.New("page template failed")
	ErrRender   = errors.New("page render failed")
)

//go:embed templates/*.html
var templateFS embed.FS

type page struct {
	Page     string
	Title    string
	Token    string
	Mode     string
	ReturnTo string
}

// Site renders the page shells.
type Site struct {
	pages map[string]*template.Template
	log   logger.Logger
}

// New parses the embedded templates.
func New(log logger.Logger) (*Site, error) {
	s := &Site{pages: map[string]*template.Template{}, log: logger.OrNop(log)}
	for _, name := range []string{"home", "not_authorized", "dashboard", "candidate_dashboard", "candidate_session"} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTemplate, name, err)
		}
		s.pages[name] = t
	}
	return s, nil
}

// Register attaches the page routes to mux.
func (s *Site) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, "home", page{Title: "Welcome"})
	})
	mux.HandleFunc("GET /login", s.handleLogin)
	mux.HandleFunc("GET /not-authorized", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mode := q.Get("mode")
		if mode != "candidate" {
			mode = "recruiter"
		}
		s.render(w, r, "not_authorized", page{Title: "Not authorized", Mode: mode, ReturnTo: q.Get("returnTo")})
	})
	mux.HandleFunc("GET /dashboard", s.handleDashboard)
	mux.HandleFunc("GET /dashboard/{rest...}", s.handleDashboard)
	mux.HandleFunc("GET /candidate/dashboard", func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, "candidate_dashboard", page{Title: "Candidate dashboard"})
	})
	mux.HandleFunc("GET /candidate/{token}", func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, "candidate_session", page{Title: "Simulation", Token: r.PathValue("token")})
	})
}

func (s *Site) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "dashboard", page{Title: "Dashboard"})
}

// handleLogin keeps the old /login entry point working.
func (s *Site) handleLogin(w http.ResponseWriter, r *http.Request) {
	target := url.URL{Path: "/auth/login", RawQuery: r.URL.RawQuery}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Site) render(w http.ResponseWriter, r *http.Request, name string, p page) {
	p.Page = name
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", p); err != nil {
		s.log.Error(r.Context(), "render page", logger.String("page", name), logger.Error(fmt.Errorf("%w: %w", ErrRender, err)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
