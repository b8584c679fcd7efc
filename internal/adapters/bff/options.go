package bff

import (
	"net/http"
	"time"

	"github.com/okian/tenon/pkg/logger"
)

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient replaces the upstream client. Its redirect policy is
// overridden so redirects are never followed.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTimeout bounds a single upstream call.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxBodyBytes caps how much of an upstream body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// WithBrand sets the slug used in diagnostic header names.
func WithBrand(slug string) Option {
	return func(f *Forwarder) {
		if slug != "" {
			f.brand = slug
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Forwarder) { f.log = logger.OrNop(l) }
}
