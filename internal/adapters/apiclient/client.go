// Package apiclient is the typed client of the BFF routes. Every failure is
// an *HTTPError whose message comes from a per-operation mapping table.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/tenon/pkg/logger"
)

// Client calls the BFF under a base path such as http://host:3000/api.
type Client struct {
	base  string
	http  *http.Client
	token string
	log   logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithToken sets the bearer token used by recruiter operations.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = strings.TrimSpace(token) }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) { cl.log = logger.OrNop(l) }
}

// New returns a client for the BFF at base.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{},
		log:  logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type call struct {
	method string
	path   string
	token  string
	header http.Header
	body   any
}

// do performs c and returns the body of a 2xx response. A cancelled context
// is returned as is so callers can tell an abort from a failure.
func (c *Client) do(ctx context.Context, in call) ([]byte, http.Header, error) {
	var body io.Reader
	if in.body != nil {
		b, err := json.Marshal(in.body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, in.method, c.base+in.path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range in.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in.token != "" {
		req.Header.Set("Authorization", "Bearer "+in.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, contextError(ctxErr)
		}
		c.log.Debug(ctx, "request failed", logger.String("path", in.path), logger.Error(err))
		return nil, nil, &HTTPError{Status: 0, Message: NetworkErrorMessage, Details: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, contextError(ctxErr)
		}
		return nil, nil, &HTTPError{Status: 0, Message: NetworkErrorMessage, Details: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		details := decodeDetails(raw)
		return nil, res.Header, &HTTPError{
			Status:  res.StatusCode,
			Message: ExtractErrorMessage(details, res.StatusCode),
			Details: details,
			Header:  res.Header,
		}
	}
	return raw, res.Header, nil
}

// IsAbort reports whether err is a cancellation rather than a failure.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}

func requireToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return &HTTPError{Status: http.StatusUnauthorized, Message: "Not authenticated. Please sign in again."}
	}
	return nil
}

func invalidResponse(fallback string, err error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Message: fallback, Details: err}
}

func jsonUnmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// contextError keeps cancellation an abort. A deadline is a transport
// failure like any other and reports the network message.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &HTTPError{Status: 0, Message: NetworkErrorMessage, Details: err}
	}
	return err
}
