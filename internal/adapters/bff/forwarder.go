// Package bff forwards authenticated calls to the upstream service. It
// attaches the bearer credential, never follows upstream redirects and
// normalizes every outcome, network failures included, into a Response.
package bff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/tenon/pkg/logger"
	"github.com/okian/tenon/pkg/metrics"
)

var hopByHop = map[string]struct{}{
	"connection":        {},
	"host":              {},
	"content-length":    {},
	"accept-encoding":   {},
	"upgrade":           {},
	"keep-alive":        {},
	"transfer-encoding": {},
	"cookie":            {},
}

func isHopByHop(name string) bool {
	_, ok := hopByHop[strings.ToLower(name)]
	return ok
}

// Request is one upstream call.
type Request struct {
	// Path is appended to the backend base URL and may carry a query.
	Path        string
	Method      string
	Header      http.Header
	Body        io.Reader
	AccessToken string
}

// JSONBody encodes v for Request.Body.
func JSONBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// Response is a normalized upstream outcome.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// UpstreamStatus is the literal upstream status, 0 when there was none.
	UpstreamStatus int
}

func jsonResponse(status int, v any) *Response {
	b, _ := json.Marshal(v)
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &Response{Status: status, Header: h, Body: b}
}

// Write sends the response. Location is always dropped.
func (r *Response) Write(w http.ResponseWriter) {
	dst := w.Header()
	for k, vs := range r.Header {
		if isHopByHop(k) || strings.EqualFold(k, "location") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	dst.Del("Location")
	if dst.Get("Cache-Control") == "" {
		dst.Set("Cache-Control", "no-store")
	}
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

// Forwarder issues upstream calls.
type Forwarder struct {
	base    string
	client  *http.Client
	timeout time.Duration
	maxBody int64
	brand   string
	log     logger.Logger
}

// New returns a Forwarder for the backend at base.
func New(base string, opts ...Option) *Forwarder {
	f := &Forwarder{
		base:    strings.TrimRight(base, "/"),
		client:  &http.Client{},
		timeout: 15 * time.Second,
		maxBody: 10 << 20,
		brand:   "tenon",
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	c := *f.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	f.client = &c
	return f
}

// UpstreamHeader is the diagnostic header carrying the literal upstream status.
func (f *Forwarder) UpstreamHeader() string { return "x-" + f.brand + "-upstream-status" }

// TagHeader names the header that identifies which BFF route answered.
func (f *Forwarder) TagHeader() string { return "x-" + f.brand + "-bff" }

// Forward performs req and normalizes the result. JSON bodies are parsed and
// re-serialized, other bodies pass through with their content type.
func (f *Forwarder) Forward(ctx context.Context, req Request) *Response {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := http.NewRequestWithContext(ctx, method, f.base+req.Path, req.Body)
	if err != nil {
		return f.failed(ctx, method, req.Path, err)
	}
	for k, vs := range req.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	if req.AccessToken != "" {
		out.Header.Set("Authorization", "Bearer "+req.AccessToken)
	}

	start := time.Now()
	res, err := f.client.Do(out)
	if err != nil {
		return f.failed(ctx, method, req.Path, err)
	}
	defer res.Body.Close()
	latency := float64(time.Since(start).Milliseconds())
	metrics.RecordForward(method, res.StatusCode, latency)
	f.log.Debug(ctx, "forwarded", logger.String("method", method), logger.String("path", req.Path),
		logger.Int("upstream_status", res.StatusCode), logger.Any("latency_ms", latency))

	if res.StatusCode >= 300 && res.StatusCode < 400 {
		metrics.RecordRedirectBlocked()
		f.log.Warn(ctx, "upstream redirect blocked", logger.String("path", req.Path), logger.Int("upstream_status", res.StatusCode))
		resp := jsonResponse(http.StatusBadGateway, map[string]any{
			"message":        "Upstream redirect blocked",
			"upstreamStatus": res.StatusCode,
		})
		return f.stamp(resp, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, f.maxBody+1))
	if err == nil && int64(len(body)) > f.maxBody {
		err = ErrBodyTooLarge
	}
	if err != nil {
		return f.failed(ctx, method, req.Path, err)
	}

	if isJSON(res.Header.Get("Content-Type")) {
		var buf bytes.Buffer
		if len(bytes.TrimSpace(body)) == 0 || json.Compact(&buf, body) != nil {
			buf.Reset()
			buf.WriteString("null")
		}
		resp := &Response{Status: res.StatusCode, Header: http.Header{}, Body: buf.Bytes()}
		resp.Header.Set("Content-Type", "application/json")
		copyPassthrough(resp.Header, res.Header, "Retry-After")
		return f.stamp(resp, res.StatusCode)
	}

	resp := &Response{Status: res.StatusCode, Header: http.Header{}, Body: body}
	for k, vs := range res.Header {
		if isHopByHop(k) || strings.EqualFold(k, "location") {
			continue
		}
		resp.Header[k] = append([]string(nil), vs...)
	}
	return f.stamp(resp, res.StatusCode)
}

func copyPassthrough(dst, src http.Header, names ...string) {
	for _, n := range names {
		if v := src.Get(n); v != "" {
			dst.Set(n, v)
		}
	}
}

func (f *Forwarder) stamp(r *Response, upstream int) *Response {
	r.UpstreamStatus = upstream
	r.Header.Set(f.UpstreamHeader(), strconv.Itoa(upstream))
	return r
}

func (f *Forwarder) failed(ctx context.Context, method, path string, err error) *Response {
	reason := "network"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	case errors.Is(err, ErrBodyTooLarge):
		reason = "body_too_large"
	}
	metrics.RecordUpstreamFailure(reason)
	f.log.Error(ctx, "upstream request failed", logger.String("method", method), logger.String("path", path),
		logger.String("reason", reason), logger.Error(err))
	return jsonResponse(http.StatusBadGateway, map[string]any{
		"message": "Upstream request failed",
		"detail":  fmt.Errorf("%w: %w", ErrUpstream, err).Error(),
	})
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Proxy forwards r as is to /api/{path} with its query, attaching token.
// The request body is forwarded for methods other than GET and HEAD.
func (f *Forwarder) Proxy(r *http.Request, path, token string) *Response {
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		}
		body = bytes.NewReader(b)
	}
	target := "/api/" + escapeSegments(path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	header := r.Header.Clone()
	header.Del("Authorization")
	return f.Forward(r.Context(), Request{
		Path:        target,
		Method:      r.Method,
		Header:      header,
		Body:        body,
		AccessToken: token,
	})
}
