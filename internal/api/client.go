// Package api provides a client for the meeting-intelligence backend: the
// HTTP endpoints and the live transcription stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/talktotext/internal/auth"
	apperrors "github.com/GriffinCanCode/talktotext/internal/errors"
	"github.com/GriffinCanCode/talktotext/internal/resilience"
	"github.com/GriffinCanCode/talktotext/internal/trace"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Client calls the backend HTTP API. Every call requires an identity in
// its context and sends the token as a Bearer credential.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is
// wrapped for trace propagation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker guards calls with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// New creates a client for the backend at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.New(resilience.DefaultConfig(), apperrors.IsRetryable)
	}
	c.http.Transport = &trace.Transport{Base: c.http.Transport}
	return c
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// send performs r and returns the raw response. The caller closes the body.
func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	var resp *http.Response
	err = c.breaker.Do(func() error {
		var err error
		resp, err = c.roundTrip(ctx, id, r)
		return err
	})
	if errors.Is(err, resilience.ErrOpen) {
		return nil, apperrors.Wrap(err, apperrors.Transport, "backend unavailable").
			WithMetadata("path", r.path)
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, id auth.Identity, r request) (*http.Response, error) {
	body := r.body
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+id.Token)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.Transport, "backend request failed").
			WithMetadata("path", r.path)
	}
	trace.Logger(ctx).Debug("backend call",
		"method", r.method, "path", r.path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.FromHTTPStatus(resp.StatusCode, detail(msg)).WithMetadata("path", r.path)
	}
	return resp, nil
}

// do performs r and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, r request, out any) error {
	resp, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Warn("undecodable backend response", "path", r.path, "error", err)
		return apperrors.Wrap(err, apperrors.Transport, "decode backend response").
			WithMetadata("path", r.path)
	}
	return nil
}

// detail extracts FastAPI-style {"detail": "..."} messages, falling back to the raw body.
func detail(body []byte) string {
	var env struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if s, ok := env.Detail.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(body))
}
