// Package httpclient runs single logical HTTP calls with a per-attempt timeout,
// bounded retries on timeout and uniform response shaping.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader is set on every attempt; all attempts of one call share the value.
const RequestIDHeader = "X-Request-ID"

// Observer receives one event per attempt. outcome is ok, http_error, timeout or error.
type Observer interface {
	ObserveAttempt(method, outcome string, d time.Duration)
}

type Client struct {
	http  *http.Client
	log   zerolog.Logger
	obs   Observer
	newID func() string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}
func WithObserver(o Observer) Option {
	return func(c *Client) { c.obs = o }
}

func New(opts ...Option) *Client {
	c := &Client{
		http:  &http.Client{},
		log:   zerolog.Nop(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Execute sends req, retrying only timed-out attempts. When every attempt times
// out it returns an empty envelope with TimedOut set and a nil error. Status codes
// are not inspected here; see RunInstance. Requests not built by NewRequest
// fail with ErrInvalidRequest.
func (c *Client) Execute(ctx context.Context, req Request) (*Envelope, error) {
	if req.headers == nil || req.url == "" || req.config.Timeout <= 0 {
		return nil, fmt.Errorf("%w: request not built by NewRequest", ErrInvalidRequest)
	}
	cfg := req.config
	reqID := req.headers.Get(RequestIDHeader)
	if reqID == "" {
		reqID = c.newID()
	}
	log := c.log.With().
		Str("request_id", reqID).
		Str("method", req.method).
		Str("url", req.url).
		Logger()

	total := cfg.Retries + 1
	for attempt := 1; attempt <= total; attempt++ {
		start := time.Now()
		env, err := c.attempt(ctx, req, reqID)
		elapsed := time.Since(start)

		if err == nil {
			outcome := "ok"
			if env.Status >= 400 {
				outcome = "http_error"
			}
			c.observe(req.method, outcome, elapsed)
			env.Attempts = attempt
			env.RequestID = reqID
			log.Debug().Int("attempt", attempt).Int("status", env.Status).Dur("elapsed", elapsed).Msg("response received")
			return env, nil
		}

		var perr *ResponseParseError
		if errors.As(err, &perr) {
			c.observe(req.method, "ok", elapsed)
			log.Error().Err(err).Int("status", perr.Status).Msg("response parse failed")
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.observe(req.method, "error", elapsed)
			return nil, ctxErr
		}
		if !isTimeout(err) {
			c.observe(req.method, "error", elapsed)
			log.Error().Err(err).Int("attempt", attempt).Msg("request failed")
			return nil, fmt.Errorf("%s %s: %w", req.method, req.url, err)
		}

		c.observe(req.method, "timeout", elapsed)
		log.Warn().Int("attempt", attempt).Int("max_attempts", total).Dur("timeout", cfg.Timeout).Msg("request timed out")
		if attempt < total {
			if err := sleep(ctx, cfg.Backoff); err != nil {
				return nil, err
			}
		}
	}

	log.Error().Int("attempts", total).Msg("giving up after repeated timeouts")
	return &Envelope{URL: req.url, TimedOut: true, Attempts: total, RequestID: reqID}, nil
}

// RunInstance builds and executes a request, then fails with *UpstreamHTTPError
// when the completed response has status >= 400. A nil cfg means DefaultConfig.
func (c *Client) RunInstance(ctx context.Context, rawURL string, opts Options, cfg *Config) (*Envelope, error) {
	req, err := NewRequest(rawURL, opts, cfg)
	if err != nil {
		return nil, err
	}
	env, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if env.Status >= 400 {
		herr := &UpstreamHTTPError{
			Method:     req.method,
			URL:        req.url,
			Status:     env.Status,
			StatusText: env.StatusText,
			Body:       env.Data,
			Raw:        env.Raw,
		}
		c.log.Error().
			Str("request_id", env.RequestID).
			Str("method", req.method).
			Str("url", req.url).
			Int("status", env.Status).
			Str("body", env.Raw).
			Msg("upstream returned error status")
		return nil, herr
	}
	return env, nil
}

// Get performs a single-attempt GET with Basic auth and returns only the body.
// It returns nil when the attempt timed out.
func (c *Client) Get(ctx context.Context, rawURL, apiKey string) (any, error) {
	cfg := DefaultConfig()
	cfg.Retries = 0
	req, err := NewRequest(rawURL, Options{
		Method:  http.MethodGet,
		Headers: map[string]string{"Authorization": "Basic " + apiKey},
	}, &cfg)
	if err != nil {
		return nil, err
	}
	env, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if env.Empty() {
		return nil, nil
	}
	return env.Data, nil
}

func (c *Client) attempt(ctx context.Context, req Request, reqID string) (*Envelope, error) {
	actx, cancel := context.WithTimeout(ctx, req.config.Timeout)
	defer cancel()

	var body io.Reader
	if len(req.body) > 0 {
		body = bytes.NewReader(req.body)
	}
	hr, err := http.NewRequestWithContext(actx, req.method, req.url, body)
	if err != nil {
		return nil, err
	}
	hr.Header = req.headers.Clone()
	hr.Header.Set(RequestIDHeader, reqID)

	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return shape(req, resp, raw)
}

func shape(req Request, resp *http.Response, raw []byte) (*Envelope, error) {
	env := &Envelope{
		OK:         resp.StatusCode < 400,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     resp.Header,
		URL:        req.url,
		Raw:        string(raw),
		Data:       string(raw),
	}
	if !req.config.AssumeJSON && !isJSONContentType(resp.Header.Get("Content-Type")) {
		return env, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// error statuses keep the raw body for UpstreamHTTPError
		if req.config.ThrowOnParseError && env.OK {
			return nil, &ResponseParseError{URL: req.url, Status: resp.StatusCode, Raw: string(raw), Err: err}
		}
		return env, nil
	}
	env.Data = v
	env.IsJSON = true
	return env, nil
}

func isJSONContentType(ct string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "application/json")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) observe(method, outcome string, d time.Duration) {
	if c.obs != nil {
		c.obs.ObserveAttempt(method, outcome, d)
	}
}
