package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 1 * time.Second
	DefaultRetries = 3
	DefaultBackoff = 50 * time.Millisecond
)

// ErrInvalidRequest is returned for a request descriptor that cannot be sent.
var ErrInvalidRequest = errors.New("invalid request")

// Config controls timeout, retry and response handling for one logical call.
type Config struct {
	Timeout           time.Duration // per attempt, must be > 0
	Retries           int           // extra attempts after a timeout; total attempts = Retries+1
	Backoff           time.Duration // sleep between timed-out attempts
	AssumeJSON        bool          // parse the body as JSON regardless of Content-Type
	ThrowOnParseError bool          // fail instead of degrading to a text envelope (status < 400 only)
}

// DefaultConfig returns a 1s timeout, 3 retries and a 50ms backoff.
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Retries: DefaultRetries,
		Backoff: DefaultBackoff,
	}
}

// Options describes what to send.
type Options struct {
	Method  string
	Headers map[string]string
	Params  map[string]string
	Body    []byte
	Form    url.Values // url-encoded into the body when Body is empty
}

// Request is a validated, self-contained request descriptor. Build it with NewRequest.
type Request struct {
	method  string
	url     string
	headers http.Header
	body    []byte
	config  Config
}

// NewRequest validates opts and cfg and returns an immutable descriptor.
// A nil cfg means DefaultConfig.
func NewRequest(rawURL string, opts Options, cfg *Config) (Request, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		return Request{}, fmt.Errorf("%w: timeout must be > 0, got %s", ErrInvalidRequest, c.Timeout)
	}
	if c.Retries < 0 {
		return Request{}, fmt.Errorf("%w: retries must be >= 0, got %d", ErrInvalidRequest, c.Retries)
	}
	if c.Backoff < 0 {
		c.Backoff = 0
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return Request{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, opts.Method)
	}

	if rawURL == "" {
		return Request{}, fmt.Errorf("%w: url required", ErrInvalidRequest)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(opts.Params) > 0 {
		q := u.Query()
		for k, v := range opts.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	h := make(http.Header, len(opts.Headers))
	for k, v := range opts.Headers {
		h.Set(k, v)
	}

	body := append([]byte(nil), opts.Body...)
	if len(body) == 0 && len(opts.Form) > 0 {
		body = []byte(opts.Form.Encode())
		if h.Get("Content-Type") == "" {
			h.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}

	return Request{
		method:  method,
		url:     u.String(),
		headers: h,
		body:    body,
		config:  c,
	}, nil
}

func (r Request) Method() string { return r.method }
func (r Request) URL() string    { return r.url }
func (r Request) Config() Config { return r.config }

// Header returns a copy of the request headers.
func (r Request) Header() http.Header { return r.headers.Clone() }
