// Package credentials caches short-lived bearer tokens per client identity and scope.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = time.Hour

	// DefaultRefreshTimeout bounds one shared issuer call.
	DefaultRefreshTimeout = 30 * time.Second

	ScopeRemote  = "remote"
	ScopePayment = "payment"
)

// ErrIssuance matches every *IssuanceError.
var ErrIssuance = errors.New("credential issuance failed")

// IssuanceError wraps an issuer failure for one identity and scope.
type IssuanceError struct {
	Identity string
	Scope    string
	Err      error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issue %s token for %s: %v", e.Scope, e.Identity, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

func (e *IssuanceError) Is(target error) bool { return target == ErrIssuance }

// Clock is the time source used for expiry.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock uses time.Now.
var SystemClock Clock = ClockFunc(time.Now)

// IssuerFunc obtains a new token from the identity provider.
type IssuerFunc func(ctx context.Context, identity, scope string) (string, error)

// Observer receives one event per lookup. result is hit, miss or error.
type Observer interface {
	ObserveToken(scope, result string)
}

type Key struct {
	Identity string
	Scope    string
}

// Token is a published cache entry. Entries are replaced, never mutated.
type Token struct {
	Value  string
	Expiry time.Time
}

type Cache struct {
	ttl     time.Duration
	timeout time.Duration
	clock   Clock
	log     zerolog.Logger
	obs     Observer

	mu      sync.RWMutex
	entries map[Key]*Token
	group   singleflight.Group
}

type Option func(*Cache)

func WithClock(c Clock) Option {
	return func(cc *Cache) {
		if c != nil {
			cc.clock = c
		}
	}
}

// WithRefreshTimeout bounds each issuer call. Non-positive values are ignored.
func WithRefreshTimeout(d time.Duration) Option {
	return func(cc *Cache) {
		if d > 0 {
			cc.timeout = d
		}
	}
}
func WithLogger(l zerolog.Logger) Option {
	return func(cc *Cache) { cc.log = l }
}
func WithObserver(o Observer) Option {
	return func(cc *Cache) { cc.obs = o }
}

// NewCache returns an empty cache. A non-positive ttl means DefaultTTL.
func NewCache(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		timeout: DefaultRefreshTimeout,
		clock:   SystemClock,
		log:     zerolog.Nop(),
		entries: make(map[Key]*Token),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the validity window applied to newly issued tokens.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Peek returns the published entry for identity and scope, fresh or not.
func (c *Cache) Peek(identity, scope string) (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[Key{identity, scope}]
	if !ok {
		return Token{}, false
	}
	return *t, true
}

// GetOrRefresh returns the cached token while it is fresh, otherwise calls issue
// and publishes the result with expiry = issue start + TTL. On failure the old
// entry is kept and an *IssuanceError is returned; an expired token is never returned.
// Concurrent refreshes of the same key share one issuer call. The shared call
// ignores caller cancellation; each caller stops waiting when its own ctx is done.
func (c *Cache) GetOrRefresh(ctx context.Context, identity, scope string, issue IssuerFunc) (string, error) {
	key := Key{identity, scope}
	if tok, ok := c.fresh(key); ok {
		c.observe(scope, "hit")
		return tok, nil
	}

	ch := c.group.DoChan(identity+"\x00"+scope, func() (any, error) {
		// another caller may have published while we waited on the group
		if tok, ok := c.fresh(key); ok {
			return tok, nil
		}
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		start := c.clock.Now()
		tok, err := issue(ictx, identity, scope)
		if err == nil && tok == "" {
			err = errors.New("identity provider returned an empty token")
		}
		if err != nil {
			return "", &IssuanceError{Identity: identity, Scope: scope, Err: err}
		}
		c.mu.Lock()
		c.entries[key] = &Token{Value: tok, Expiry: start.Add(c.ttl)}
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.observe(scope, "error")
			c.log.Error().Err(res.Err).Str("identity", identity).Str("scope", scope).Msg("token refresh failed")
			return "", res.Err
		}
		c.observe(scope, "miss")
		c.log.Debug().Str("identity", identity).Str("scope", scope).Bool("shared", res.Shared).Msg("token refreshed")
		return res.Val.(string), nil
	case <-ctx.Done():
		c.observe(scope, "error")
		return "", ctx.Err()
	}
}

func (c *Cache) fresh(key Key) (string, bool) {
	c.mu.RLock()
	t, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !c.clock.Now().Before(t.Expiry) {
		return "", false
	}
	return t.Value, true
}

func (c *Cache) observe(scope, result string) {
	if c.obs != nil {
		c.obs.ObserveToken(scope, result)
	}
}
