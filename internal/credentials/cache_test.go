package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type countingIssuer struct {
	calls int32
	token func(n int32, identity, scope string) (string, error)
}

func (c *countingIssuer) Issue(ctx context.Context, identity, scope string) (string, error) {
	n := atomic.AddInt32(&c.calls, 1)
	return c.token(n, identity, scope)
}

func numbered(n int32, identity, scope string) (string, error) {
	return identity + "-" + scope + "-" + string(rune('0'+n)), nil
}

func TestGetOrRefreshWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(time.Hour, WithClock(clock))
	iss := &countingIssuer{token: numbered}

	tok1, err := cache.GetOrRefresh(context.Background(), "ambetter", ScopeRemote, iss.Issue)
	require.NoError(t, err)
	clock.Advance(59 * time.Minute)
	tok2, err := cache.GetOrRefresh(context.Background(), "ambetter", ScopeRemote, iss.Issue)
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&iss.calls))

	entry, ok := cache.Peek("ambetter", ScopeRemote)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC), entry.Expiry)
}

func TestGetOrRefreshAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(time.Hour, WithClock(clock))
	iss := &countingIssuer{token: numbered}

	tok1, err := cache.GetOrRefresh(context.Background(), "ambetter", ScopeRemote, iss.Issue)
	require.NoError(t, err)
	clock.Advance(time.Hour) // expiry is exclusive
	tok2, err := cache.GetOrRefresh(context.Background(), "ambetter", ScopeRemote, iss.Issue)
	require.NoError(t, err)

	assert.NotEqual(t, tok1, tok2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&iss.calls))
}

func TestScopesAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cache := NewCache(0, WithClock(clock))
	assert.Equal(t, DefaultTTL, cache.TTL())
	iss := &countingIssuer{token: numbered}

	remote, err := cache.GetOrRefresh(context.Background(), "healthnet", ScopeRemote, iss.Issue)
	require.NoError(t, err)
	payment, err := cache.GetOrRefresh(context.Background(), "healthnet", ScopePayment, iss.Issue)
	require.NoError(t, err)
	assert.NotEqual(t, remote, payment)
	assert.Equal(t, int32(2), atomic.LoadInt32(&iss.calls))

	// refreshing payment leaves remote untouched
	clock.Advance(30 * time.Minute)
	again, err := cache.GetOrRefresh(context.Background(), "healthnet", ScopeRemote, iss.Issue)
	require.NoError(t, err)
	assert.Equal(t, remote, again)
	assert.Equal(t, int32(2), atomic.LoadInt32(&iss.calls))
}

func TestIssuerFailureKeepsStaleEntry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(time.Hour, WithClock(clock))

	ok := func(ctx context.Context, identity, scope string) (string, error) { return "good", nil }
	boom := errors.New("idp down")
	fail := func(ctx context.Context, identity, scope string) (string, error) { return "", boom }

	_, err := cache.GetOrRefresh(context.Background(), "embark", ScopePayment, ok)
	require.NoError(t, err)
	before, _ := cache.Peek("embark", ScopePayment)

	clock.Advance(2 * time.Hour)
	tok, err := cache.GetOrRefresh(context.Background(), "embark", ScopePayment, fail)
	require.Error(t, err)
	assert.Empty(t, tok, "expired token must not be returned")
	assert.ErrorIs(t, err, ErrIssuance)
	assert.ErrorIs(t, err, boom)

	var ierr *IssuanceError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "embark", ierr.Identity)
	assert.Equal(t, ScopePayment, ierr.Scope)

	after, found := cache.Peek("embark", ScopePayment)
	require.True(t, found)
	assert.Equal(t, before, after)
}

func TestEmptyTokenIsIssuanceFailure(t *testing.T) {
	cache := NewCache(time.Hour)
	empty := func(ctx context.Context, identity, scope string) (string, error) { return "", nil }

	_, err := cache.GetOrRefresh(context.Background(), "ambetter", ScopeRemote, empty)
	assert.ErrorIs(t, err, ErrIssuance)
	_, found := cache.Peek("ambetter", ScopeRemote)
	assert.False(t, found)
}

func TestConcurrentRefreshIsCoalesced(t *testing.T) {
	cache := NewCache(time.Hour)
	release := make(chan struct{})
	var calls int32
	slow := func(ctx context.Context, identity, scope string) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "shared-token", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := cache.GetOrRefresh(context.Background(), "ambetter", ScopeRemote, slow)
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "shared-token", r)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

type tokenObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *tokenObserver) ObserveToken(scope, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, scope+":"+result)
}

func TestObserverCounts(t *testing.T) {
	obs := &tokenObserver{}
	cache := NewCache(time.Hour, WithObserver(obs))
	iss := &countingIssuer{token: numbered}

	_, _ = cache.GetOrRefresh(context.Background(), "a", ScopeRemote, iss.Issue)
	_, _ = cache.GetOrRefresh(context.Background(), "a", ScopeRemote, iss.Issue)
	assert.Equal(t, []string{"remote:miss", "remote:hit"}, obs.results)
}

func TestCancelledCallerDoesNotFailWaiters(t *testing.T) {
	cache := NewCache(time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, identity, scope string) (string, error) {
		close(started)
		select {
		case <-release:
			return "tok", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.GetOrRefresh(ctxA, "a", ScopeRemote, slow)
		errA <- err
	}()
	<-started

	type result struct {
		tok string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		tok, err := cache.GetOrRefresh(context.Background(), "a", ScopeRemote, slow)
		resB <- result{tok, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "tok", b.tok)

	entry, ok := cache.Peek("a", ScopeRemote)
	require.True(t, ok)
	assert.Equal(t, "tok", entry.Value)
}

func TestRefreshTimeoutBoundsIssuer(t *testing.T) {
	cache := NewCache(time.Hour, WithRefreshTimeout(10*time.Millisecond))
	hang := func(ctx context.Context, identity, scope string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := cache.GetOrRefresh(context.Background(), "a", ScopeRemote, hang)
	assert.ErrorIs(t, err, ErrIssuance)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
