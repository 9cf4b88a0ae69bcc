package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(ClientIdentity{Name: IdentityAmbetter, ClientID: "amb-id", ClientSecret: "amb-secret"})
	reg.Register(ClientIdentity{Name: IdentityHealthnet, ClientID: "hn-id", ClientSecret: "hn-secret"})
	return reg
}

func tokenServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/identity/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "amb-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "amb-secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("scope") {
		case "api.softheon.remote":
			_, _ = w.Write([]byte(`{"access_token":"remote-tok","token_type":"bearer","expires_in":3600}`))
		case "api.softheon.payment":
			_, _ = w.Write([]byte(`{"access_token":"payment-tok","token_type":"bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_scope"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIssuerClientCredentials(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	iss := NewIssuer(TokenURL(srv.URL+"/", "/identity"), "", testRegistry(), srv.Client())

	tok, err := iss.Issue(context.Background(), IdentityAmbetter, ScopeRemote)
	require.NoError(t, err)
	assert.Equal(t, "remote-tok", tok)

	tok, err = iss.Issue(context.Background(), IdentityAmbetter, ScopePayment)
	require.NoError(t, err)
	assert.Equal(t, "payment-tok", tok)

	_, err = iss.Issue(context.Background(), IdentityAmbetter, "bogus")
	assert.Error(t, err)

	_, err = iss.Issue(context.Background(), IdentityEmbark, ScopeRemote)
	assert.ErrorContains(t, err, "unknown client identity")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestIssuerThroughCache(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls)
	iss := NewIssuer(TokenURL(srv.URL, "/identity"), DefaultScopePrefix, testRegistry(), srv.Client())
	cache := NewCache(time.Hour)

	for i := 0; i < 3; i++ {
		tok, err := cache.GetOrRefresh(context.Background(), IdentityAmbetter, ScopeRemote, iss.Issue)
		require.NoError(t, err)
		assert.Equal(t, "remote-tok", tok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err := cache.GetOrRefresh(context.Background(), IdentityAmbetter, "bogus", iss.Issue)
	assert.ErrorIs(t, err, ErrIssuance)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Empty(t, reg.List())

	assert.False(t, reg.Register(ClientIdentity{Name: IdentityEmbark, ClientID: "id"}), "secret required")
	assert.True(t, reg.Register(ClientIdentity{Name: IdentityHealthnet, ClientID: "h", ClientSecret: "s"}))
	assert.True(t, reg.Register(ClientIdentity{Name: IdentityAmbetter, ClientID: "a", ClientSecret: "s"}))
	assert.Equal(t, []string{IdentityAmbetter, IdentityHealthnet}, reg.List())

	ci, ok := reg.Get(IdentityHealthnet)
	require.True(t, ok)
	assert.Equal(t, "h", ci.ClientID)
	_, ok = reg.Get(IdentityEmbark)
	assert.False(t, ok)
}

func TestIdentityFor(t *testing.T) {
	tests := []struct {
		payment, state, want string
	}{
		{"embark", "CA", IdentityEmbark},
		{"softheon", "CA", IdentityHealthnet},
		{"softheon", "TX", IdentityAmbetter},
		{"", "", IdentityAmbetter},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IdentityFor(tt.payment, tt.state), "%s/%s", tt.payment, tt.state)
	}
}
