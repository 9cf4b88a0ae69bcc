package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/harmoney/internal/credentials"
	"github.com/briangreenhill/harmoney/pkg/httpclient"
)

// rtrServer answers the source query with the given status and body.
func rtrServer(t *testing.T, status int, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rtr/graphql", r.URL.Path)
		assert.Equal(t, "Basic rtr-key", r.Header.Get("Authorization"))

		var q struct {
			Query     string            `json:"query"`
			Variables map[string]string `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Contains(t, q.Query, "memberMigratedAwayFromSource")
		assert.Equal(t, "R12345678", q.Variables["issuerSubscriberId"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRTR(url string) *RTR {
	return NewRTR(httpclient.New(), RTRConfig{Host: url, Prefix: "/rtr/graphql", APIKey: "rtr-key"}, zerolog.Nop())
}

func TestPaymentSystem(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"embark member", http.StatusOK, `{"data":{"accounts":[{"source":"Embark","memberMigratedAwayFromSource":false}]}}`, PaymentSystemEmbark},
		{"migrated flag missing", http.StatusOK, `{"data":{"accounts":[{"source":"Embark"}]}}`, PaymentSystemEmbark},
		{"migrated away", http.StatusOK, `{"data":{"accounts":[{"source":"Embark","memberMigratedAwayFromSource":true}]}}`, PaymentSystemSoftheon},
		{"other source", http.StatusOK, `{"data":{"accounts":[{"source":"Softheon","memberMigratedAwayFromSource":false}]}}`, PaymentSystemSoftheon},
		{"no accounts", http.StatusOK, `{"data":{"accounts":[]}}`, PaymentSystemSoftheon},
		{"upstream error", http.StatusInternalServerError, `{"errors":[{"message":"boom"}]}`, PaymentSystemSoftheon},
		{"unparseable", http.StatusOK, `not json`, PaymentSystemSoftheon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := rtrServer(t, tt.status, tt.body, &calls)
			got := newRTR(srv.URL).PaymentSystem(context.Background(), testMember())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestPaymentSystemKeepsKnownValue(t *testing.T) {
	var calls int32
	srv := rtrServer(t, http.StatusOK, `{}`, &calls)
	m := testMember()
	m.PaymentSystem = PaymentSystemSoftheon

	assert.Equal(t, PaymentSystemSoftheon, newRTR(srv.URL).PaymentSystem(context.Background(), m))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestPaymentSystemUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	assert.Equal(t, PaymentSystemSoftheon, newRTR(addr).PaymentSystem(context.Background(), testMember()))
}

func TestSubscriberUsesEmbarkIdentity(t *testing.T) {
	var walletHits, rtrCalls int32
	vendor := vendorServer(t, &walletHits)
	rtr := rtrServer(t, http.StatusOK, `{"data":{"accounts":[{"source":"Embark","memberMigratedAwayFromSource":false}]}}`, &rtrCalls)

	iss := &issuerStub{}
	c := New(httpclient.New(), credentials.NewCache(time.Hour), iss.Issue, Config{
		PaymentHost:   vendor.URL,
		PaymentPrefix: "/api",
		WalletHost:    vendor.URL,
	}, WithRTR(newRTR(rtr.URL)))

	m := testMember()
	_, err := c.Subscriber(context.Background(), m)
	require.NoError(t, err)
	assert.Empty(t, m.PaymentSystem, "caller's member is not modified")

	_, err = c.Wallet(context.Background(), m, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"embark/remote", "embark/payment"}, iss.scopes)
	// one lookup per call; Wallet's nested Subscriber reuses it
	assert.Equal(t, int32(2), atomic.LoadInt32(&rtrCalls))
}

func TestSubscriberFallsBackToSoftheon(t *testing.T) {
	var walletHits, rtrCalls int32
	vendor := vendorServer(t, &walletHits)
	rtr := rtrServer(t, http.StatusServiceUnavailable, `<html>`, &rtrCalls)

	iss := &issuerStub{}
	c := New(httpclient.New(), credentials.NewCache(time.Hour), iss.Issue, Config{
		PaymentHost:   vendor.URL,
		PaymentPrefix: "/api",
	}, WithRTR(newRTR(rtr.URL)))

	_, err := c.Subscriber(context.Background(), testMember())
	require.NoError(t, err)
	// softheon members pick their identity by state: CA is healthnet
	assert.Equal(t, []string{"healthnet/remote"}, iss.scopes)
	assert.Equal(t, int32(1), atomic.LoadInt32(&rtrCalls))
}
