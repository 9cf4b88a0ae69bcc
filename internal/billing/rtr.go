package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/harmoney/internal/member"
	"github.com/briangreenhill/harmoney/pkg/httpclient"
)

const (
	PaymentSystemEmbark   = "embark"
	PaymentSystemSoftheon = "softheon"

	embarkSource = "Embark"
)

const sourceQuery = `query getRTRRecord($issuerSubscriberId: ID) {
  accounts(issuerSubscriberId: $issuerSubscriberId) {
    source
    memberMigratedAwayFromSource
  }
}`

// RTRConfig locates the payment record GraphQL endpoint.
type RTRConfig struct {
	Host   string
	Prefix string
	APIKey string
}

type account struct {
	Source                       string `mapstructure:"source"`
	MemberMigratedAwayFromSource *bool  `mapstructure:"memberMigratedAwayFromSource"`
}

// RTR looks up which payment system holds a subscriber's account.
type RTR struct {
	http   *httpclient.Client
	url    string
	apiKey string
	log    zerolog.Logger
}

func NewRTR(hc *httpclient.Client, cfg RTRConfig, log zerolog.Logger) *RTR {
	return &RTR{
		http:   hc,
		url:    strings.TrimRight(cfg.Host, "/") + cfg.Prefix,
		apiKey: cfg.APIKey,
		log:    log,
	}
}

// PaymentSystem returns m.PaymentSystem when set. Otherwise it returns embark
// iff the account source is Embark and the member has not migrated away from
// it, and softheon for everything else, lookup failures included.
func (r *RTR) PaymentSystem(ctx context.Context, m *member.Member) string {
	if m.PaymentSystem != "" {
		return m.PaymentSystem
	}
	subID, err := member.IssuerSubscriberID(m)
	if err == nil {
		var acct *account
		if acct, err = r.source(ctx, subID); err == nil {
			if acct.Source == embarkSource && (acct.MemberMigratedAwayFromSource == nil || !*acct.MemberMigratedAwayFromSource) {
				return PaymentSystemEmbark
			}
			return PaymentSystemSoftheon
		}
	}
	r.log.Warn().Err(err).Str("member_id", m.ID).Msg("payment system lookup failed, assuming softheon")
	return PaymentSystemSoftheon
}

func (r *RTR) source(ctx context.Context, subID string) (*account, error) {
	body, err := json.Marshal(map[string]any{
		"query":     sourceQuery,
		"variables": map[string]string{"issuerSubscriberId": subID},
	})
	if err != nil {
		return nil, err
	}
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	cfg.Retries = 0
	env, err := r.http.RunInstance(ctx, r.url, httpclient.Options{
		Method: http.MethodPost,
		Headers: map[string]string{
			"Authorization": "Basic " + r.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	}, &cfg)
	if err != nil {
		return nil, fmt.Errorf("rtr source %s: %w", subID, err)
	}
	if env.Empty() {
		return nil, fmt.Errorf("rtr source %s: %w", subID, ErrUnavailable)
	}

	var res struct {
		Data struct {
			Accounts []account `mapstructure:"accounts"`
		} `mapstructure:"data"`
	}
	if err := decode(env.Data, &res); err != nil {
		return nil, fmt.Errorf("decode rtr source %s: %w", subID, err)
	}
	if len(res.Data.Accounts) == 0 {
		return nil, fmt.Errorf("rtr source %s: no accounts", subID)
	}
	return &res.Data.Accounts[0], nil
}
