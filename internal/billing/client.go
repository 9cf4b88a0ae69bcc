// Package billing reads subscriber and wallet data from the payment vendor
// using cached client-credential tokens.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/harmoney/internal/credentials"
	"github.com/briangreenhill/harmoney/internal/member"
	"github.com/briangreenhill/harmoney/pkg/httpclient"
)

// ErrUnavailable is returned when the vendor did not answer within the retry budget.
var ErrUnavailable = errors.New("billing service unavailable")

// Config locates the subscriber and wallet APIs.
type Config struct {
	PaymentHost   string
	PaymentPrefix string
	WalletHost    string
}

// Subscriber is the subset of the vendor subscriber record this service reads.
type Subscriber struct {
	IssuerSubscriberID string  `json:"issuerSubscriberId" mapstructure:"-"`
	FolderID           string  `json:"folderId" mapstructure:"FolderID"`
	Status             string  `json:"status,omitempty" mapstructure:"Status"`
	FinanceStatus      string  `json:"financeStatus,omitempty" mapstructure:"FinanceStatus"`
	TotalAmountDue     float64 `json:"totalAmountDue" mapstructure:"TotalAmountDue"`
	PremiumAmountDue   float64 `json:"premiumAmountDue" mapstructure:"PremiumAmountDue"`
	CurrentAmountDue   float64 `json:"currentAmountDue" mapstructure:"CurrentAmountDue"`
}

// Wallet is the wallet payload for one payment reference.
type Wallet struct {
	ReferenceID string `json:"referenceId"`
	Data        any    `json:"data"`
}

type Client struct {
	http   *httpclient.Client
	tokens *credentials.Cache
	issue  credentials.IssuerFunc
	rtr    *RTR
	cfg    Config
	log    zerolog.Logger
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRTR looks up the payment system of members that do not carry one.
func WithRTR(r *RTR) Option {
	return func(c *Client) { c.rtr = r }
}

func New(hc *httpclient.Client, tokens *credentials.Cache, issue credentials.IssuerFunc, cfg Config, opts ...Option) *Client {
	c := &Client{
		http:   hc,
		tokens: tokens,
		issue:  issue,
		cfg:    cfg,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Identity returns the client identity used for m.
func Identity(m *member.Member) string {
	return credentials.IdentityFor(m.PaymentSystem, member.DecodeHIOS(m.PlanHIOSID).StateCode)
}

// withPaymentSystem returns m, or a copy carrying the looked-up payment system.
func (c *Client) withPaymentSystem(ctx context.Context, m *member.Member) *member.Member {
	if c.rtr == nil || m.PaymentSystem != "" {
		return m
	}
	cp := *m
	cp.PaymentSystem = c.rtr.PaymentSystem(ctx, m)
	return &cp
}

func (c *Client) token(ctx context.Context, m *member.Member, scope string) (string, error) {
	return c.tokens.GetOrRefresh(ctx, Identity(m), scope, c.issue)
}

// Subscriber fetches the subscriber record for an enriched member with a remote-scope token.
func (c *Client) Subscriber(ctx context.Context, m *member.Member) (*Subscriber, error) {
	subID, err := member.IssuerSubscriberID(m)
	if err != nil {
		return nil, err
	}
	m = c.withPaymentSystem(ctx, m)
	tok, err := c.token(ctx, m, credentials.ScopeRemote)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.cfg.PaymentHost, "/") + c.cfg.PaymentPrefix + "/Subscriber"
	env, err := c.http.RunInstance(ctx, url, httpclient.Options{
		Method:  http.MethodGet,
		Headers: map[string]string{"Authorization": "Bearer " + tok},
		Params:  map[string]string{"issuerSubscriberID": subID},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("get subscriber %s: %w", subID, err)
	}
	if env.Empty() {
		c.log.Error().Str("member_id", m.ID).Msg("subscriber request timed out")
		return nil, fmt.Errorf("get subscriber %s: %w", subID, ErrUnavailable)
	}

	sub := &Subscriber{}
	if err := decode(env.Data, sub); err != nil {
		return nil, fmt.Errorf("decode subscriber %s: %w", subID, err)
	}
	sub.IssuerSubscriberID = subID
	return sub, nil
}

// Wallet fetches wallet accounts for referenceID with a payment-scope token.
// An empty referenceID is looked up through Subscriber.
func (c *Client) Wallet(ctx context.Context, m *member.Member, referenceID string) (*Wallet, error) {
	m = c.withPaymentSystem(ctx, m)
	if referenceID == "" {
		sub, err := c.Subscriber(ctx, m)
		if err != nil {
			return nil, err
		}
		if sub.FolderID == "" {
			return nil, &member.NotFoundError{Identifier: m.ID, Reason: "subscriber has no folder id"}
		}
		referenceID = sub.FolderID
	}
	tok, err := c.token(ctx, m, credentials.ScopePayment)
	if err != nil {
		return nil, err
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = time.Second
	cfg.Retries = 5
	url := strings.TrimRight(c.cfg.WalletHost, "/") + "/payments/v4/wallet"
	env, err := c.http.RunInstance(ctx, url, httpclient.Options{
		Method: http.MethodGet,
		Headers: map[string]string{
			"Authorization": "Bearer " + tok,
			"Content-Type":  "application/json",
		},
		Params: map[string]string{"referenceId": referenceID},
	}, &cfg)
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", referenceID, err)
	}
	if env.Empty() {
		return nil, fmt.Errorf("get wallet %s: %w", referenceID, ErrUnavailable)
	}
	return &Wallet{ReferenceID: referenceID, Data: env.Data}, nil
}

func decode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
