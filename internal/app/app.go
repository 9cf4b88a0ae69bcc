// Package app builds the component graph shared by the API, the worker and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/harmoney/internal/billing"
	"github.com/briangreenhill/harmoney/internal/config"
	"github.com/briangreenhill/harmoney/internal/credentials"
	"github.com/briangreenhill/harmoney/internal/member"
	"github.com/briangreenhill/harmoney/internal/obs"
	"github.com/briangreenhill/harmoney/pkg/httpclient"
)

// ErrIdentityNotConfigured is returned by Token when no identity provider is set up.
var ErrIdentityNotConfigured = errors.New("identity provider not configured")

type App struct {
	Config   config.Config
	Log      zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *obs.Metrics

	HTTP       *httpclient.Client
	Directory  *member.DirectoryClient
	Resolver   *member.Resolver
	Identities *credentials.Registry
	Tokens     *credentials.Cache
	Issuer     *credentials.Issuer // nil without an identity provider
	Billing    *billing.Client     // nil without an identity provider and payment host
}

// New wires every configured component. The member directory is mandatory.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	// Only directory lookups go through the cache.
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.Directory.HTTPCache {
		transport = httpcache.NewMemoryCacheTransport()
	}
	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Transport: transport}),
		httpclient.WithLogger(log.With().Str("component", "httpclient").Logger()),
		httpclient.WithObserver(metrics),
	)

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.HTTP.Timeout
	httpCfg.Retries = cfg.HTTP.Retries
	httpCfg.Backoff = cfg.HTTP.Backoff

	dir, err := member.NewDirectoryClient(hc, member.DirectoryConfig{
		Host:         cfg.Directory.Host,
		BasePath:     cfg.Directory.BasePath,
		Version:      cfg.Directory.Version,
		APIKey:       cfg.Directory.APIKey,
		BusinessLine: cfg.Directory.BusinessLine,
		HTTP:         &httpCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("member directory: %w", err)
	}

	a := &App{
		Config:     cfg,
		Log:        log,
		Registry:   reg,
		Metrics:    metrics,
		HTTP:       hc,
		Directory:  dir,
		Identities: Identities(cfg),
		Resolver: member.NewResolver(dir,
			member.WithLogger(log.With().Str("component", "resolver").Logger()),
			member.WithObserver(metrics),
		),
		Tokens: credentials.NewCache(cfg.Identity.TokenTTL,
			credentials.WithLogger(log.With().Str("component", "credentials").Logger()),
			credentials.WithObserver(metrics),
		),
	}

	if cfg.HasIdentity() {
		a.Issuer = credentials.NewIssuer(
			credentials.TokenURL(cfg.Identity.Host, cfg.Identity.Prefix),
			cfg.Identity.ScopePrefix,
			a.Identities,
			&http.Client{Timeout: cfg.HTTP.Timeout * 5},
		)
	}
	if cfg.HasBilling() {
		payments := httpclient.New(
			httpclient.WithLogger(log.With().Str("component", "httpclient").Logger()),
			httpclient.WithObserver(metrics),
		)
		billingLog := log.With().Str("component", "billing").Logger()
		opts := []billing.Option{billing.WithLogger(billingLog)}
		if cfg.HasRTR() {
			opts = append(opts, billing.WithRTR(billing.NewRTR(payments, billing.RTRConfig{
				Host:   cfg.Billing.RTRHost,
				Prefix: cfg.Billing.RTRPrefix,
				APIKey: cfg.Billing.RTRAPIKey,
			}, billingLog)))
		}
		a.Billing = billing.New(payments, a.Tokens, a.Issuer.Issue, billing.Config{
			PaymentHost:   cfg.Billing.PaymentHost,
			PaymentPrefix: cfg.Billing.PaymentPrefix,
			WalletHost:    cfg.Billing.WalletHost,
		}, opts...)
	}

	log.Info().
		Bool("http_cache", cfg.Directory.HTTPCache).
		Strs("identities", a.Identities.List()).
		Bool("billing", a.Billing != nil).
		Bool("rtr", a.Billing != nil && cfg.HasRTR()).
		Msg("components ready")
	return a, nil
}

// Identities registers every complete client identity from cfg.
func Identities(cfg config.Config) *credentials.Registry {
	reg := credentials.NewRegistry()
	reg.Register(credentials.ClientIdentity{Name: credentials.IdentityEmbark, ClientID: cfg.Embark.ID, ClientSecret: cfg.Embark.Secret})
	reg.Register(credentials.ClientIdentity{Name: credentials.IdentityAmbetter, ClientID: cfg.Ambetter.ID, ClientSecret: cfg.Ambetter.Secret})
	reg.Register(credentials.ClientIdentity{Name: credentials.IdentityHealthnet, ClientID: cfg.Healthnet.ID, ClientSecret: cfg.Healthnet.Secret})
	return reg
}

// Token returns a cached or freshly issued token for identity and scope.
func (a *App) Token(ctx context.Context, identity, scope string) (string, error) {
	if a.Issuer == nil {
		return "", ErrIdentityNotConfigured
	}
	return a.Tokens.GetOrRefresh(ctx, identity, scope, a.Issuer.Issue)
}
