// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	APIKey    string `env:"HARMONEY_API_KEY"`

	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Directory DirectoryConfig `envPrefix:"CNC_UMV_V3_"`
	Identity  IdentityConfig  `envPrefix:"SOFTHEON_IDENTITY_"`
	Billing   BillingConfig

	Embark    ClientConfig `envPrefix:"EMBARK_CLIENT_"`
	Ambetter  ClientConfig `envPrefix:"AMBETTER_CLIENT_"`
	Healthnet ClientConfig `envPrefix:"HEALTHNET_CLIENT_"`
}

// HTTPConfig holds outbound request defaults
type HTTPConfig struct {
	Timeout time.Duration `env:"TIMEOUT" envDefault:"1s"`
	Retries int           `env:"RETRIES" envDefault:"3"`
	Backoff time.Duration `env:"BACKOFF" envDefault:"50ms"`
}

// DirectoryConfig holds member directory settings
type DirectoryConfig struct {
	Host         string `env:"HOST"`
	BasePath     string `env:"BASE_PATH"`
	Version      string `env:"VERSION"`
	APIKey       string `env:"API_KEY"`
	BusinessLine string `env:"BUSINESS_LINE" envDefault:"Market Place"`
	HTTPCache    bool   `env:"HTTP_CACHE" envDefault:"false"`
}

// IdentityConfig holds identity provider settings
type IdentityConfig struct {
	Host        string        `env:"HOST"`
	Prefix      string        `env:"PREFIX"`
	ScopePrefix string        `env:"SCOPE_PREFIX" envDefault:"api.softheon."`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
}

// BillingConfig holds payment vendor settings
type BillingConfig struct {
	PaymentHost   string `env:"CNC_SOFTHEON_PAYMENT_HOST"`
	PaymentPrefix string `env:"CNC_SOFTHEON_PAYMENT_PREFIX"`
	WalletHost    string `env:"SOFTHEON_WALLET_HOST"`
	RTRHost       string `env:"BILLING_PAYMENTS_RTR_HOST"`
	RTRPrefix     string `env:"BILLING_PAYMENTS_RTR_PREFIX"`
	RTRAPIKey     string `env:"BILLING_PAYMENTS_RTR_API_KEY"`
}

// ClientConfig is one set of identity provider client credentials
type ClientConfig struct {
	ID     string `env:"ID"`
	Secret string `env:"SECRET"`
}

// Load reads configuration from environment variables
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// HasDirectory returns true if the member directory configuration is complete
func (c *Config) HasDirectory() bool {
	return c.Directory.Host != "" && c.Directory.BasePath != "" && c.Directory.APIKey != ""
}

// HasIdentity returns true if tokens can be requested
func (c *Config) HasIdentity() bool {
	return c.Identity.Host != "" && (c.hasClient(c.Embark) || c.hasClient(c.Ambetter) || c.hasClient(c.Healthnet))
}

// HasBilling returns true if the payment vendor can be reached
func (c *Config) HasBilling() bool {
	return c.HasIdentity() && c.Billing.PaymentHost != ""
}

// HasRTR returns true if payment systems can be looked up
func (c *Config) HasRTR() bool {
	return c.Billing.RTRHost != ""
}

func (c *Config) hasClient(cc ClientConfig) bool {
	return cc.ID != "" && cc.Secret != ""
}

// Validate ensures the member directory is configured and the HTTP defaults are usable
func (c *Config) Validate() error {
	if !c.HasDirectory() {
		return errors.New("member directory not configured - set CNC_UMV_V3_HOST, CNC_UMV_V3_BASE_PATH and CNC_UMV_V3_API_KEY")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0, got %s", c.HTTP.Timeout)
	}
	if c.HTTP.Retries < 0 {
		return fmt.Errorf("HTTP_RETRIES must be >= 0, got %d", c.HTTP.Retries)
	}
	return nil
}
