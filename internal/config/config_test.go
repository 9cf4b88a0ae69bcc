package config

import (
	"os"
	"testing"
	"time"
)

var configKeys = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "REDIS_ADDR", "HARMONEY_API_KEY",
	"HTTP_TIMEOUT", "HTTP_RETRIES", "HTTP_BACKOFF",
	"CNC_UMV_V3_HOST", "CNC_UMV_V3_BASE_PATH", "CNC_UMV_V3_VERSION", "CNC_UMV_V3_API_KEY",
	"CNC_UMV_V3_BUSINESS_LINE", "CNC_UMV_V3_HTTP_CACHE",
	"SOFTHEON_IDENTITY_HOST", "SOFTHEON_IDENTITY_PREFIX", "SOFTHEON_IDENTITY_TOKEN_TTL",
	"CNC_SOFTHEON_PAYMENT_HOST", "CNC_SOFTHEON_PAYMENT_PREFIX", "SOFTHEON_WALLET_HOST",
	"BILLING_PAYMENTS_RTR_HOST", "BILLING_PAYMENTS_RTR_PREFIX", "BILLING_PAYMENTS_RTR_API_KEY",
	"EMBARK_CLIENT_ID", "EMBARK_CLIENT_SECRET",
	"AMBETTER_CLIENT_ID", "AMBETTER_CLIENT_SECRET",
	"HEALTHNET_CLIENT_ID", "HEALTHNET_CLIENT_SECRET",
}

// clearEnv unsets every config variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected Port '8080', got '%s'", cfg.Port)
	}
	if cfg.HTTP.Timeout != time.Second || cfg.HTTP.Retries != 3 || cfg.HTTP.Backoff != 50*time.Millisecond {
		t.Errorf("Unexpected HTTP defaults: %+v", cfg.HTTP)
	}
	if cfg.Directory.BusinessLine != "Market Place" {
		t.Errorf("Expected business line 'Market Place', got '%s'", cfg.Directory.BusinessLine)
	}
	if cfg.Identity.TokenTTL != time.Hour {
		t.Errorf("Expected token TTL 1h, got %s", cfg.Identity.TokenTTL)
	}
	if cfg.HasDirectory() || cfg.HasIdentity() || cfg.HasBilling() || cfg.HasRTR() {
		t.Error("Nothing should be configured")
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error when the directory is not configured")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	t.Setenv("CNC_UMV_V3_HOST", "https://umv.example")
	t.Setenv("CNC_UMV_V3_BASE_PATH", "members")
	t.Setenv("CNC_UMV_V3_VERSION", "3")
	t.Setenv("CNC_UMV_V3_API_KEY", "umv-key")
	t.Setenv("CNC_UMV_V3_HTTP_CACHE", "true")
	t.Setenv("SOFTHEON_IDENTITY_HOST", "https://idp.example")
	t.Setenv("SOFTHEON_IDENTITY_PREFIX", "/identity")
	t.Setenv("SOFTHEON_IDENTITY_TOKEN_TTL", "30m")
	t.Setenv("AMBETTER_CLIENT_ID", "amb")
	t.Setenv("AMBETTER_CLIENT_SECRET", "amb-secret")
	t.Setenv("CNC_SOFTHEON_PAYMENT_HOST", "https://pay.example")
	t.Setenv("BILLING_PAYMENTS_RTR_HOST", "https://rtr.example")
	t.Setenv("BILLING_PAYMENTS_RTR_PREFIX", "/graphql")
	t.Setenv("BILLING_PAYMENTS_RTR_API_KEY", "rtr-key")
	t.Setenv("HTTP_RETRIES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Directory.Host != "https://umv.example" || cfg.Directory.APIKey != "umv-key" {
		t.Errorf("Unexpected directory config: %+v", cfg.Directory)
	}
	if !cfg.Directory.HTTPCache {
		t.Error("Expected HTTP cache enabled")
	}
	if cfg.Identity.TokenTTL != 30*time.Minute {
		t.Errorf("Expected token TTL 30m, got %s", cfg.Identity.TokenTTL)
	}
	if cfg.Ambetter.ID != "amb" || cfg.Ambetter.Secret != "amb-secret" {
		t.Errorf("Unexpected ambetter client: %+v", cfg.Ambetter)
	}
	if !cfg.HasRTR() || cfg.Billing.RTRPrefix != "/graphql" || cfg.Billing.RTRAPIKey != "rtr-key" {
		t.Errorf("Unexpected RTR config: %+v", cfg.Billing)
	}
	if cfg.HTTP.Retries != 5 {
		t.Errorf("Expected 5 retries, got %d", cfg.HTTP.Retries)
	}
	if !cfg.HasDirectory() || !cfg.HasIdentity() || !cfg.HasBilling() {
		t.Error("Directory, identity and billing should be configured")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Should not error with directory configured: %v", err)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Error("Expected error for invalid HTTP_TIMEOUT")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Directory = DirectoryConfig{Host: "h", BasePath: "b", APIKey: "k"}
	cfg.HTTP = HTTPConfig{Timeout: 0, Retries: 1}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero timeout")
	}

	cfg.HTTP = HTTPConfig{Timeout: time.Second, Retries: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative retries")
	}

	cfg.HTTP = HTTPConfig{Timeout: time.Second}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Should not error: %v", err)
	}
}
