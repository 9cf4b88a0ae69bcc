package credentials

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultScopePrefix is prepended to the cache scope to form the OAuth2 scope.
const DefaultScopePrefix = "api.softheon."

// Issuer fetches tokens with the OAuth2 client-credentials grant.
type Issuer struct {
	tokenURL    string
	scopePrefix string
	registry    *Registry
	http        *http.Client
}

// TokenURL joins the identity host and path prefix the way the provider expects.
func TokenURL(host, prefix string) string {
	return strings.TrimRight(host, "/") + prefix + "/token"
}

// NewIssuer returns an issuer for identities held in reg. hc may be nil.
func NewIssuer(tokenURL, scopePrefix string, reg *Registry, hc *http.Client) *Issuer {
	if scopePrefix == "" {
		scopePrefix = DefaultScopePrefix
	}
	return &Issuer{tokenURL: tokenURL, scopePrefix: scopePrefix, registry: reg, http: hc}
}

// Issue satisfies IssuerFunc.
func (i *Issuer) Issue(ctx context.Context, identity, scope string) (string, error) {
	ci, ok := i.registry.Get(identity)
	if !ok {
		return "", fmt.Errorf("unknown client identity %q", identity)
	}
	cfg := clientcredentials.Config{
		ClientID:     ci.ClientID,
		ClientSecret: ci.ClientSecret,
		TokenURL:     i.tokenURL,
		Scopes:       []string{i.scopePrefix + scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if i.http != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, i.http)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	return tok.AccessToken, nil
}
