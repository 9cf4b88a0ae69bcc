package credentials

import (
	"sort"
	"strings"
)

// Known client identities.
const (
	IdentityEmbark    = "embark"
	IdentityAmbetter  = "ambetter"
	IdentityHealthnet = "healthnet"
)

// ClientIdentity is one set of client credentials at the identity provider.
type ClientIdentity struct {
	Name         string
	ClientID     string
	ClientSecret string
}

// Complete reports whether both the id and the secret are set.
func (c ClientIdentity) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Registry manages the configured client identities
type Registry struct {
	identities map[string]ClientIdentity
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{identities: make(map[string]ClientIdentity)}
}

// Register adds or replaces an identity. Incomplete identities are ignored.
func (r *Registry) Register(ci ClientIdentity) bool {
	if ci.Name == "" || !ci.Complete() {
		return false
	}
	r.identities[ci.Name] = ci
	return true
}

// Get retrieves an identity by name
func (r *Registry) Get(name string) (ClientIdentity, bool) {
	ci, ok := r.identities[name]
	return ci, ok
}

// List returns the registered identity names in sorted order
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.identities))
	for name := range r.identities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IdentityFor picks the client identity for a member: embark members use the
// embark client, California plans use healthnet, everything else ambetter.
func IdentityFor(paymentSystem, stateCode string) string {
	if strings.EqualFold(paymentSystem, IdentityEmbark) {
		return IdentityEmbark
	}
	if strings.EqualFold(stateCode, "CA") {
		return IdentityHealthnet
	}
	return IdentityAmbetter
}
