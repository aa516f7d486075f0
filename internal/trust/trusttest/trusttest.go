// Package trusttest provides deterministic publishers, keys and well-known
// documents for tests of the trust engine.
package trusttest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"cis/internal/profile/models"
	"cis/internal/profile/schema"
	"cis/internal/trust/keys"
	"cis/internal/trust/policy"
	"cis/internal/trust/signer"
	"cis/internal/trust/verifier"
	"cis/internal/wellknown"
)

// Publishers known to every fixture.
var Publishers = []string{"access_provider", "cis", "hris", "ldap", "mozilliansorg"}

var (
	keyMu    sync.Mutex
	keyCache = map[string]*rsa.PrivateKey{}
)

// Key returns a process-wide RSA key for name, generating it on first use.
func Key(name string) *rsa.PrivateKey {
	keyMu.Lock()
	defer keyMu.Unlock()
	if k, ok := keyCache[name]; ok {
		return k
	}
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	keyCache[name] = k
	return k
}

// Material returns key material for publisher under key id "<publisher>-1".
func Material(publisher string) *keys.Material {
	return &keys.Material{Name: publisher, KeyID: publisher + "-1", Key: Key(publisher)}
}

// Fixture is a self-consistent set of publishers: private keys in a static
// provider and matching public keys in a well-known document.
type Fixture struct {
	Provider  *keys.StaticProvider
	WellKnown *wellknown.Document
	Policy    *policy.Policy
	Schema    *schema.Validator
}

// New builds a fixture over the default Publishers, the bundled policy and
// the bundled schema.
func New() *Fixture {
	f := &Fixture{
		Provider: keys.NewStaticProvider(),
		WellKnown: &wellknown.Document{
			API: wellknown.API{
				Endpoint:                 "https://profile.test/v2",
				ProfileSchemaCombinedURI: "https://profile.test/schema/v2/profile",
				PublishersRulesURI:       "https://profile.test/rules",
			},
			PublishersSupported: map[string]wellknown.PublisherKeys{},
		},
		Policy: policy.Default(),
		Schema: schema.Default(),
	}
	for _, p := range Publishers {
		f.AddPublisher(p)
	}
	return f
}

// AddPublisher registers publisher's key in both the provider and the
// well-known document.
func (f *Fixture) AddPublisher(publisher string) {
	m := Material(publisher)
	f.Provider.Put(m)
	f.WellKnown.PublishersSupported[publisher] = wellknown.PublisherKeys{
		JWKSKeys: []jose.JSONWebKey{m.Public()},
	}
}

// Signer returns a signer for publisher backed by the fixture's provider.
func (f *Fixture) Signer(publisher string) *signer.Signer {
	return signer.New(f.Provider, publisher)
}

// ImpostorSigner signs as publisher with a key that is not published.
func (f *Fixture) ImpostorSigner(publisher string) *signer.Signer {
	impostor := &keys.Material{Name: publisher, KeyID: publisher + "-1", Key: Key("impostor:" + publisher)}
	return signer.New(keys.NewStaticProvider(impostor), publisher)
}

// Verifier verifies against the fixture's well-known document.
func (f *Fixture) Verifier() *verifier.Verifier {
	return verifier.New(f.WellKnown)
}

// Bundle returns a discovery bundle over the fixture.
func (f *Fixture) Bundle() *wellknown.Bundle {
	return &wellknown.Bundle{
		WellKnown: f.WellKnown,
		Schema:    f.Schema,
		Policy:    f.Policy,
		FetchedAt: time.Now(),
	}
}

// WellKnownJSON encodes the fixture's well-known document.
func (f *Fixture) WellKnownJSON() []byte {
	data, err := json.Marshal(f.WellKnown)
	if err != nil {
		panic(err)
	}
	return data
}

// Set writes value to the attribute at path and signs it as publisher. A
// map[string]any fills a values-shaped attribute; nil clears the payload.
func (f *Fixture) Set(ctx context.Context, t testing.TB, p *models.Profile, path string, value any, publisher string) {
	t.Helper()
	attr, err := p.Attribute(path)
	require.NoError(t, err)
	if m, ok := value.(map[string]any); ok {
		attr.Values = m
	} else {
		attr.Value = value
	}
	require.NoError(t, models.SignAttribute(ctx, attr, f.Signer(publisher)))
}

// Profile returns a minimal create submission: user_id and primary_email by
// access_provider, active by hris.
func (f *Fixture) Profile(ctx context.Context, t testing.TB, userID string) *models.Profile {
	t.Helper()
	p := models.New()
	f.Set(ctx, t, p, "user_id", userID, "access_provider")
	f.Set(ctx, t, p, "primary_email", "ann@example.com", "access_provider")
	f.Set(ctx, t, p, "active", true, "hris")
	return p
}
