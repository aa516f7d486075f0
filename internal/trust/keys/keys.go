// Package keys resolves private signing key material by name. Providers are
// pluggable (filesystem, remote secret store, static); the signer depends only
// on the Provider capability.
package keys

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"

	"cis/pkg/platform/sentinel"
)

// ErrMalformed marks key material that exists but cannot be used. It is never
// retried.
var ErrMalformed = errors.New("malformed key material")

// Material is a resolved RS256 signing key.
type Material struct {
	Name  string
	KeyID string
	Key   *rsa.PrivateKey
}

// Public returns the public half as a JWK, ready for a well-known document.
func (m *Material) Public() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &m.Key.PublicKey, KeyID: m.KeyID, Algorithm: string(jose.RS256), Use: "sig"}
}

// Provider resolves key material by name.
type Provider interface {
	Key(ctx context.Context, name string) (*Material, error)
}

// Parse decodes PEM (PKCS#1 or PKCS#8) or JWK JSON private key material.
// The key id is the JWK kid when present, otherwise the name.
func Parse(name string, data []byte) (*Material, error) {
	if block, _ := pem.Decode(data); block != nil {
		key, err := parsePEMBlock(block)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w: %w", name, ErrMalformed, err)
		}
		return &Material{Name: name, KeyID: name, Key: key}, nil
	}
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("key %s: %w: neither PEM nor JWK: %w", name, ErrMalformed, err)
	}
	key, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key %s: %w: JWK is not an RSA private key", name, ErrMalformed)
	}
	kid := jwk.KeyID
	if kid == "" {
		kid = name
	}
	return &Material{Name: name, KeyID: kid, Key: key}, nil
}

func parsePEMBlock(block *pem.Block) (*rsa.PrivateKey, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("PKCS#8 key is not RSA")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// EncodePEM renders an RSA key as a PKCS#1 PEM block.
func EncodePEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// StaticProvider serves keys held in memory.
type StaticProvider struct {
	mu   sync.RWMutex
	keys map[string]*Material
}

// NewStaticProvider constructs a provider over the given materials, keyed by Name.
func NewStaticProvider(materials ...*Material) *StaticProvider {
	p := &StaticProvider{keys: make(map[string]*Material, len(materials))}
	for _, m := range materials {
		p.keys[m.Name] = m
	}
	return p
}

// Put adds or replaces a key.
func (p *StaticProvider) Put(m *Material) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[m.Name] = m
}

// Key implements Provider.
func (p *StaticProvider) Key(_ context.Context, name string) (*Material, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if m, ok := p.keys[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("key %s: %w", name, sentinel.ErrNotFound)
}
