package keys

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"cis/pkg/platform/sentinel"
)

const (
	defaultSecretTTL     = 15 * time.Minute
	defaultSecretCleanup = 30 * time.Minute
)

// SecretGetter is the subset of the redis client the secret store needs.
type SecretGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// SecretStoreProvider reads key material from a remote secret store under a
// namespaced path (<namespace>/<name>) and caches parsed keys by name.
type SecretStoreProvider struct {
	client    SecretGetter
	namespace string
	cache     *cache.Cache
}

// SecretStoreOption configures a SecretStoreProvider.
type SecretStoreOption func(*SecretStoreProvider)

// WithCacheTTL sets how long parsed keys stay cached.
func WithCacheTTL(ttl time.Duration) SecretStoreOption {
	return func(p *SecretStoreProvider) {
		p.cache = cache.New(ttl, 2*ttl)
	}
}

// NewSecretStoreProvider constructs a provider reading from client.
func NewSecretStoreProvider(client SecretGetter, namespace string, opts ...SecretStoreOption) *SecretStoreProvider {
	p := &SecretStoreProvider{
		client:    client,
		namespace: namespace,
		cache:     cache.New(defaultSecretTTL, defaultSecretCleanup),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SecretPath returns the store key holding name.
func (p *SecretStoreProvider) SecretPath(name string) string {
	return path.Join(p.namespace, name)
}

// Key implements Provider.
func (p *SecretStoreProvider) Key(ctx context.Context, name string) (*Material, error) {
	if cached, ok := p.cache.Get(name); ok {
		return cached.(*Material), nil
	}
	secret, err := p.client.Get(ctx, p.SecretPath(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("secret %s: %w", p.SecretPath(name), sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("secret %s: %w: %w", p.SecretPath(name), sentinel.ErrUnavailable, err)
	}
	m, err := Parse(name, secret)
	if err != nil {
		return nil, err
	}
	p.cache.SetDefault(name, m)
	return m, nil
}

// Evict drops a cached key so the next lookup reads the store.
func (p *SecretStoreProvider) Evict(name string) {
	p.cache.Delete(name)
}
