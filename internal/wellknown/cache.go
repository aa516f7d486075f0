package wellknown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cis/internal/profile/schema"
	"cis/internal/trust/policy"
)

// DefaultTTL is how long a fetched bundle is served before a refresh.
const DefaultTTL = 5 * time.Minute

// Bundle is an immutable snapshot of everything the trust gate reads from
// discovery: publisher keys, the compiled profile schema and the authority
// policy. Readers share bundles freely; a refresh swaps in a new one.
type Bundle struct {
	WellKnown *Document
	Schema    *schema.Validator
	Policy    *policy.Policy
	FetchedAt time.Time
}

// Fetcher retrieves a fresh bundle.
type Fetcher interface {
	Fetch(ctx context.Context) (*Bundle, error)
}

// Cache serves bundles with copy-on-refresh semantics. Reads are a single
// atomic load; only one goroutine refreshes at a time and, while it does,
// others keep reading the stale bundle.
type Cache struct {
	fetcher   Fetcher
	ttl       time.Duration
	logger    *slog.Logger
	clock     func() time.Time
	current   atomic.Pointer[Bundle]
	refreshMu sync.Mutex
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithClock sets the clock for testability (defaults to time.Now).
func WithClock(clock func() time.Time) CacheOption {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCache constructs a Cache over fetcher.
func NewCache(fetcher Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetcher: fetcher,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the current bundle, refreshing it once it is older than the TTL.
// A failed refresh keeps serving the stale bundle; only the very first fetch
// can fail the caller.
func (c *Cache) Get(ctx context.Context) (*Bundle, error) {
	b := c.current.Load()
	if b != nil && c.clock().Sub(b.FetchedAt) < c.ttl {
		return b, nil
	}
	if b != nil {
		if !c.refreshMu.TryLock() {
			return b, nil
		}
	} else {
		c.refreshMu.Lock()
	}
	defer c.refreshMu.Unlock()

	// another goroutine may have refreshed while we waited
	if cur := c.current.Load(); cur != nil && c.clock().Sub(cur.FetchedAt) < c.ttl {
		return cur, nil
	}

	fresh, err := c.fetcher.Fetch(ctx)
	if err != nil {
		if b != nil {
			c.logger.WarnContext(ctx, "well-known refresh failed, serving stale bundle",
				"error", err,
				"age", c.clock().Sub(b.FetchedAt).String(),
			)
			return b, nil
		}
		return nil, fmt.Errorf("fetch well-known bundle: %w", err)
	}
	stamped := *fresh
	stamped.FetchedAt = c.clock()
	c.current.Store(&stamped)
	return &stamped, nil
}

// Invalidate drops the current bundle so the next Get refetches.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}
