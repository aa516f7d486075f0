package keys

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cis/internal/trust"
)

const (
	DefaultAttempts  = 5
	DefaultBaseDelay = time.Second
)

// Retrying wraps a Provider with bounded exponential backoff. No lock is held
// while waiting; concurrent callers retry independently.
type Retrying struct {
	next      Provider
	attempts  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

// RetryOption configures Retrying.
type RetryOption func(*Retrying)

// WithAttempts sets the total number of tries.
func WithAttempts(n int) RetryOption {
	return func(r *Retrying) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; each retry doubles it.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(r *Retrying) {
		if d >= 0 {
			r.baseDelay = d
		}
	}
}

// WithSleep replaces the wait function (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrying) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithRetryLogger sets the logger for retry attempts.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *Retrying) {
		r.logger = logger
	}
}

// NewRetrying wraps next. Defaults: 5 attempts, 1s doubling.
func NewRetrying(next Provider, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:      next,
		attempts:  DefaultAttempts,
		baseDelay: DefaultBaseDelay,
		sleep:     sleepContext,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key implements Provider. Malformed material fails immediately as
// SigningFailed; anything else is retried and, once attempts are exhausted,
// reported as KeyUnavailable.
func (r *Retrying) Key(ctx context.Context, name string) (*Material, error) {
	delay := r.baseDelay
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		m, err := r.next.Key(ctx, name)
		if err == nil {
			return m, nil
		}
		if errors.Is(err, ErrMalformed) {
			return nil, trust.SigningFailure("unusable key material for "+name, err)
		}
		lastErr = err
		if attempt == r.attempts {
			break
		}
		r.logger.WarnContext(ctx, "key fetch failed, retrying",
			"key", name,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
		delay *= 2
	}
	return nil, trust.KeyUnavailableFailure(name, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
