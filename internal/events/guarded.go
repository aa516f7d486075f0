package events

import (
	"context"
	"fmt"
	"log/slog"

	"cis/pkg/platform/circuit"
	"cis/pkg/platform/sentinel"
)

// GuardedPublisher stops calling a failing publisher until its breaker lets a
// probe through, so submissions do not each wait out a dead broker.
type GuardedPublisher struct {
	next    Publisher
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuardedPublisher(next Publisher, breaker *circuit.Breaker, logger *slog.Logger) *GuardedPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedPublisher{next: next, breaker: breaker, logger: logger}
}

func (g *GuardedPublisher) Publish(ctx context.Context, change Change) error {
	if !g.breaker.Allow() {
		return fmt.Errorf("%w: %s circuit open", sentinel.ErrUnavailable, g.breaker.Name())
	}
	if err := g.next.Publish(ctx, change); err != nil {
		if _, state := g.breaker.RecordFailure(); state.Opened {
			g.logger.WarnContext(ctx, "change publisher circuit opened", "breaker", g.breaker.Name(), "error", err)
		}
		return err
	}
	if _, state := g.breaker.RecordSuccess(); state.Closed {
		g.logger.InfoContext(ctx, "change publisher circuit closed", "breaker", g.breaker.Name())
	}
	return nil
}
