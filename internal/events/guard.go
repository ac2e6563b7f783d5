package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbd888/spendguard/internal/circuitbreaker"
	"github.com/mbd888/spendguard/internal/retry"
)

// Guarded retries failed publishes and stops calling a broker that keeps
// failing until its cooldown has passed.
type Guarded struct {
	next    Publisher
	backend string
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewGuarded wraps next. backend names the breaker circuit and labels metrics.
func NewGuarded(next Publisher, backend string, policy retry.Policy, breaker *circuitbreaker.Breaker, logger *slog.Logger) *Guarded {
	g := &Guarded{
		next:    next,
		backend: backend,
		policy:  policy,
		breaker: breaker,
		logger:  logger,
	}
	breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		logger.Warn("event publisher circuit changed",
			"backend", key, "from", from.String(), "to", to.String())
	})
	return g
}

// PublishScored publishes event, or returns circuitbreaker.ErrOpen without
// touching the broker while the circuit is open.
func (g *Guarded) PublishScored(ctx context.Context, event ScoredEvent) error {
	if !g.breaker.Allow(g.backend) {
		observe(g.backend, circuitbreaker.ErrOpen)
		return fmt.Errorf("publish %s: %w", event.TransactionID, circuitbreaker.ErrOpen)
	}

	err := g.policy.Do(ctx, func(ctx context.Context) error {
		return g.next.PublishScored(ctx, event)
	})
	if err != nil {
		g.breaker.RecordFailure(g.backend)
		return err
	}
	g.breaker.RecordSuccess(g.backend)
	return nil
}

// PingContext reports an open circuit as unhealthy before asking the broker.
func (g *Guarded) PingContext(ctx context.Context) error {
	if g.breaker.State(g.backend) == circuitbreaker.StateOpen {
		return circuitbreaker.ErrOpen
	}
	return g.next.PingContext(ctx)
}

func (g *Guarded) Close() error { return g.next.Close() }
