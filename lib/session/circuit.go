package session

import (
	"context"
	"fmt"

	"github.com/go-i2p/dbcp/lib/resilience"
)

// CircuitDialer guards another Dialer with a circuit breaker. While the
// circuit is open, Dial fails immediately instead of waiting out a
// connect timeout against a backend that is known to be down.
type CircuitDialer struct {
	next    Dialer
	breaker *resilience.Breaker
}

// NewCircuitDialer wraps next. A nil breaker gets the default config.
func NewCircuitDialer(next Dialer, breaker *resilience.Breaker) *CircuitDialer {
	if breaker == nil {
		breaker = resilience.NewBreaker("session-dial", resilience.DefaultConfig())
		breaker.OnStateChange(resilience.RecordTransition)
	}
	return &CircuitDialer{next: next, breaker: breaker}
}

// Breaker returns the guarding breaker.
func (d *CircuitDialer) Breaker() *resilience.Breaker {
	return d.breaker
}

// Dial opens a session through the breaker.
func (d *CircuitDialer) Dial(ctx context.Context) (Session, error) {
	var s Session
	err := d.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		s, err = d.next.Dial(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("session: dial via %s: %w", d.breaker.Name(), err)
	}
	return s, nil
}
