package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// ErrCircuitOpen is returned when an operation is rejected because the
// circuit is open. It aliases the central definition in lib/errors.
var ErrCircuitOpen = apperrors.ErrCircuitOpen

// State is the state of a Breaker.
//
//	Closed -> Open (FailureThreshold consecutive failures)
//	Open -> HalfOpen (after Cooldown)
//	HalfOpen -> Closed (SuccessThreshold successes) | Open (any failure)
type State int

const (
	// StateClosed lets every operation through.
	StateClosed State = iota
	// StateOpen rejects operations until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a limited number of probe operations.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// MaxProbes caps concurrent operations while half-open.
	MaxProbes int
}

// DefaultConfig returns defaults tuned for session creation: a backend that
// refuses five dials in a row is left alone for ten seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         10 * time.Second,
		MaxProbes:        1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxProbes <= 0 {
		c.MaxProbes = d.MaxProbes
	}
	return c
}

// Breaker implements the circuit breaker pattern. It is safe for
// concurrent use.
type Breaker struct {
	mu     sync.Mutex
	name   string
	config Config
	now    func() time.Time

	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	lastError error

	onStateChange func(from, to State)
}

// NewBreaker creates a closed breaker. Zero fields in cfg take defaults.
func NewBreaker(name string, cfg Config) *Breaker {
	return &Breaker{
		name:   name,
		config: cfg.withDefaults(),
		now:    time.Now,
		state:  StateClosed,
	}
}

// OnStateChange registers fn to be called after each transition. fn runs
// on its own goroutine so it may call back into the breaker.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, reporting half-open once an open
// circuit's cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// LastError returns the most recent failure recorded, if any.
func (b *Breaker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// Allow reports whether an operation may proceed, reserving a probe slot
// when half-open. Callers that get true must report the outcome with
// Success or Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.probes = 1
		return true
	case StateHalfOpen:
		if b.probes < b.config.MaxProbes {
			b.probes++
			return true
		}
		return false
	}
	return false
}

// Success records a successful operation.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.probes > 0 {
			b.probes--
		}
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

// Failure records a failed operation.
func (b *Breaker) Failure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastError = err
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// transitionLocked changes state. Must be called with b.mu held.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
		b.probes = 0
	case StateOpen:
		b.openedAt = b.now()
		b.successes = 0
		b.probes = 0
	case StateHalfOpen:
		b.successes = 0
		b.probes = 0
	}

	log.WithField("circuit", b.name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Info("circuit breaker state transition")

	if b.onStateChange != nil {
		go b.onStateChange(from, to)
	}
}

// Do runs fn if the circuit allows it and records the outcome.
// A context cancellation is returned as-is and is not counted as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		BreakerRejections.Inc()
		return ErrCircuitOpen
	}
	if err := ctx.Err(); err != nil {
		b.release()
		return err
	}

	err := fn(ctx)
	switch {
	case err == nil:
		BreakerSuccesses.Inc()
		b.Success()
	case ctx.Err() != nil:
		b.release()
		return ctx.Err()
	default:
		BreakerFailures.Inc()
		b.Failure(err)
	}
	return err
}

// release returns a reserved probe slot without recording an outcome.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.lastError = nil
}
