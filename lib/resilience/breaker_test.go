package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("test", cfg)
	b.now = clock.Now
	return b, clock
}

var errDial = errors.New("dial tcp: connection refused")

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FailureThreshold <= 0 || cfg.SuccessThreshold <= 0 || cfg.Cooldown <= 0 || cfg.MaxProbes <= 0 {
		t.Errorf("default config has non-positive fields: %+v", cfg)
	}
}

func TestZeroConfigTakesDefaults(t *testing.T) {
	b := NewBreaker("zero", Config{})
	if b.config != DefaultConfig() {
		t.Errorf("config = %+v, want defaults %+v", b.config, DefaultConfig())
	}
	if b.Name() != "zero" {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, Cooldown: time.Second})

	for i := 0; i < 2; i++ {
		b.Failure(errDial)
	}
	// A success resets the consecutive count.
	b.Success()
	for i := 0; i < 2; i++ {
		b.Failure(errDial)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	b.Failure(errDial)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if b.Allow() {
		t.Error("Allow() should be false while open")
	}
	if !errors.Is(b.LastError(), errDial) {
		t.Errorf("LastError() = %v", b.LastError())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Second, MaxProbes: 1})

	b.Failure(errDial)
	clock.Advance(time.Second)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}
	if !b.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if b.Allow() {
		t.Error("second concurrent probe should be rejected")
	}

	b.Success()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Second})

	b.Failure(errDial)
	clock.Advance(time.Second)
	if !b.Allow() {
		t.Fatal("probe should be allowed")
	}
	b.Failure(errDial)

	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}
}

func TestBreakerDo(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Do() = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := b.Do(ctx, func(context.Context) error { return errDial }); !errors.Is(err, errDial) {
			t.Fatalf("Do() = %v, want errDial", err)
		}
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Do() = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while the circuit is open")
	}
}

func TestBreakerDoIgnoresCancellation(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())

	err := b.Do(ctx, func(context.Context) error {
		cancel()
		return errDial
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Errorf("cancellation should not trip the breaker, state = %v", b.State())
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})

	changes := make(chan State, 2)
	b.OnStateChange(func(_, to State) { changes <- to })

	b.Failure(errDial)
	select {
	case to := <-changes:
		if to != StateOpen {
			t.Errorf("callback got %v, want open", to)
		}
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}

	b.Reset()
	select {
	case to := <-changes:
		if to != StateClosed {
			t.Errorf("callback got %v, want closed", to)
		}
	case <-time.After(time.Second):
		t.Fatal("reset should notify the callback")
	}
	if b.LastError() != nil {
		t.Error("Reset should clear LastError")
	}
}

func TestRecordTransition(t *testing.T) {
	before := BreakerTrips.Value()
	RecordTransition(StateClosed, StateOpen)
	if BreakerState.Value() != int64(StateOpen) {
		t.Errorf("BreakerState = %d, want %d", BreakerState.Value(), StateOpen)
	}
	if BreakerTrips.Value() != before+1 {
		t.Error("opening should count a trip")
	}
	RecordTransition(StateOpen, StateClosed)
	if BreakerState.Value() != int64(StateClosed) {
		t.Errorf("BreakerState = %d, want 0", BreakerState.Value())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
