package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/session"
)

var (
	// ErrShuttingDown is returned once Close has begun.
	ErrShuttingDown = fmt.Errorf("pool: shutdown in progress: %w", apperrors.ErrClosed)
	// ErrUnavailable is returned when no live session could be handed out.
	ErrUnavailable = fmt.Errorf("pool: no session available: %w", apperrors.ErrUnavailable)
	// ErrAcquireTimeout is returned when the acquire deadline elapses
	// before a session becomes idle.
	ErrAcquireTimeout = fmt.Errorf("%w: %w", ErrUnavailable, apperrors.ErrTimeout)
	// ErrNotStarted is returned by Acquire before Start has completed.
	ErrNotStarted = fmt.Errorf("pool: %w", apperrors.ErrNotOpen)
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = fmt.Errorf("pool: %w", apperrors.ErrAlreadyOpen)
	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = fmt.Errorf("pool: %w", apperrors.ErrConfiguration)
)

// Config configures the pool.
type Config struct {
	// MinSize is the floor of idle sessions the producer maintains and the
	// sweeper never evicts below. It is also the number of sessions Start
	// opens. Default: 5
	MinSize int
	// MaxSize caps idle plus borrowed sessions. Default: 20
	MaxSize int
	// MaxIdleTime is how long a session may sit unborrowed above the floor
	// before the sweeper closes it. Default: 60 seconds
	MaxIdleTime time.Duration
	// AcquireTimeout bounds how long Acquire waits. Default: 5 seconds
	AcquireTimeout time.Duration
	// RetryInterval is the producer's pause after a failed dial.
	// Default: 1 second
	RetryInterval time.Duration
	// SweepInterval is how often idle sessions are checked for staleness.
	// Default: MaxIdleTime
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSize:        5,
		MaxSize:        20,
		MaxIdleTime:    60 * time.Second,
		AcquireTimeout: 5 * time.Second,
		RetryInterval:  time.Second,
		SweepInterval:  60 * time.Second,
	}
}

// withDefaults fills zero durations. Sizes are taken as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIdleTime == 0 {
		c.MaxIdleTime = d.MaxIdleTime
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = c.MaxIdleTime
	}
	return c
}

// Validate reports whether c describes a usable pool.
func (c Config) Validate() error {
	switch {
	case c.MinSize < 0:
		return fmt.Errorf("%w: min size %d is negative", ErrInvalidConfig, c.MinSize)
	case c.MaxSize < 1:
		return fmt.Errorf("%w: max size %d must be at least 1", ErrInvalidConfig, c.MaxSize)
	case c.MinSize > c.MaxSize:
		return fmt.Errorf("%w: min size %d exceeds max size %d", ErrInvalidConfig, c.MinSize, c.MaxSize)
	case c.MaxIdleTime < 0, c.AcquireTimeout < 0, c.RetryInterval < 0, c.SweepInterval < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

type state int

const (
	stateNew state = iota
	stateStarting
	stateRunning
	stateClosed
)

// Pool is a bounded pool of backend sessions. A producer goroutine keeps
// the idle queue topped up and a sweeper goroutine trims stale idle
// sessions above the floor.
type Pool struct {
	dialer session.Dialer
	config Config

	mu sync.Mutex
	// notEmpty wakes borrowers waiting for an idle session.
	notEmpty *sync.Cond
	// needMore wakes the producer.
	needMore *sync.Cond
	// idle is FIFO: borrowers take from the front, releases append to the
	// back, so the front is the least recently borrowed.
	idle    []*session.Handle
	active  int
	pending int
	waiting int
	state   state

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	totalRequests atomic.Uint64
	timeouts      atomic.Uint64
	created       atomic.Uint64
	destroyed     atomic.Uint64
	deadOnBorrow  atomic.Uint64
}

// New creates a pool. It performs no I/O; call Start to open the initial
// sessions and begin maintenance.
func New(dialer session.Dialer, cfg Config) (*Pool, error) {
	if dialer == nil {
		return nil, fmt.Errorf("%w: nil dialer", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		dialer: dialer,
		config: cfg,
		idle:   make([]*session.Handle, 0, cfg.MaxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.needMore = sync.NewCond(&p.mu)

	log.WithField("minSize", cfg.MinSize).
		WithField("maxSize", cfg.MaxSize).
		WithField("maxIdleTime", cfg.MaxIdleTime).
		WithField("acquireTimeout", cfg.AcquireTimeout).
		Debug("pool created")
	return p, nil
}

// Config returns the effective configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Start synchronously opens MinSize sessions, then launches the producer
// and sweeper. If any initial dial fails the sessions already opened are
// closed, the pool is left closed, and the dial error is returned.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case stateClosed:
		p.mu.Unlock()
		return ErrShuttingDown
	case stateStarting, stateRunning:
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.state = stateStarting
	p.mu.Unlock()

	initial := make([]*session.Handle, 0, p.config.MinSize)
	for i := 0; i < p.config.MinSize; i++ {
		h, err := p.open(ctx)
		if err != nil {
			log.WithField("opened", i).WithField("minSize", p.config.MinSize).WithError(err).Error("initial fill failed")
			errs := []error{fmt.Errorf("pool: initial fill: %w", err)}
			for _, h := range initial {
				if cerr := p.destroy(h); cerr != nil {
					errs = append(errs, cerr)
				}
			}
			if cerr := p.Close(); cerr != nil {
				errs = append(errs, cerr)
			}
			return errors.Join(errs...)
		}
		initial = append(initial, h)
	}

	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		for _, h := range initial {
			p.destroy(h)
		}
		return ErrShuttingDown
	}
	p.idle = append(p.idle, initial...)
	p.state = stateRunning
	p.wg.Add(2)
	go p.produce()
	go p.sweep()
	p.mu.Unlock()

	UpdateMetrics(p.Stats())
	log.WithField("sessions", len(initial)).Info("pool started")
	return nil
}

// Acquire borrows a session. It waits until a session is idle, the
// acquire deadline (now + AcquireTimeout, or ctx's earlier deadline)
// elapses, ctx is canceled, or the pool shuts down.
//
// The returned Lease must be released exactly once.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.totalRequests.Add(1)
	PoolAcquireTotal.Inc()
	start := time.Now()

	actx, cancel := context.WithDeadline(ctx, start.Add(p.config.AcquireTimeout))
	defer cancel()

	h, err := p.take(ctx, actx)
	if err != nil {
		PoolAcquireFailedTotal.Inc()
		return nil, err
	}

	if !h.IsAlive(actx) {
		h, err = p.replace(actx, h)
		if err != nil {
			PoolAcquireFailedTotal.Inc()
			return nil, err
		}
	}

	p.mu.Lock()
	if p.state == stateClosed {
		p.active--
		p.mu.Unlock()
		p.destroy(h)
		PoolAcquireFailedTotal.Inc()
		return nil, ErrShuttingDown
	}
	p.mu.Unlock()

	h.Refresh()
	PoolAcquireSuccessTotal.Inc()
	PoolAcquireLatency.ObserveSince(start)
	return newLease(p, h), nil
}

// take pops the front idle handle, reserving it as active. parent is the
// caller's context and distinguishes cancellation from a deadline.
func (p *Pool) take(parent, actx context.Context) (*session.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stop := context.AfterFunc(actx, func() {
		p.mu.Lock()
		p.notEmpty.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	for len(p.idle) == 0 || p.state != stateRunning {
		switch p.state {
		case stateClosed:
			return nil, ErrShuttingDown
		case stateNew, stateStarting:
			return nil, ErrNotStarted
		}
		if err := actx.Err(); err != nil {
			if errors.Is(parent.Err(), context.Canceled) {
				return nil, fmt.Errorf("pool: acquire: %w", parent.Err())
			}
			p.timeouts.Add(1)
			PoolAcquireTimeoutsTotal.Inc()
			log.WithField("active", p.active).WithField("maxSize", p.config.MaxSize).Warn("acquire timed out")
			return nil, ErrAcquireTimeout
		}

		p.waiting++
		p.needMore.Signal()
		p.notEmpty.Wait()
		p.waiting--
	}

	h := p.popFrontLocked()
	p.active++
	if len(p.idle)+p.pending < p.config.MinSize {
		p.needMore.Signal()
	}
	return h, nil
}

// replace destroys a dead handle and dials one replacement under the
// acquire deadline. The active slot reserved by take carries over.
func (p *Pool) replace(ctx context.Context, dead *session.Handle) (*session.Handle, error) {
	p.deadOnBorrow.Add(1)
	PoolDeadOnBorrowTotal.Inc()
	log.WithField("handle", dead.ID()).WithField("idleFor", dead.IdleDuration()).Info("borrowed session is dead; replacing")
	p.destroy(dead)

	h, err := p.open(ctx)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.needMore.Signal()
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: replacing dead session: %w", ErrUnavailable, err)
	}
	return h, nil
}

// Do borrows a session, runs fn with it, and releases it on every exit
// path, including a panic in fn.
func (p *Pool) Do(ctx context.Context, fn func(*Lease) error) error {
	l, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l)
}

// put returns a borrowed handle to the back of the idle queue, or closes
// it when the pool is shutting down.
func (p *Pool) put(h *session.Handle) {
	PoolReleaseTotal.Inc()

	p.mu.Lock()
	p.active--
	if p.state == stateClosed {
		p.mu.Unlock()
		log.WithField("handle", h.ID()).Debug("pool closed, closing released session")
		p.destroy(h)
		return
	}
	p.idle = append(p.idle, h)
	p.notEmpty.Signal()
	p.mu.Unlock()
}

// discard closes a borrowed handle instead of requeueing it.
func (p *Pool) discard(h *session.Handle) {
	p.mu.Lock()
	p.active--
	p.needMore.Signal()
	p.mu.Unlock()

	log.WithField("handle", h.ID()).Debug("discarding session")
	p.destroy(h)
}

func (p *Pool) popFrontLocked() *session.Handle {
	h := p.idle[0]
	p.idle[0] = nil
	p.idle = p.idle[1:]
	return h
}

func (p *Pool) open(ctx context.Context) (*session.Handle, error) {
	s, err := p.dialer.Dial(ctx)
	if err != nil {
		PoolCreateFailuresTotal.Inc()
		return nil, fmt.Errorf("pool: open session: %w", err)
	}
	h := session.NewHandle(s)
	p.created.Add(1)
	PoolSessionsCreatedTotal.Inc()
	log.WithField("handle", h.ID()).Debug("opened session")
	return h, nil
}

func (p *Pool) destroy(h *session.Handle) error {
	err := h.Close()
	p.destroyed.Add(1)
	PoolSessionsDestroyedTotal.Inc()
	return err
}

// needsSessionLocked reports whether the producer should dial: the idle
// queue is below the floor, or more borrowers are waiting than sessions
// are on their way. The in-flight dial counts as idle so the ceiling is
// never crossed.
func (p *Pool) needsSessionLocked() bool {
	idle := len(p.idle) + p.pending
	if idle+p.active >= p.config.MaxSize {
		return false
	}
	return idle < p.config.MinSize || p.waiting > idle
}

// produce is the producer loop.
func (p *Pool) produce() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for p.state != stateClosed && !p.needsSessionLocked() {
			p.needMore.Wait()
		}
		if p.state == stateClosed {
			p.mu.Unlock()
			return
		}
		p.pending++
		p.mu.Unlock()

		h, err := p.open(p.ctx)

		p.mu.Lock()
		p.pending--
		if err != nil {
			p.mu.Unlock()
			if p.ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("retryIn", p.config.RetryInterval).Warn("producer failed to open session")
			if !p.pause(p.config.RetryInterval) {
				return
			}
			continue
		}
		if p.state == stateClosed {
			p.mu.Unlock()
			p.destroy(h)
			return
		}
		p.idle = append(p.idle, h)
		p.notEmpty.Signal()
		p.mu.Unlock()
	}
}

// pause sleeps for d, returning false if the pool shut down first.
func (p *Pool) pause(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// sweep is the sweeper loop.
func (p *Pool) sweep() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			p.evictIdle(now)
		}
	}
}

// evictIdle closes sessions from the front of the idle queue while the
// queue is above MinSize and the front has been idle longer than
// MaxIdleTime. It stops at the first fresh session.
func (p *Pool) evictIdle(now time.Time) int {
	p.mu.Lock()
	if p.state == stateClosed {
		p.mu.Unlock()
		return 0
	}
	var stale []*session.Handle
	for len(p.idle) > p.config.MinSize && p.idle[0].IdleAt(now) > p.config.MaxIdleTime {
		stale = append(stale, p.popFrontLocked())
	}
	p.mu.Unlock()

	for _, h := range stale {
		p.destroy(h)
	}
	if len(stale) > 0 {
		PoolEvictedTotal.Add(uint64(len(stale)))
		log.WithField("evicted", len(stale)).Debug("sweeper closed idle sessions")
	}
	return len(stale)
}

// Close shuts the pool down: waiters fail with ErrShuttingDown, the
// producer and sweeper are joined, and idle sessions are closed. Sessions
// still borrowed are closed when their leases are released. Close is
// idempotent; later calls return the first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = stateClosed
		p.notEmpty.Broadcast()
		p.needMore.Broadcast()
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		idle := p.idle
		p.idle = nil
		active := p.active
		p.mu.Unlock()

		var errs []error
		for _, h := range idle {
			if err := p.destroy(h); err != nil && !errors.Is(err, session.ErrSessionClosed) {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
		if p.closeErr != nil {
			log.WithError(p.closeErr).Warn("errors closing idle sessions")
		}

		UpdateMetrics(p.Stats())
		log.WithField("closed", len(idle)).WithField("borrowed", active).Info("pool closed")
	})
	return p.closeErr
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	// Idle is the number of sessions ready to borrow.
	Idle int
	// Active is the number of sessions currently borrowed.
	Active int
	// Total is Idle plus Active.
	Total int
	// MinSize and MaxSize echo the configured bounds.
	MinSize int
	MaxSize int
	// TotalRequests counts every Acquire call.
	TotalRequests uint64
	// TimeoutCount counts acquires that hit their deadline.
	TimeoutCount uint64
	// Created and Destroyed count session opens and closes.
	Created   uint64
	Destroyed uint64
	// DeadOnBorrow counts sessions found dead when borrowed.
	DeadOnBorrow uint64
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle, active := len(p.idle), p.active
	p.mu.Unlock()

	return Stats{
		Idle:          idle,
		Active:        active,
		Total:         idle + active,
		MinSize:       p.config.MinSize,
		MaxSize:       p.config.MaxSize,
		TotalRequests: p.totalRequests.Load(),
		TimeoutCount:  p.timeouts.Load(),
		Created:       p.created.Load(),
		Destroyed:     p.destroyed.Load(),
		DeadOnBorrow:  p.deadOnBorrow.Load(),
	}
}
