package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
	"github.com/go-i2p/dbcp/lib/metrics"
	"github.com/go-i2p/dbcp/lib/session"
)

// ErrLeaseReleased is returned by operations on a lease after Release or
// Discard.
var ErrLeaseReleased = fmt.Errorf("pool: lease already released: %w", apperrors.ErrInvalidState)

// Lease is a borrowed session. It has a single owner: it must not be
// shared between goroutines, and it must be released exactly once with
// Release or Discard. Both are safe to call more than once; only the
// first call has an effect.
//
// A lease that becomes unreachable without being released is returned to
// the pool by the garbage collector and logged.
type Lease struct {
	pool       *Pool
	held       *heldHandle
	acquiredAt time.Time
}

// heldHandle is shared between a Lease and its GC cleanup so that the
// handle is handed back at most once.
type heldHandle struct {
	ptr atomic.Pointer[session.Handle]
}

func newLease(p *Pool, h *session.Handle) *Lease {
	l := &Lease{pool: p, held: &heldHandle{}, acquiredAt: time.Now()}
	l.held.ptr.Store(h)
	runtime.AddCleanup(l, func(held *heldHandle) {
		if h := held.ptr.Swap(nil); h != nil {
			log.WithField("handle", h.ID()).Warn("lease collected without release; returning session")
			p.put(h)
		}
	}, l.held)
	return l
}

func (l *Lease) handle() (*session.Handle, error) {
	h := l.held.ptr.Load()
	if h == nil {
		return nil, ErrLeaseReleased
	}
	return h, nil
}

// ID returns the borrowed handle's ID, or 0 once released.
func (l *Lease) ID() uint64 {
	if h := l.held.ptr.Load(); h != nil {
		return h.ID()
	}
	return 0
}

// Held returns how long the lease has been held.
func (l *Lease) Held() time.Duration {
	return time.Since(l.acquiredAt)
}

// Released reports whether Release or Discard has been called.
func (l *Lease) Released() bool {
	return l.held.ptr.Load() == nil
}

// Exec runs a statement that returns no rows.
func (l *Lease) Exec(ctx context.Context, stmt string, args ...any) (session.Result, error) {
	h, err := l.handle()
	if err != nil {
		return session.Result{}, err
	}
	defer runtime.KeepAlive(l)
	start := time.Now()
	defer metrics.StatementLatency.ObserveSince(start)
	return h.Session().Exec(ctx, stmt, args...)
}

// Query runs a statement and reads every row.
func (l *Lease) Query(ctx context.Context, stmt string, args ...any) (*session.RowSet, error) {
	h, err := l.handle()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(l)
	start := time.Now()
	defer metrics.StatementLatency.ObserveSince(start)
	return h.Session().Query(ctx, stmt, args...)
}

// Ping probes the borrowed session's liveness.
func (l *Lease) Ping(ctx context.Context) error {
	h, err := l.handle()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(l)
	if !h.IsAlive(ctx) {
		return fmt.Errorf("pool: session %d: %w", h.ID(), apperrors.ErrConnection)
	}
	return nil
}

// Release returns the session to the pool. If the pool is shutting down
// the session is closed instead.
func (l *Lease) Release() {
	if h := l.held.ptr.Swap(nil); h != nil {
		l.pool.put(h)
	}
}

// Discard closes the session instead of returning it, freeing its slot.
// Use it after an error that leaves the session in an unknown state.
func (l *Lease) Discard() {
	if h := l.held.ptr.Swap(nil); h != nil {
		l.pool.discard(h)
	}
}
