// Package session is the backend adapter for the pool. A Session is one
// physical connection to the database; a Handle is the pool's bookkeeping
// wrapper around it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/dbcp/lib/errors"
)

// ErrSessionClosed is returned by operations on a session that was closed.
var ErrSessionClosed = fmt.Errorf("session: %w", apperrors.ErrClosed)

// Session is one live backend session. Implementations need not be safe
// for concurrent use; the pool guarantees a single owner at a time.
type Session interface {
	// IsAlive is a cheap liveness probe. It must not run a statement.
	IsAlive(ctx context.Context) bool
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, stmt string, args ...any) (Result, error)
	// Query runs a statement and materialises its rows.
	Query(ctx context.Context, stmt string, args ...any) (*RowSet, error)
	// Close ends the backend session.
	Close() error
}

// Dialer opens new sessions against a single backend endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Result summarises an Exec.
type Result struct {
	RowsAffected int64 `json:"rows_affected"`
	LastInsertID int64 `json:"last_insert_id,omitempty"`
}

// RowSet is a fully read query result.
type RowSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Len returns the number of rows.
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Handle owns one Session and tracks when it was last handed to a
// borrower. The zero value is not usable; create handles with NewHandle.
type Handle struct {
	id        uint64
	sess      Session
	createdAt time.Time
	// lastActive is unix nanoseconds, written on creation and on borrow.
	lastActive atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

var handleSeq atomic.Uint64

// NewHandle wraps s. The activity timestamp starts at creation time.
func NewHandle(s Session) *Handle {
	now := time.Now()
	h := &Handle{
		id:        handleSeq.Add(1),
		sess:      s,
		createdAt: now,
	}
	h.lastActive.Store(now.UnixNano())
	return h
}

// ID returns a process-unique identifier, for logs.
func (h *Handle) ID() uint64 {
	return h.id
}

// Session returns the wrapped session.
func (h *Handle) Session() Session {
	return h.sess
}

// CreatedAt returns when the handle was created.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// LastActive returns the last creation or borrow instant.
func (h *Handle) LastActive() time.Time {
	return time.Unix(0, h.lastActive.Load())
}

// Refresh marks the handle active now.
func (h *Handle) Refresh() {
	h.lastActive.Store(time.Now().UnixNano())
}

// IdleDuration returns how long ago the handle was last active.
func (h *Handle) IdleDuration() time.Duration {
	return h.IdleAt(time.Now())
}

// IdleAt returns the idle duration as observed at now.
func (h *Handle) IdleAt(now time.Time) time.Duration {
	return now.Sub(h.LastActive())
}

// IsAlive probes the wrapped session.
func (h *Handle) IsAlive(ctx context.Context) bool {
	return h.sess.IsAlive(ctx)
}

// Close closes the wrapped session exactly once; later calls return the
// first result.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.sess.Close()
		if h.closeErr != nil && !errors.Is(h.closeErr, ErrSessionClosed) {
			log.WithField("handle", h.id).WithError(h.closeErr).Warn("closing session")
		}
	})
	return h.closeErr
}
