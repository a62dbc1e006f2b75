// Package sessiontest provides in-memory Session and Dialer fakes for
// exercising the pool without a database.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/dbcp/lib/session"
)

// ErrRefused is the default dial failure.
var ErrRefused = errors.New("sessiontest: connection refused")

// Dialer hands out fake Sessions. Its failure behaviour can be changed at
// any time, including while the pool is running.
type Dialer struct {
	mu       sync.Mutex
	dials    int
	failErr  error
	allowed  int // remaining successful dials; <0 means unlimited
	delay    time.Duration
	gate     chan struct{}
	closeErr error
	sessions []*Session
}

// NewDialer returns a dialer that always succeeds.
func NewDialer() *Dialer {
	return &Dialer{allowed: -1}
}

// Fail makes every subsequent Dial return err (ErrRefused if nil).
func (d *Dialer) Fail(err error) {
	if err == nil {
		err = ErrRefused
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = err
	d.allowed = 0
}

// Recover makes subsequent dials succeed again.
func (d *Dialer) Recover() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = nil
	d.allowed = -1
}

// Allow lets n more dials succeed, after which dials fail with ErrRefused.
func (d *Dialer) Allow(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allowed = n
	d.failErr = ErrRefused
}

// FailClose makes sessions dialed from now on return err from Close.
// They are still marked closed.
func (d *Dialer) FailClose(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
}

// SetDelay makes each Dial take at least delay.
func (d *Dialer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Hold blocks every Dial until the returned function is called.
func (d *Dialer) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Dial implements session.Dialer.
func (d *Dialer) Dial(ctx context.Context) (session.Session, error) {
	d.mu.Lock()
	d.dials++
	delay, gate := d.delay, d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allowed == 0 {
		return nil, d.failErr
	}
	if d.allowed > 0 {
		d.allowed--
	}
	s := &Session{id: len(d.sessions) + 1, alive: true, closeErr: d.closeErr}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// Dials returns the number of Dial calls, successful or not.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Sessions returns every session created so far.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Session, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Open returns the number of sessions not yet closed.
func (d *Dialer) Open() int {
	n := 0
	for _, s := range d.Sessions() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Session is an in-memory session that records what was run on it.
type Session struct {
	mu         sync.Mutex
	id         int
	alive      bool
	closeCount int
	statements []string
	execErr    error
	closeErr   error
	rows       *session.RowSet
}

// ID returns the 1-based creation order.
func (s *Session) ID() int { return s.id }

// Kill makes IsAlive report false.
func (s *Session) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = false
}

// FailStatements makes Exec and Query return err.
func (s *Session) FailStatements(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execErr = err
}

// SetRows sets the result returned by Query.
func (s *Session) SetRows(rs *session.RowSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rs
}

// Statements returns every statement run on this session.
func (s *Session) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount > 0
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// IsAlive reports false once the session is killed or closed.
func (s *Session) IsAlive(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && s.closeCount == 0
}

// Exec records stmt and reports one affected row.
func (s *Session) Exec(_ context.Context, stmt string, _ ...any) (session.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount > 0 {
		return session.Result{}, session.ErrSessionClosed
	}
	s.statements = append(s.statements, stmt)
	if s.execErr != nil {
		return session.Result{}, s.execErr
	}
	return session.Result{RowsAffected: 1}, nil
}

// Query records stmt and returns the rows set by SetRows, or a single
// row naming the session.
func (s *Session) Query(_ context.Context, stmt string, _ ...any) (*session.RowSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount > 0 {
		return nil, session.ErrSessionClosed
	}
	s.statements = append(s.statements, stmt)
	if s.execErr != nil {
		return nil, s.execErr
	}
	if s.rows != nil {
		return s.rows, nil
	}
	return &session.RowSet{
		Columns: []string{"session"},
		Rows:    []map[string]any{{"session": fmt.Sprint(s.id)}},
	}, nil
}

// Close marks the session closed and returns the FailClose error, if any.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	s.alive = false
	return s.closeErr
}
