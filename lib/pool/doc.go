// Package pool provides a bounded pool of database sessions.
//
// The pool keeps between MinSize idle and MaxSize total sessions open
// against one backend. Two goroutines maintain it:
//   - the producer opens sessions while the idle queue is below MinSize,
//     or a borrower is waiting and the ceiling allows another session
//   - the sweeper periodically closes sessions that have been idle longer
//     than MaxIdleTime, never dropping the idle queue below MinSize
//
// Acquire waits at most AcquireTimeout for an idle session. A session
// that fails its liveness check when borrowed is closed and replaced by
// one synchronous dial.
//
// # Eviction Order
//
// The idle queue is FIFO and a session's activity time is refreshed when
// it is created or borrowed. The sweeper scans from the front and stops
// at the first session still within MaxIdleTime, so a stale session
// queued behind a fresher one survives until the sessions ahead of it
// are borrowed or evicted.
//
// # Basic Usage
//
//	dialer, err := session.NewSQLDialer(session.DialerConfig{
//	    Driver:   session.DriverMySQL,
//	    Host:     "localhost",
//	    Port:     3306,
//	    Database: "app",
//	    Username: "app",
//	    Password: secret,
//	})
//	if err != nil {
//	    return err
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.MaxSize = 50
//
//	p, err := pool.New(dialer, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	lease, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
//	rows, err := lease.Query(ctx, "SELECT id, name FROM users WHERE id = ?", 42)
//
// # Scoped Borrowing
//
// Do releases the lease on every exit path, including panics:
//
//	err := p.Do(ctx, func(l *pool.Lease) error {
//	    _, err := l.Exec(ctx, "UPDATE counters SET n = n + 1")
//	    return err
//	})
//
// # Errors
//
// Acquire fails with ErrAcquireTimeout when the deadline passes, with
// ErrShuttingDown once Close has begun, and with an error wrapping
// ErrUnavailable when a dead session could not be replaced. Caller
// cancellation is reported as context.Canceled.
//
// # Metrics
//
// The pool exports these metrics through lib/metrics:
//   - dbcp_pool_sessions_max: Maximum pool size
//   - dbcp_pool_sessions_min: Idle floor
//   - dbcp_pool_sessions_idle: Idle sessions
//   - dbcp_pool_sessions_active: Borrowed sessions
//   - dbcp_pool_acquire_total: Total acquire attempts
//   - dbcp_pool_acquire_timeouts_total: Acquires that hit the deadline
//   - dbcp_pool_dead_on_borrow_total: Sessions found dead when borrowed
//   - dbcp_pool_evicted_total: Sessions closed by the sweeper
//   - dbcp_pool_acquire_duration_seconds: Acquire latency histogram
//
// Call UpdateMetrics with Stats before exposing to refresh the gauges.
package pool
