package pool

import "github.com/go-i2p/dbcp/lib/metrics"

// Pool utilization metrics
var (
	// PoolSessionsMax is the configured ceiling.
	PoolSessionsMax = metrics.NewGauge(
		"dbcp_pool_sessions_max",
		"Maximum number of sessions in the pool",
	)
	// PoolSessionsMin is the configured idle floor.
	PoolSessionsMin = metrics.NewGauge(
		"dbcp_pool_sessions_min",
		"Minimum number of idle sessions the pool maintains",
	)
	// PoolSessionsIdle is the current number of idle sessions.
	PoolSessionsIdle = metrics.NewGauge(
		"dbcp_pool_sessions_idle",
		"Current number of idle sessions in the pool",
	)
	// PoolSessionsActive is the number of sessions currently borrowed.
	PoolSessionsActive = metrics.NewGauge(
		"dbcp_pool_sessions_active",
		"Number of sessions currently borrowed",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounter(
		"dbcp_pool_acquire_total",
		"Total number of session acquire attempts",
	)
	// PoolAcquireSuccessTotal is the number of successful acquires.
	PoolAcquireSuccessTotal = metrics.NewCounter(
		"dbcp_pool_acquire_success_total",
		"Total number of successful session acquires",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounter(
		"dbcp_pool_acquire_failed_total",
		"Total number of failed session acquires",
	)
	// PoolAcquireTimeoutsTotal is the number of acquires that hit the deadline.
	PoolAcquireTimeoutsTotal = metrics.NewCounter(
		"dbcp_pool_acquire_timeouts_total",
		"Total number of session acquires that timed out",
	)
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = metrics.NewCounter(
		"dbcp_pool_release_total",
		"Total number of session releases",
	)
	// PoolSessionsCreatedTotal counts sessions opened.
	PoolSessionsCreatedTotal = metrics.NewCounter(
		"dbcp_pool_sessions_created_total",
		"Total number of backend sessions opened",
	)
	// PoolSessionsDestroyedTotal counts sessions closed.
	PoolSessionsDestroyedTotal = metrics.NewCounter(
		"dbcp_pool_sessions_destroyed_total",
		"Total number of backend sessions closed",
	)
	// PoolCreateFailuresTotal counts failed dials.
	PoolCreateFailuresTotal = metrics.NewCounter(
		"dbcp_pool_create_failures_total",
		"Total number of failed attempts to open a backend session",
	)
	// PoolDeadOnBorrowTotal counts sessions found dead when borrowed.
	PoolDeadOnBorrowTotal = metrics.NewCounter(
		"dbcp_pool_dead_on_borrow_total",
		"Total number of borrowed sessions that failed the liveness check",
	)
	// PoolEvictedTotal counts sessions closed by the sweeper.
	PoolEvictedTotal = metrics.NewCounter(
		"dbcp_pool_evicted_total",
		"Total number of idle sessions closed by the sweeper",
	)
	// PoolAcquireLatency tracks time spent acquiring sessions.
	PoolAcquireLatency = metrics.NewHistogram(
		"dbcp_pool_acquire_duration_seconds",
		"Time spent acquiring a session from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the pool gauges from Stats.
func UpdateMetrics(stats Stats) {
	PoolSessionsMax.Set(int64(stats.MaxSize))
	PoolSessionsMin.Set(int64(stats.MinSize))
	PoolSessionsIdle.Set(int64(stats.Idle))
	PoolSessionsActive.Set(int64(stats.Active))
}
