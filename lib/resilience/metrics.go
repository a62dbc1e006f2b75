package resilience

import (
	"github.com/go-i2p/dbcp/lib/metrics"
)

// Circuit breaker metrics.
var (
	// BreakerState is 0 = closed, 1 = open, 2 = half-open.
	BreakerState = metrics.NewGauge(
		"dbcp_circuit_breaker_state",
		"Current state of the session creation circuit breaker (0=closed, 1=open, 2=half-open)",
	)
	BreakerTrips = metrics.NewCounter(
		"dbcp_circuit_breaker_trips_total",
		"Total number of times the circuit breaker opened",
	)
	BreakerSuccesses = metrics.NewCounter(
		"dbcp_circuit_breaker_successes_total",
		"Total successful operations through the circuit breaker",
	)
	BreakerFailures = metrics.NewCounter(
		"dbcp_circuit_breaker_failures_total",
		"Total failed operations through the circuit breaker",
	)
	BreakerRejections = metrics.NewCounter(
		"dbcp_circuit_breaker_rejections_total",
		"Total operations rejected while the circuit was open",
	)
)

// RecordTransition is an OnStateChange callback that keeps the breaker
// gauges current.
func RecordTransition(_, to State) {
	BreakerState.Set(int64(to))
	if to == StateOpen {
		BreakerTrips.Inc()
	}
}
