// Package resilience guards backend operations with a circuit breaker so a
// dead database endpoint is not hammered by the pool's creation paths.
package resilience

import (
	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()
