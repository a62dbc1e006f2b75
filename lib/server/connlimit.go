package server

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/dbcp/lib/metrics"
)

// DefaultMaxConnections is the default cap on concurrent HTTP connections.
const DefaultMaxConnections = 256

// ConnectionLimiter caps concurrent connections. Connections over the cap
// are closed as soon as they are accepted, before any request is read.
type ConnectionLimiter struct {
	maxConns    atomic.Int32
	activeConns atomic.Int32
	mu          sync.RWMutex
	onReject    func(addr net.Addr)
}

// NewConnectionLimiter creates a limiter. If maxConns <= 0,
// DefaultMaxConnections is used.
func NewConnectionLimiter(maxConns int) *ConnectionLimiter {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	cl := &ConnectionLimiter{}
	cl.maxConns.Store(int32(maxConns))
	return cl
}

// SetOnReject sets a callback run for each rejected connection.
func (cl *ConnectionLimiter) SetOnReject(fn func(addr net.Addr)) {
	cl.mu.Lock()
	cl.onReject = fn
	cl.mu.Unlock()
}

// Acquire takes a slot, or reports false at the limit.
func (cl *ConnectionLimiter) Acquire() bool {
	for {
		current := cl.activeConns.Load()
		if current >= cl.maxConns.Load() {
			return false
		}
		if cl.activeConns.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release frees a slot.
func (cl *ConnectionLimiter) Release() {
	cl.activeConns.Add(-1)
}

// ActiveConnections returns the number of held slots.
func (cl *ConnectionLimiter) ActiveConnections() int {
	return int(cl.activeConns.Load())
}

// MaxConnections returns the cap.
func (cl *ConnectionLimiter) MaxConnections() int {
	return int(cl.maxConns.Load())
}

func (cl *ConnectionLimiter) reject(conn net.Conn) {
	metrics.ConnectionRejections.Inc()
	cl.mu.RLock()
	onReject := cl.onReject
	cl.mu.RUnlock()
	if onReject != nil {
		onReject(conn.RemoteAddr())
	}
	conn.Close()
}

// Listener wraps ln so that every accepted connection holds a slot until
// it is closed.
func (cl *ConnectionLimiter) Listener(ln net.Listener) net.Listener {
	return &limitedListener{Listener: ln, limiter: cl}
}

type limitedListener struct {
	net.Listener
	limiter *ConnectionLimiter
}

func (l *limitedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.limiter.Acquire() {
			return &limitedConn{Conn: conn, limiter: l.limiter}, nil
		}
		l.limiter.reject(conn)
	}
}

// limitedConn releases its slot on the first Close.
type limitedConn struct {
	net.Conn
	limiter *ConnectionLimiter
	once    sync.Once
}

func (c *limitedConn) Close() error {
	c.once.Do(c.limiter.Release)
	return c.Conn.Close()
}
