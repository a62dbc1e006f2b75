// Package ratelimit provides per-client request throttling for the dbcp
// HTTP adapter, so a single noisy client cannot monopolise the sessions
// in the pool.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry tracks one client's bucket and when it was last used.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter provides per-key token bucket rate limiting.
// Keys idle longer than the cleanup interval are forgotten.
type KeyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	cleanup time.Duration
	stopCh  chan struct{}
	once    sync.Once
}

// NewKeyed creates a per-key limiter allowing perSecond events with the
// given burst. A background goroutine prunes idle keys every cleanup
// interval until Close is called.
func NewKeyed(perSecond float64, burst int, cleanup time.Duration) *KeyedLimiter {
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}
	kl := &KeyedLimiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		cleanup: cleanup,
		stopCh:  make(chan struct{}),
	}
	go kl.cleanupLoop()
	return kl
}

// Allow reports whether an event for key may happen now.
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.get(key).Allow()
}

// Len returns the number of tracked keys.
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (kl *KeyedLimiter) Close() {
	kl.once.Do(func() { close(kl.stopCh) })
}

func (kl *KeyedLimiter) get(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	e, ok := kl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (kl *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(kl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stopCh:
			return
		case now := <-ticker.C:
			kl.prune(now)
		}
	}
}

// prune drops keys idle for longer than the cleanup interval.
func (kl *KeyedLimiter) prune(now time.Time) int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	removed := 0
	for key, e := range kl.entries {
		if now.Sub(e.lastSeen) > kl.cleanup {
			delete(kl.entries, key)
			removed++
		}
	}
	return removed
}
