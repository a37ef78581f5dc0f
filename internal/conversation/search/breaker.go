// Package search queries a remote conversation-search service, falling back
// to the local store while the remote is in a failure cooldown.
package search

import (
	"sync/atomic"
	"time"
)

// Breaker is a lock-free circuit breaker over the remote search endpoint.
// A zero deadline means closed (remote allowed); a nonzero deadline is the
// unix-millisecond instant until which the remote is skipped.
type Breaker struct {
	disabledUntil atomic.Int64
}

// Allow reports whether the remote may be tried at the given instant, and
// returns the deadline observed by the check. The observed value must be
// passed back to Reset so a success recorded against a stale open state
// cannot clobber a newer trip.
func (b *Breaker) Allow(now time.Time) (bool, int64) {
	observed := b.disabledUntil.Load()
	return observed == 0 || now.UnixMilli() >= observed, observed
}

// Trip opens the breaker until now plus cooldown.
func (b *Breaker) Trip(now time.Time, cooldown time.Duration) {
	b.disabledUntil.Store(now.Add(cooldown).UnixMilli())
}

// Reset closes the breaker, but only if no concurrent failure has re-tripped
// it since the deadline was observed.
func (b *Breaker) Reset(observed int64) {
	b.disabledUntil.CompareAndSwap(observed, 0)
}

// Open reports whether the breaker currently skips the remote.
func (b *Breaker) Open(now time.Time) bool {
	allowed, _ := b.Allow(now)
	return !allowed
}
