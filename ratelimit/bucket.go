// Package ratelimit provides the per-worker permit bucket that bounds
// how much work a single browser session may carry.
//
// A Bucket combines two constraints: a fixed number of concurrently
// outstanding permits (returned by Release when a job finishes) and a
// token-bucket refill rate that models the provider's externally imposed
// quota, replenishing over time independently of job completion. An
// acquisition succeeds only when both allow it.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Bucket is a non-blocking permit bucket. Safe for concurrent use.
type Bucket struct {
	mu        sync.Mutex
	capacity  int
	available int
	refill    *rate.Limiter
}

// New creates a Bucket with the given permit capacity and refill rate
// (permits per second). A non-positive capacity is treated as 1. A
// non-positive refill disables rate gating, leaving only the outstanding
// permit bound.
func New(capacity int, refill float64) *Bucket {
	if capacity <= 0 {
		capacity = 1
	}
	b := &Bucket{capacity: capacity, available: capacity}
	if refill > 0 {
		b.refill = rate.NewLimiter(rate.Limit(refill), capacity)
	}
	return b
}

// TryAcquire attempts to check out one permit. It never blocks. The
// caller MUST call Release exactly once after a successful acquisition,
// on every exit path.
func (b *Bucket) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.available == 0 {
		return false
	}
	if b.refill != nil && !b.refill.Allow() {
		return false
	}
	b.available--
	return true
}

// Release returns one permit, capped at capacity. Callers must not
// release without a matching successful TryAcquire.
func (b *Bucket) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.available < b.capacity {
		b.available++
	}
}

// Available returns the number of permits currently not checked out.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// Capacity returns the maximum number of outstanding permits.
func (b *Bucket) Capacity() int {
	return b.capacity
}
