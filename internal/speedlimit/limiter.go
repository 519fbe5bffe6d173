// Package speedlimit implements the global download speed limiter: a
// lock-free byte token bucket shared by every in-flight download task.
//
// This is the same token-bucket idiom the example pack's
// ratelimit.Limiter uses, re-expressed without a mutex: the hot path
// (Acquire) only ever does atomic loads/CAS loops, so concurrent workers
// never block each other on limiter bookkeeping, only on the bucket being
// empty.
package speedlimit

import (
	"context"
	"sync/atomic"
	"time"
)

const refillInterval = 100 * time.Millisecond

// Limiter is a token bucket measured in bytes. A zero or negative limit
// means unlimited: Acquire returns immediately.
type Limiter struct {
	limitBps    atomic.Int64 // 0 = unlimited
	tokens      atomic.Int64 // current bucket level, bytes
	lastRefill  atomic.Int64 // unix nanos
}

func New(limitBps int64) *Limiter {
	l := &Limiter{}
	l.limitBps.Store(limitBps)
	l.tokens.Store(limitBps / 10) // seed with one refill interval's worth
	l.lastRefill.Store(time.Now().UnixNano())
	return l
}

// Acquire blocks until n bytes' worth of tokens are available, or ctx is
// canceled. Called once per downloaded chunk from the download task's
// worker pool.
func (l *Limiter) Acquire(ctx context.Context, n int64) error {
	for {
		limit := l.limitBps.Load()
		if limit <= 0 {
			return nil
		}

		l.refill(limit)

		for {
			have := l.tokens.Load()
			if have < n {
				break
			}
			if l.tokens.CompareAndSwap(have, have-n) {
				return nil
			}
		}

		select {
		case <-time.After(refillInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Limiter) refill(limit int64) {
	now := time.Now().UnixNano()
	for {
		last := l.lastRefill.Load()
		elapsed := time.Duration(now - last)
		if elapsed < refillInterval {
			return
		}
		if !l.lastRefill.CompareAndSwap(last, now) {
			continue // another goroutine refilled first; retry with fresh values
		}

		added := int64(float64(limit) * elapsed.Seconds())
		max := limit // never hold more than one second's worth
		for {
			have := l.tokens.Load()
			next := have + added
			if next > max {
				next = max
			}
			if l.tokens.CompareAndSwap(have, next) {
				return
			}
		}
	}
}

// SetLimit changes the rate. Raising the limit tops the bucket up toward
// the new ceiling immediately (so a raise takes effect without waiting for
// a future refill); lowering it never drains tokens already granted — an
// in-flight burst finishes at the old rate rather than stalling mid-chunk.
func (l *Limiter) SetLimit(limitBps int64) {
	old := l.limitBps.Swap(limitBps)
	if limitBps <= 0 || limitBps <= old {
		return
	}
	for {
		have := l.tokens.Load()
		if have >= limitBps {
			return
		}
		if l.tokens.CompareAndSwap(have, limitBps) {
			return
		}
	}
}

func (l *Limiter) CurrentLimit() int64 {
	return l.limitBps.Load()
}
