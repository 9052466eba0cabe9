package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/errors"
)

// defaultRetryDelay is the cadence at which Acquire re-checks the window.
const defaultRetryDelay = 100 * time.Millisecond

// Limiter implements a sliding-window rate limiter. It admits at most
// `limit` acquisitions within any trailing `interval`.
type Limiter struct {
	limit      int
	interval   time.Duration
	retryDelay time.Duration

	mu         sync.Mutex
	timestamps []time.Time

	logger *logrus.Logger
	now    func() time.Time
}

// New creates a new sliding-window limiter
func New(limit int, interval time.Duration, logger *logrus.Logger) *Limiter {
	return &Limiter{
		limit:      limit,
		interval:   interval,
		retryDelay: defaultRetryDelay,
		logger:     logger,
		now:        time.Now,
	}
}

// SetRetryDelay overrides the Acquire polling cadence. Intended for tests
// and callers that need a tighter retry loop.
func (l *Limiter) SetRetryDelay(d time.Duration) {
	if d > 0 {
		l.retryDelay = d
	}
}

// TryAcquire reports whether a slot is available, claiming it if so.
// Entries older than the interval are pruned before the check.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.timestamps) >= l.limit {
		return false
	}

	l.timestamps = append(l.timestamps, now)
	return true
}

// Acquire blocks until a slot is available or the context is done.
// Waiters are retried on a timer rather than strict FIFO order; fairness
// across concurrent waiters is best effort.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.TryAcquire() {
		return nil
	}

	timer := time.NewTimer(l.retryDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "rate limit wait canceled")
		case <-timer.C:
			if l.TryAcquire() {
				return nil
			}
			timer.Reset(l.retryDelay)
		}
	}
}

// Pending returns the number of acquisitions currently inside the window
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return len(l.timestamps)
}

// prune drops timestamps older than the interval. Caller must hold mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.interval)
	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept
}
