// Package ratelimit provides a strict pacing limiter for the load modes
// that dispatch at a target rate.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter issues permits no faster than the target rate by tracking the
// next permit time. Unlike a token bucket there is no burst allowance:
// consecutive permits are always at least one interval apart, which keeps
// discovery-ladder measurements comparable across steps.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration

	rateX1000 atomic.Int64 // rate * 1000, atomic for lock-free reads
}

// New creates a Limiter issuing permits at the given rate per second.
func New(ratePerSec float64) *Limiter {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	l := &Limiter{
		nextPermitTime: time.Now(),
		interval:       time.Duration(float64(time.Second) / ratePerSec),
	}
	l.rateX1000.Store(int64(ratePerSec * 1000))

	return l
}

// Wait blocks until a permit is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	permitTime := l.nextPermitTime
	l.nextPermitTime = permitTime.Add(l.interval)
	l.mu.Unlock()

	waitDuration := time.Until(permitTime)

	// Behind schedule: proceed immediately to catch up.
	if waitDuration <= 0 {
		return nil
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// Return the slot so cancelled waiters don't eat capacity.
		l.returnPermit()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) returnPermit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextPermitTime = l.nextPermitTime.Add(-l.interval)
}

// SetRate updates the rate. Takes effect for subsequent permits;
// the discovery ladder calls this when climbing to the next step.
func (l *Limiter) SetRate(ratePerSec float64) {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.interval = time.Duration(float64(time.Second) / ratePerSec)
	l.rateX1000.Store(int64(ratePerSec * 1000))

	// Reset the schedule so a rate change neither stalls nor bursts.
	now := time.Now()
	if l.nextPermitTime.Before(now) {
		l.nextPermitTime = now
	}
}

// Rate returns the current rate limit.
func (l *Limiter) Rate() float64 {
	return float64(l.rateX1000.Load()) / 1000
}
