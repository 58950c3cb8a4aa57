// Package limiter bounds concurrent remote calls and spaces their issuance.
package limiter

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter admits at most capacity callers at once and keeps consecutive call
// issuances at least spacing apart, even when slots are free.
//
// A caller takes its slot first and waits for the spacing while holding it,
// so the spacing gates issuance rather than admission. Callers that retry
// inside one slot call Pace before every attempt.
type Limiter struct {
	slots    *semaphore.Weighted
	pace     *rate.Limiter
	capacity int
	inFlight atomic.Int64
	peak     atomic.Int64
}

func New(capacity int, spacing time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	pace := rate.NewLimiter(rate.Inf, 1)
	if spacing > 0 {
		pace = rate.NewLimiter(rate.Every(spacing), 1)
	}
	return &Limiter{
		slots:    semaphore.NewWeighted(int64(capacity)),
		pace:     pace,
		capacity: capacity,
	}
}

// Hold runs fn inside a slot without waiting for the spacing. fn is expected
// to call Pace before each call it issues.
func (l *Limiter) Hold(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.slots.Release(1)

	n := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return fn(ctx)
}

// Pace blocks until the next issuance is allowed.
func (l *Limiter) Pace(ctx context.Context) error {
	return l.pace.Wait(ctx)
}

// Do runs a single call: it takes a slot, waits for the spacing inside it
// and then runs fn.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	return l.Hold(ctx, func(ctx context.Context) (string, error) {
		if err := l.Pace(ctx); err != nil {
			return "", err
		}
		return fn(ctx)
	})
}

func (l *Limiter) Capacity() int { return l.capacity }

// InFlight is the number of slots currently held.
func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

// Peak is the highest InFlight observed since construction.
func (l *Limiter) Peak() int { return int(l.peak.Load()) }
