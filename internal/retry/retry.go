// Package retry runs a generator call with bounded exponential backoff.
//
// Policy: only rate-limit failures (llm.ErrRateLimited) and expired attempt
// deadlines are retried. Any other failure is treated as permanent and
// returned on the first occurrence. Retrying generic failures would hide
// permanent rejections (bad request, auth) behind minutes of backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"transcript-classifier-go/internal/llm"
	"transcript-classifier-go/internal/logger"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// Op is one attempt. The context carries the attempt deadline.
type Op func(ctx context.Context) (string, error)

type Coordinator struct {
	// BaseDelay is the wait after the first rate-limited attempt; each
	// further wait doubles.
	BaseDelay time.Duration
	// MaxAttempts counts calls, not retries.
	MaxAttempts int
	// AttemptTimeout bounds a single call; zero means no bound.
	AttemptTimeout time.Duration
	// Timer is swapped in tests and is shared by concurrent Do calls;
	// nil uses a fresh real timer per call.
	Timer backoff.Timer
	Log   *logrus.Entry
}

func New(base time.Duration, maxAttempts int, attemptTimeout time.Duration, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		BaseDelay:      base,
		MaxAttempts:    maxAttempts,
		AttemptTimeout: attemptTimeout,
		Log:            logger.Component(log, "retry"),
	}
}

// Policy returns the backoff sequence base, 2·base, 4·base, ... with no
// jitter and no elapsed-time cap, stopping after MaxAttempts-1 retries.
func (c *Coordinator) Policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()

	retries := c.MaxAttempts - 1
	if retries < 1 {
		// one attempt, no retries
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs op until it succeeds, fails permanently, or the attempt budget is
// spent. Exhaustion returns ErrRetriesExhausted wrapping the last failure.
func (c *Coordinator) Do(ctx context.Context, op Op) (string, error) {
	log := c.Log
	if log == nil {
		log = logger.Component(nil, "retry")
	}
	attempt := 0

	operation := func() (string, error) {
		attempt++
		out, err := c.attempt(ctx, op)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		if !llm.IsRateLimited(err) {
			log.WithField("attempt", attempt).WithError(err).Error("generation failed, not retrying")
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	notify := func(err error, next time.Duration) {
		log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.MaxAttempts,
			"delay":        next.String(),
		}).Warn("rate limited, backing off")
	}

	out, err := backoff.RetryNotifyWithTimerAndData(operation, c.Policy(ctx), notify, c.Timer)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if llm.IsRateLimited(err) {
		log.WithField("attempts", attempt).Error("retry budget spent")
		return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}
	return "", err
}

// attempt runs one call under its own deadline. An expired attempt deadline
// (with the parent still live) is reported as a rate-limit failure whatever
// error the backend wrapped it in.
func (c *Coordinator) attempt(ctx context.Context, op Op) (string, error) {
	if c.AttemptTimeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, c.AttemptTimeout)
	defer cancel()
	out, err := op(actx)
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded)
	if err != nil && ctx.Err() == nil && timedOut {
		return "", fmt.Errorf("attempt timed out after %s: %w: %w", c.AttemptTimeout, llm.ErrRateLimited, err)
	}
	return out, err
}
