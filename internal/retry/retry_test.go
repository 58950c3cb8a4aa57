package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"transcript-classifier-go/internal/llm"
	"transcript-classifier-go/internal/logger"
)

// instantTimer records requested waits and fires immediately.
type instantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newInstantTimer() *instantTimer { return &instantTimer{c: make(chan time.Time, 1)} }

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.c }

func newTestCoordinator(base time.Duration, max int) (*Coordinator, *instantTimer) {
	timer := newInstantTimer()
	c := New(base, max, 0, logger.Discard())
	c.Timer = timer
	return c, timer
}

func TestBackoffGrowth(t *testing.T) {
	c, timer := newTestCoordinator(10*time.Second, 5)
	calls := 0
	out, err := c.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls <= 4 {
			return "", fmt.Errorf("fake: %w", llm.ErrRateLimited)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out != "ok" || calls != 5 {
		t.Fatalf("out=%q calls=%d, want ok/5", out, calls)
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	if len(timer.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", timer.waits, want)
	}
	for i := range want {
		if timer.waits[i] != want[i] {
			t.Fatalf("wait %d = %v, want %v", i, timer.waits[i], want[i])
		}
	}
}

func TestRetriesExhausted(t *testing.T) {
	c, timer := newTestCoordinator(time.Second, 3)
	calls := 0
	_, err := c.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", llm.ErrRateLimited
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("last failure should stay in the chain: %v", err)
	}
	if calls != 3 || len(timer.waits) != 2 {
		t.Fatalf("calls=%d waits=%v", calls, timer.waits)
	}
}

func TestFatalNotRetried(t *testing.T) {
	c, timer := newTestCoordinator(time.Second, 5)
	calls := 0
	_, err := c.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("bad request: %w", llm.ErrGeneration)
	})
	if !errors.Is(err, llm.ErrGeneration) || errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("unexpected error %v", err)
	}
	if calls != 1 || len(timer.waits) != 0 {
		t.Fatalf("fatal error retried: calls=%d waits=%v", calls, timer.waits)
	}
}

func TestSingleAttempt(t *testing.T) {
	c, _ := newTestCoordinator(time.Second, 1)
	calls := 0
	_, err := c.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", llm.ErrRateLimited
	})
	if !errors.Is(err, ErrRetriesExhausted) || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestAttemptTimeoutIsRetryable(t *testing.T) {
	c, _ := newTestCoordinator(0, 3)
	c.AttemptTimeout = 20 * time.Millisecond
	calls := 0
	out, err := c.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "late ok", nil
	})
	if err != nil || out != "late ok" || calls != 2 {
		t.Fatalf("out=%q calls=%d err=%v", out, calls, err)
	}
}

func TestAttemptTimeoutReportedAsStatus(t *testing.T) {
	c, _ := newTestCoordinator(0, 3)
	c.AttemptTimeout = 20 * time.Millisecond
	calls := 0
	out, err := c.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", status.Error(codes.DeadlineExceeded, "upstream deadline")
		}
		return "ok", nil
	})
	if err != nil || out != "ok" || calls != 2 {
		t.Fatalf("out=%q calls=%d err=%v", out, calls, err)
	}
}

func TestCancelledParent(t *testing.T) {
	c := New(time.Hour, 5, 0, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Do(ctx, func(ctx context.Context) (string, error) {
		calls++
		return "", llm.ErrRateLimited
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
