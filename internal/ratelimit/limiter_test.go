package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"mastermind/internal/config"
)

func testConfig(rpm float64, retries int, backoff string) config.RateLimitConfig {
	return config.RateLimitConfig{
		RequestsPerMinute: rpm,
		MaxRetries:        retries,
		InitialBackoff:    backoff,
	}
}

func TestWait_PacesAdmissions(t *testing.T) {
	t.Parallel()

	// 1200 rpm = 20 tokens/sec. One token is stored, so 5 admissions
	// need >= 4 refills: at least ~200ms.
	l := New(testConfig(1200, 0, "1s"))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	if elapsed < 150*time.Millisecond {
		t.Errorf("5 admissions at 20/s finished too fast: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Errorf("5 admissions took unexpectedly long: %v", elapsed)
	}
}

func TestWait_ContextCancel(t *testing.T) {
	t.Parallel()

	l := New(testConfig(1, 0, "1s")) // one token per minute
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(cancelCtx); err == nil {
		t.Fatal("expected context error on exhausted bucket")
	}
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	l := New(testConfig(60000, 3, "10ms"))

	var calls int32
	var statusAttempts []int
	var statusWaits []time.Duration
	l.SetStatusFunc(func(attempt, max int, wait time.Duration) {
		statusAttempts = append(statusAttempts, attempt)
		statusWaits = append(statusWaits, wait)
	})

	err := l.Call(context.Background(), func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return Transient(fmt.Errorf("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 invocations, got %d", calls)
	}
	if len(statusAttempts) != 2 || statusAttempts[0] != 1 || statusAttempts[1] != 2 {
		t.Errorf("unexpected status attempts: %v", statusAttempts)
	}

	// Backoff doubles per retry: 10ms then 20ms, plus at most 20% jitter.
	if statusWaits[0] < 10*time.Millisecond || statusWaits[0] > 12*time.Millisecond {
		t.Errorf("first backoff out of bounds: %v", statusWaits[0])
	}
	if statusWaits[1] < 20*time.Millisecond || statusWaits[1] > 24*time.Millisecond {
		t.Errorf("second backoff out of bounds: %v", statusWaits[1])
	}
}

func TestCall_PermanentNotRetried(t *testing.T) {
	t.Parallel()

	l := New(testConfig(60000, 5, "1ms"))

	var calls int32
	err := l.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("invalid api key"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent error must not be retried, got %d calls", calls)
	}
	var pe *PermanentError
	if !errors.As(err, &pe) {
		t.Errorf("expected PermanentError in chain, got %v", err)
	}
}

func TestCall_UnclassifiedNotRetried(t *testing.T) {
	t.Parallel()

	l := New(testConfig(60000, 5, "1ms"))

	var calls int32
	sentinel := errors.New("schema mismatch")
	err := l.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("unclassified error must surface immediately, got %d calls", calls)
	}
}

func TestCall_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	l := New(testConfig(60000, 2, "1ms"))

	var calls int32
	err := l.Call(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return Transient(errors.New("503"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 1 initial + 2 retries = 3 calls, got %d", calls)
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Errorf("cause should remain in the chain, got %v", err)
	}
}

func TestCall_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	l := New(testConfig(60000, 3, "5s"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := l.Call(ctx, func(ctx context.Context) error {
		return Transient(errors.New("429"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation should interrupt the backoff sleep")
	}
}

func TestBackoffDelay_Bounds(t *testing.T) {
	t.Parallel()

	l := New(testConfig(60, 3, "100ms"))
	for retry := 1; retry <= 4; retry++ {
		base := 100 * time.Millisecond << uint(retry-1)
		for i := 0; i < 50; i++ {
			d := l.backoffDelay(retry)
			if d < base || d > base+base/5 {
				t.Fatalf("retry %d: delay %v outside [%v, %v]", retry, d, base, base+base/5)
			}
		}
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if !IsTransient(Transient(errors.New("x"))) {
		t.Error("wrapped transient should be transient")
	}
	if IsTransient(Permanent(errors.New("x"))) {
		t.Error("wrapped permanent should not be transient")
	}
	if IsTransient(errors.New("x")) {
		t.Error("unclassified should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
	// The outermost marker wins when both appear in a chain.
	if IsTransient(Permanent(Transient(errors.New("x")))) {
		t.Error("permanent wrapper around transient cause must stay permanent")
	}
	if !IsTransient(fmt.Errorf("dispatch: %w", Transient(errors.New("x")))) {
		t.Error("plain wrapping must preserve the transient marker")
	}
}
