// Package ratelimit paces outbound provider calls with a token bucket and
// wraps them in a bounded retry policy. The bucket refills at rpm/60 tokens
// per second, so across any 60-second window at most rpm+1 calls are
// admitted (one stored token plus the refill).
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"mastermind/internal/config"
	"mastermind/internal/logging"
)

// StatusFunc is invoked once per retry with the attempt number (1-based),
// the retry budget, and the backoff delay about to be applied.
type StatusFunc func(attempt, maxRetries int, wait time.Duration)

// Limiter serializes admission to a shared request budget. Safe for
// concurrent use.
type Limiter struct {
	limiter        *rate.Limiter
	maxRetries     int
	initialBackoff time.Duration
	status         StatusFunc
}

// New builds a limiter from config. The bucket admits one stored token and
// refills at RequestsPerMinute/60 per second.
func New(cfg config.RateLimitConfig) *Limiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &Limiter{
		limiter:        rate.NewLimiter(rate.Limit(rpm/60.0), 1),
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoffDuration(),
	}
}

// SetStatusFunc installs an observer for retry attempts. Pass nil to clear.
func (l *Limiter) SetStatusFunc(fn StatusFunc) {
	l.status = fn
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Call invokes fn behind the token bucket, retrying transient failures up
// to the configured budget. Each attempt waits for a fresh token. Permanent
// failures surface immediately.
func (l *Limiter) Call(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == l.maxRetries {
			break
		}

		delay := l.backoffDelay(attempt + 1)
		logging.RateLimitDebug("transient failure (attempt %d/%d), backing off %v: %v",
			attempt+1, l.maxRetries, delay, lastErr)
		if l.status != nil {
			l.status(attempt+1, l.maxRetries, delay)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return fmt.Errorf("backoff interrupted: %w", err)
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", l.maxRetries+1, lastErr)
}

// backoffDelay computes the delay before retry n (1-based):
// initialBackoff × 2^(n−1), plus up to 20% jitter.
func (l *Limiter) backoffDelay(retry int) time.Duration {
	base := l.initialBackoff
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(retry-1)
	jitter := time.Duration(rand.Float64() * 0.2 * float64(d))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
