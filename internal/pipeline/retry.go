package pipeline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"gridflow/internal/etl"
)

// Delay computes the backoff before retry attempt n (zero-based):
// initialDelay * multiplier^n, capped at maxDelay.
func Delay(p etl.RetryPolicy, attempt int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// withRetry runs op up to p.MaxRetries times, sleeping the backoff delay
// between attempts. Only transient errors are retried; validation and
// transform errors are deterministic and surface immediately. The ceiling is
// inclusive: with MaxRetries=3 the third failure is final.
func withRetry(ctx context.Context, p etl.RetryPolicy, op string, fn func() error) error {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !etl.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		wait := Delay(p, attempt)
		slog.Warn("Transient failure, retrying",
			"op", op, "attempt", attempt+1, "max", attempts, "wait", wait, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return &etl.SourceFailure{SourceID: op, Attempts: attempts, Err: lastErr}
}
