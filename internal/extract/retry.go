// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/compliance-engine/internal/logging"
)

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// Clock abstracts waiting so tests can control time.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RetryPolicy decides how often and how long to retry.
type RetryPolicy struct {
	// MaxAttempts counts the first call; values below 1 mean 1.
	MaxAttempts int

	// Backoff returns the wait before retry n (0-based).
	Backoff func(retry int) time.Duration

	// Retryable reports whether an error is worth retrying.
	Retryable func(error) bool

	// Clock defaults to the wall clock.
	Clock Clock
}

// DefaultRetryPolicy retries temporary transport errors maxRetries times
// with exponential backoff: base, 2*base, 4*base, ...
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryPolicy{
		MaxAttempts: maxRetries + 1,
		Backoff:     ExponentialBackoff,
		Retryable:   IsRetryable,
	}
}

// ExponentialBackoff returns backoffBase * 2^retry.
func ExponentialBackoff(retry int) time.Duration {
	return time.Duration(math.Pow(2, float64(retry))) * backoffBase
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts
// run out. onRetry, if set, is called before each wait. Cancelling ctx
// aborts a wait.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error, onRetry func(retry int, err error)) error {
	attempts := max(p.MaxAttempts, 1)
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt-1, lastErr)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(backoff(attempt - 1)):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// RetryingExtractor retries the wrapped extractor per Policy.
type RetryingExtractor struct {
	Next   Extractor
	Policy RetryPolicy
	Log    *logging.Logger

	// OnRetry, if set, observes each retry (for metrics).
	OnRetry func(attempt int, err error)
}

// Extract implements Extractor. On failure the last response is returned
// alongside the error so token usage is not lost.
func (r *RetryingExtractor) Extract(ctx context.Context, req Request) (Response, error) {
	log := r.Log
	if log == nil {
		log = logging.NewNop()
	}

	var resp Response
	err := r.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = r.Next.Extract(ctx, req)
		return err
	}, func(retry int, err error) {
		log.Warn(ctx, "extract_retry", zap.Int("attempt", retry+1), zap.Error(err))
		if r.OnRetry != nil {
			r.OnRetry(retry+1, err)
		}
	})
	return resp, err
}
