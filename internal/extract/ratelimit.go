// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedExtractor waits on a token bucket before each call.
type RateLimitedExtractor struct {
	next    Extractor
	limiter *rate.Limiter
}

// NewRateLimited allows at most requestsPerMinute calls per minute, with no
// burst.
func NewRateLimited(next Extractor, requestsPerMinute int) *RateLimitedExtractor {
	return &RateLimitedExtractor{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Extract implements Extractor.
func (r *RateLimitedExtractor) Extract(ctx context.Context, req Request) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Extract(ctx, req)
}
