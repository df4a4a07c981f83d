// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract is the boundary to the language model that turns a
// rendered batch of fragments into raw requirement JSON. Backends are
// interchangeable; retry and rate limiting wrap any backend.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pdiddy/compliance-engine/internal/httputil"
	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

// Provider names accepted by NewExtractor.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Request is one extraction call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Response is the raw model output with token usage.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Extractor abstracts the model API so tests can supply a fake. Per the
// Strategy pattern each implementation handles one provider.
type Extractor interface {
	Extract(ctx context.Context, req Request) (Response, error)
}

var (
	// ErrEmptyResponse means the model returned no usable text.
	ErrEmptyResponse = errors.New("extractor returned an empty response")

	// ErrMalformedJSON means the model text could not be decoded as JSON.
	ErrMalformedJSON = errors.New("extractor returned malformed JSON")
)

// TransportError is a failure to get a response from the provider: a
// network error (StatusCode 0) or a non-200 status.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s returned %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether retrying may succeed. Client errors other than
// 429 are permanent.
func (e *TransportError) Temporary() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// IsRetryable reports whether err is a temporary transport failure.
// Cancellation, empty responses and malformed output are not retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

// NewExtractor builds the backend selected by cfg.Provider, wrapped with
// rate limiting (when RequestsPerMinute is set) and retry. The retry wrapper
// is the only layer that retries, so one call makes at most
// cfg.MaxRetries+1 requests.
func NewExtractor(cfg types.AIConfig, log *logging.Logger, onRetry func(attempt int, err error)) (Extractor, error) {
	var backend Extractor
	switch cfg.Provider {
	case "", ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		backend = &ClaudeBackend{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Client:     &http.Client{Timeout: cfg.Timeout},
			MaxRetries: httputil.NoRetry,
		}
	case ProviderOpenAI:
		b, err := NewOpenAIBackend(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown extractor provider %q", cfg.Provider)
	}

	if cfg.RequestsPerMinute > 0 {
		backend = NewRateLimited(backend, cfg.RequestsPerMinute)
	}
	return &RetryingExtractor{
		Next:    backend,
		Policy:  DefaultRetryPolicy(cfg.MaxRetries),
		Log:     log,
		OnRetry: onRetry,
	}, nil
}
