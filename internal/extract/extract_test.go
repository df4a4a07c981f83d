// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/compliance-engine/internal/httputil"
	"github.com/pdiddy/compliance-engine/internal/logging"
	"github.com/pdiddy/compliance-engine/pkg/types"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

// --- fakes ---

// scriptedExtractor returns errs in order, then resp.
type scriptedExtractor struct {
	errs  []error
	resp  Response
	calls int
}

func (s *scriptedExtractor) Extract(_ context.Context, _ Request) (Response, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return Response{InputTokens: 1}, s.errs[s.calls-1]
	}
	return s.resp, nil
}

// instantClock fires immediately and records the requested waits.
type instantClock struct{ waits []time.Duration }

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// stoppedClock never fires.
type stoppedClock struct{}

func (stoppedClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

func transient(status int) error {
	return &TransportError{Provider: "test", StatusCode: status, Err: errors.New("boom")}
}

// --- retry ---

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", transient(0), true},
		{"rate limited", transient(http.StatusTooManyRequests), true},
		{"server error", transient(http.StatusInternalServerError), true},
		{"overloaded", transient(httputil.StatusOverloaded), true},
		{"bad request", transient(http.StatusBadRequest), false},
		{"unauthorized", transient(http.StatusUnauthorized), false},
		{"wrapped", fmt.Errorf("batch 3: %w", transient(502)), true},
		{"empty response", ErrEmptyResponse, false},
		{"malformed", ErrMalformedJSON, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"plain error", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestExponentialBackoff(t *testing.T) {
	assert.Equal(t, time.Millisecond, ExponentialBackoff(0))
	assert.Equal(t, 2*time.Millisecond, ExponentialBackoff(1))
	assert.Equal(t, 4*time.Millisecond, ExponentialBackoff(2))
}

func TestRetryPolicyDo(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		clock := &instantClock{}
		p := DefaultRetryPolicy(3)
		p.Clock = clock

		calls := 0
		var retries []int
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return transient(503)
			}
			return nil
		}, func(retry int, _ error) { retries = append(retries, retry) })

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{0, 1}, retries)
		assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, clock.waits)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		p := DefaultRetryPolicy(3)
		p.Clock = &instantClock{}
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return transient(http.StatusBadRequest)
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		p := DefaultRetryPolicy(2)
		p.Clock = &instantClock{}
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return transient(500)
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Contains(t, err.Error(), "after 3 attempts")
		var te *TransportError
		assert.ErrorAs(t, err, &te)
	})

	t.Run("zero retries calls once", func(t *testing.T) {
		p := DefaultRetryPolicy(0)
		calls := 0
		err := p.Do(context.Background(), func(context.Context) error {
			calls++
			return transient(500)
		}, nil)
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation aborts the wait", func(t *testing.T) {
		p := DefaultRetryPolicy(3)
		p.Clock = stoppedClock{}
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := p.Do(ctx, func(context.Context) error {
			calls++
			cancel()
			return transient(500)
		}, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryingExtractor(t *testing.T) {
	logger := logging.NewTestLogger()
	next := &scriptedExtractor{
		errs: []error{transient(529)},
		resp: Response{Text: "[]", InputTokens: 10, OutputTokens: 2},
	}
	var observed []int
	r := &RetryingExtractor{
		Next:    next,
		Policy:  RetryPolicy{MaxAttempts: 3, Retryable: IsRetryable, Clock: &instantClock{}},
		Log:     logger.Logger,
		OnRetry: func(attempt int, _ error) { observed = append(observed, attempt) },
	}

	resp, err := r.Extract(context.Background(), Request{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "[]", resp.Text)
	assert.Equal(t, 2, next.calls)
	assert.Equal(t, []int{1}, observed)
	logger.AssertLogged(t, zapcore.WarnLevel, "extract_retry")
}

func TestRetryingExtractorKeepsUsageOnFailure(t *testing.T) {
	next := &scriptedExtractor{errs: []error{ErrEmptyResponse}}
	r := &RetryingExtractor{Next: next, Policy: DefaultRetryPolicy(3)}

	resp, err := r.Extract(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, 1, resp.InputTokens)
	assert.Equal(t, 1, next.calls)
}

// --- rate limiting ---

func TestRateLimitedExtractor(t *testing.T) {
	next := &scriptedExtractor{resp: Response{Text: "ok"}}
	r := NewRateLimited(next, 6000)

	resp, err := r.Extract(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Extract(ctx, Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
	assert.Equal(t, 1, next.calls)
}

// --- factory ---

func TestNewExtractor(t *testing.T) {
	t.Run("anthropic requires a key", func(t *testing.T) {
		_, err := NewExtractor(types.AIConfig{Provider: ProviderAnthropic}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("openai requires a key", func(t *testing.T) {
		_, err := NewExtractor(types.AIConfig{Provider: ProviderOpenAI}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewExtractor(types.AIConfig{Provider: "bard", APIKey: "k"}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bard")
	})

	t.Run("default provider is anthropic", func(t *testing.T) {
		ex, err := NewExtractor(types.AIConfig{APIKey: "k", MaxRetries: 2}, nil, nil)
		require.NoError(t, err)
		r, ok := ex.(*RetryingExtractor)
		require.True(t, ok)
		require.IsType(t, &ClaudeBackend{}, r.Next)
		assert.Equal(t, httputil.NoRetry, r.Next.(*ClaudeBackend).MaxRetries)
		assert.Equal(t, 3, r.Policy.MaxAttempts)
	})

	t.Run("rate limit wraps the backend", func(t *testing.T) {
		ex, err := NewExtractor(types.AIConfig{Provider: ProviderOpenAI, APIKey: "k", RequestsPerMinute: 30}, nil, nil)
		require.NoError(t, err)
		r := ex.(*RetryingExtractor)
		assert.IsType(t, &RateLimitedExtractor{}, r.Next)
	})
}

func TestNewExtractorRetryBound(t *testing.T) {
	var calls atomic.Int32
	useClaudeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(httputil.StatusOverloaded)
	})

	var retries []int
	ex, err := NewExtractor(types.AIConfig{APIKey: "k", MaxRetries: 3}, nil, func(attempt int, _ error) {
		retries = append(retries, attempt)
	})
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), Request{User: "frags"})
	require.Error(t, err)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, httputil.StatusOverloaded, te.StatusCode)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []int{1, 2, 3}, retries)
}

// --- Claude backend ---

func useClaudeServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	orig := claudeAPIURL
	claudeAPIURL = srv.URL
	t.Cleanup(func() { claudeAPIURL = orig })
}

func TestClaudeBackendExtract(t *testing.T) {
	var got claudeRequest
	useClaudeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": `[{"rule_type":`},
				{"type": "text", "text": `"risk_statement"}]`},
			},
			"usage": map[string]int{"input_tokens": 120, "output_tokens": 30},
		})
	})

	c := &ClaudeBackend{APIKey: "secret", Model: "test-model"}
	resp, err := c.Extract(context.Background(), Request{System: "sys", User: "frags", Temperature: 0.1})
	require.NoError(t, err)

	assert.Equal(t, `[{"rule_type":"risk_statement"}]`, resp.Text)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 30, resp.OutputTokens)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "frags", got.Messages[0].Content)
}

func TestClaudeBackendRetriesOverload(t *testing.T) {
	calls := 0
	useClaudeServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(httputil.StatusOverloaded)
			return
		}
		var body claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "frags", body.Messages[0].Content)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"[]"}]}`)
	})

	c := &ClaudeBackend{APIKey: "k", MaxRetries: 2}
	resp, err := c.Extract(context.Background(), Request{User: "frags"})
	require.NoError(t, err)
	assert.Equal(t, "[]", resp.Text)
	assert.Equal(t, 2, calls)
}

func TestClaudeBackendErrors(t *testing.T) {
	t.Run("client error is permanent", func(t *testing.T) {
		useClaudeServer(t, func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
		})
		_, err := (&ClaudeBackend{APIKey: "k"}).Extract(context.Background(), Request{})
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadRequest, te.StatusCode)
		assert.Contains(t, te.Error(), "bad model")
		assert.False(t, IsRetryable(err))
	})

	t.Run("server error is temporary", func(t *testing.T) {
		useClaudeServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := (&ClaudeBackend{APIKey: "k"}).Extract(context.Background(), Request{})
		assert.True(t, IsRetryable(err))
	})

	t.Run("empty text", func(t *testing.T) {
		useClaudeServer(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"content":[{"type":"text","text":"  "}],"usage":{"input_tokens":7,"output_tokens":1}}`)
		})
		resp, err := (&ClaudeBackend{APIKey: "k"}).Extract(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrEmptyResponse)
		assert.Equal(t, 7, resp.InputTokens)
	})
}

// --- OpenAI backend ---

func newOpenAIServer(t *testing.T, h http.HandlerFunc) types.AIConfig {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return types.AIConfig{Provider: ProviderOpenAI, APIKey: "k", Model: "gpt-test", BaseURL: srv.URL}
}

func TestOpenAIBackendExtract(t *testing.T) {
	var got openai.ChatCompletionRequest
	cfg := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "[]"}},
			},
			Usage: openai.Usage{PromptTokens: 50, CompletionTokens: 5},
		})
	})

	b, err := NewOpenAIBackend(cfg)
	require.NoError(t, err)
	resp, err := b.Extract(context.Background(), Request{System: "sys", User: "frags"})
	require.NoError(t, err)

	assert.Equal(t, "[]", resp.Text)
	assert.Equal(t, 50, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "frags", got.Messages[1].Content)
	assert.Greater(t, got.Temperature, float32(0))
}

func TestOpenAIBackendErrors(t *testing.T) {
	t.Run("server error carries status", func(t *testing.T) {
		cfg := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
		})
		b, err := NewOpenAIBackend(cfg)
		require.NoError(t, err)
		_, err = b.Extract(context.Background(), Request{})
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
		assert.True(t, IsRetryable(err))
	})

	t.Run("no choices", func(t *testing.T) {
		cfg := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
		})
		b, err := NewOpenAIBackend(cfg)
		require.NoError(t, err)
		_, err = b.Extract(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

// --- prompts ---

func TestPromptVersionFor(t *testing.T) {
	assert.Equal(t, PromptV1, PromptVersionFor(0))
	assert.Equal(t, PromptV1, PromptVersionFor(1))
	assert.Equal(t, PromptV1Retry, PromptVersionFor(2))
	assert.Equal(t, PromptV1Retry, PromptVersionFor(5))
}

func TestLoadPrompt(t *testing.T) {
	for _, v := range []string{PromptV1, PromptV1Retry} {
		p, err := LoadPrompt(v)
		require.NoError(t, err, v)
		assert.Equal(t, v, p.Version)
	}

	_, err := LoadPrompt("v9")
	assert.Error(t, err)
}

func TestPromptRender(t *testing.T) {
	sm := &types.SchemaMap{
		DocumentFormat:    "regulatory_docx",
		StructuralPattern: "section_based_prose",
		DocumentCategory:  "regulatory",
		Entities: []types.SchemaEntity{{
			Label:       "deposit_account",
			RecordCount: 12,
			Fields:      []types.SchemaField{{RawLabel: "Account Number", InferredType: "string"}},
		}},
	}

	p, err := LoadPrompt(PromptV1)
	require.NoError(t, err)

	system, err := p.System(sm)
	require.NoError(t, err)
	assert.Contains(t, system, "Document Schema:")
	assert.Contains(t, system, "Format: regulatory_docx")
	assert.Contains(t, system, "deposit_account (12 records)")
	assert.Contains(t, system, "Account Number (string)")
	assert.Contains(t, system, "beneficial_ownership_threshold")

	user, err := p.User("[FRAGMENT: part370-0001]\nBanks must keep records.")
	require.NoError(t, err)
	assert.Contains(t, user, "[FRAGMENT: part370-0001]")

	bare, err := p.System(nil)
	require.NoError(t, err)
	assert.NotContains(t, bare, "Document Schema:")
}

func TestRetryPromptIsStricter(t *testing.T) {
	p, err := LoadPrompt(PromptV1Retry)
	require.NoError(t, err)
	system, err := p.System(nil)
	require.NoError(t, err)
	assert.Contains(t, system, "exact, contiguous span")
	assert.Contains(t, system, "pronoun")
}
