package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/model"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{errors.New("googleapi: Error 503: Service Unavailable"), CategoryOverloaded},
		{errors.New("model is overloaded"), CategoryOverloaded},
		{errors.New("429 Too Many Requests"), CategoryRateLimited},
		{errors.New("Resource has been exhausted (e.g. check quota)."), CategoryQuota},
		{errors.New("billing account disabled"), CategoryQuota},
		{errors.New("API key not valid: invalid API key"), CategoryInvalidKey},
		{errors.New("401 Unauthorized"), CategoryInvalidKey},
		{errors.New("llm call timeout after 1m0s: context deadline exceeded"), CategoryTimeout},
		{errors.New("network is unreachable"), CategoryNetwork},
		{errors.New("dial tcp: ECONNREFUSED"), CategoryNetwork},
		{fmt.Errorf("model %q not found: %w", "llama-3", model.ErrUnsupportedModel), CategoryModelNotFound},
		{context.DeadlineExceeded, CategoryTimeout},
		{errors.New("something odd"), CategoryGeneric},
		// Table order wins: a rate limit mentioning quota is rate limited.
		{errors.New("429 quota exceeded"), CategoryRateLimited},
	}
	for _, tt := range tests {
		got := Translate(tt.err)
		if got.Category != tt.want {
			t.Errorf("Translate(%q).Category = %s, want %s", tt.err, got.Category, tt.want)
		}
		if !errors.Is(got, tt.err) {
			t.Errorf("Translate(%q) lost its cause", tt.err)
		}
	}

	if got := Translate(errors.New("something odd")); got.Message != "something odd" {
		t.Errorf("generic message = %q", got.Message)
	}
	if got := Translate(graph.NewValidationError("n", "userMessage", "User message is required")); got.Message != "User message is required" || got.Category != CategoryValidation {
		t.Errorf("validation = %+v", got)
	}
	if Translate(nil) != nil {
		t.Error("Translate(nil) != nil")
	}
	re := &RunError{Category: CategoryQuota, Message: "kept"}
	if Translate(fmt.Errorf("wrapped: %w", re)) != re {
		t.Error("existing RunError not passed through")
	}
}

func TestTranslateForNamesProviderKey(t *testing.T) {
	keyErr := errors.New("401 Unauthorized")
	tests := map[string]string{
		"gemini-2.5-flash":  "GOOGLE_GEMINI_API_KEY",
		"claude-sonnet-4-5": "ANTHROPIC_API_KEY",
		"gpt-4o-mini":       "OPENAI_API_KEY",
	}
	for modelName, env := range tests {
		got := TranslateFor(keyErr, modelName)
		if got.Category != CategoryInvalidKey || !strings.Contains(got.Message, env) {
			t.Errorf("TranslateFor(%s) = %+v, want message naming %s", modelName, got, env)
		}
		if !errors.Is(got, keyErr) {
			t.Errorf("TranslateFor(%s) lost its cause", modelName)
		}
	}

	if got := TranslateFor(keyErr, "llama-3"); strings.Contains(got.Message, "_API_KEY") {
		t.Errorf("unknown provider message = %q", got.Message)
	}
	if got := TranslateFor(errors.New("503"), "claude-sonnet-4-5"); got.Category != CategoryOverloaded {
		t.Errorf("non-key error category = %s", got.Category)
	}
	if TranslateFor(nil, "gpt-4o") != nil {
		t.Error("TranslateFor(nil) != nil")
	}
}

func TestRetryReason(t *testing.T) {
	tests := map[string]string{
		"503 Service Unavailable":     "503",
		"the model is overloaded":     "overloaded",
		"Rate limit reached":          "rate limit",
		"HTTP 429":                    "429",
		"quota exceeded":              "quota",
		"request timeout":             "timeout",
		"invalid api key":             "",
		"400 bad request: bad schema": "",
	}
	for msg, want := range tests {
		if got := RetryReason(errors.New(msg)); got != want {
			t.Errorf("RetryReason(%q) = %q, want %q", msg, got, want)
		}
	}
	if IsRetryable(fmt.Errorf("503: %w", context.Canceled)) {
		t.Error("canceled context retried")
	}
	if IsRetryable(nil) {
		t.Error("nil retried")
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	rp := DefaultLLMRetry()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := rp.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
	if err := rp.Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}
	if rp.shouldRetry(4, errors.New("503")) {
		t.Error("retry allowed after the last attempt")
	}
	if !rp.shouldRetry(3, errors.New("503")) {
		t.Error("retry refused before the last attempt")
	}

	bad := []RetryPolicy{
		{MaxAttempts: 0},
		{MaxAttempts: 2, BaseDelay: -time.Second},
		{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Millisecond},
	}
	for _, p := range bad {
		if p.Validate() == nil {
			t.Errorf("policy %+v accepted", p)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	_, err := withTimeout(context.Background(), 5*time.Millisecond, "crop", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if err == nil || !errors.Is(err, context.DeadlineExceeded) || RetryReason(err) != "timeout" {
		t.Errorf("err = %v", err)
	}

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = withTimeout(parent, time.Second, "crop", func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) || RetryReason(err) != "" {
		t.Errorf("canceled parent err = %v", err)
	}

	out, err := withTimeout(context.Background(), 0, "crop", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if out != "ok" || err != nil {
		t.Errorf("no timeout = %q, %v", out, err)
	}
}
