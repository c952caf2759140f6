package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/model"
)

var (
	// ErrNotRunnable is returned when Run targets a passive node.
	ErrNotRunnable = errors.New("node type has no run action")

	// ErrNoExecutor is returned when no executor is registered for an
	// active node type.
	ErrNoExecutor = errors.New("no executor registered for node type")
)

// Category classifies a failed run for display and metrics.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryOverloaded    Category = "overloaded"
	CategoryRateLimited   Category = "rate_limited"
	CategoryQuota         Category = "quota"
	CategoryInvalidKey    Category = "invalid_key"
	CategoryTimeout       Category = "timeout"
	CategoryNetwork       Category = "network"
	CategoryModelNotFound Category = "model_not_found"
	CategoryGeneric       Category = "generic"
)

// RunError is a failed node run translated for end users. Message is safe
// to show; Cause keeps the provider's error.
type RunError struct {
	Category Category
	Message  string
	Cause    error
}

func (e *RunError) Error() string { return e.Message }

func (e *RunError) Unwrap() error { return e.Cause }

// translation is checked in order against the lower-cased error message.
var translation = []struct {
	category Category
	signals  []string
	message  string
}{
	{CategoryOverloaded, []string{"503", "service unavailable", "overloaded"},
		"The AI model is currently overloaded. Please wait a few moments and try again."},
	{CategoryRateLimited, []string{"429", "rate limit", "too many requests"},
		"Rate limit exceeded. Please wait a moment and try again."},
	{CategoryQuota, []string{"quota", "billing"},
		"API quota exceeded. Please check your API key limits."},
	{CategoryInvalidKey, []string{"invalid api key", "authentication", "401"},
		"Invalid API key. Please check your API key in environment variables."},
	{CategoryTimeout, []string{"timeout"}, timeoutMessage},
	{CategoryNetwork, []string{"network", "fetch", "econnrefused"},
		"Network error. Please check your internet connection and try again."},
}

const (
	timeoutMessage       = "Request timed out. The model is taking too long to respond. Please try again."
	modelNotFoundMessage = "The selected model is not available. Please try a different model."
)

// Translate maps err onto a RunError with a friendly message. Validation
// errors keep their own message; unmatched errors keep the original text.
// A nil err returns nil.
func Translate(err error) *RunError {
	if err == nil {
		return nil
	}
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	var ve *graph.ValidationError
	if errors.As(err, &ve) {
		return &RunError{Category: CategoryValidation, Message: ve.Message, Cause: err}
	}

	msg := strings.ToLower(err.Error())
	for _, t := range translation {
		if containsAny(msg, t.signals) {
			return &RunError{Category: t.category, Message: t.message, Cause: err}
		}
	}
	if strings.Contains(msg, "model") && strings.Contains(msg, "not found") {
		return &RunError{Category: CategoryModelNotFound, Message: modelNotFoundMessage, Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RunError{Category: CategoryTimeout, Message: timeoutMessage, Cause: err}
	}
	return &RunError{Category: CategoryGeneric, Message: err.Error(), Cause: err}
}

// TranslateFor is Translate for a failed call to modelName. Invalid key
// messages name the environment variable of the model's provider.
func TranslateFor(err error, modelName string) *RunError {
	re := Translate(err)
	if re == nil || re.Category != CategoryInvalidKey {
		return re
	}
	env := model.APIKeyEnv(model.ProviderFor(modelName))
	if env == "" {
		return re
	}
	return &RunError{
		Category: re.Category,
		Message:  fmt.Sprintf("Invalid API key. Please check your %s in environment variables.", env),
		Cause:    re.Cause,
	}
}

// retrySignals mark transient provider failures.
var retrySignals = []string{
	"503", "service unavailable", "overloaded",
	"rate limit", "429", "too many requests",
	"quota", "timeout",
}

// RetryReason returns the first transient signal found in err's message,
// or "" when err should not be retried.
func RetryReason(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retrySignals {
		if strings.Contains(msg, s) {
			return s
		}
	}
	return ""
}

// IsRetryable reports whether err carries a transient signal.
func IsRetryable(err error) bool {
	return RetryReason(err) != ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
