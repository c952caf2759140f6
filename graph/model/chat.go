// Package model provides LLM integration adapters.
package model

import (
	"context"
	"fmt"
	"strings"
)

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between providers (Google,
// Anthropic, OpenAI) behind a single multimodal request. Implementations
// should:
//   - Handle provider-specific authentication.
//   - Convert Request to the provider's message format, including images.
//   - Report token usage when the provider returns it.
//   - Respect context cancellation and timeouts.
//   - Wrap provider failures in *ProviderError so callers can classify them.
//
// Implementations do not retry; retry policy belongs to the caller.
//
// Example usage:
//
//	m := google.NewChatModel(apiKey)
//	out, err := m.Chat(ctx, model.Request{
//	    Model:        "gemini-2.5-flash",
//	    SystemPrompt: "Answer in one word.",
//	    UserMessage:  "What is the capital of France?",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text) // "Paris"
type ChatModel interface {
	// Chat sends a single-turn request and returns the generated text.
	Chat(ctx context.Context, req Request) (ChatOut, error)
}

// Request is a single-turn multimodal prompt.
type Request struct {
	// Model is the provider model identifier, e.g. "gemini-2.5-flash".
	Model string

	// SystemPrompt is optional.
	SystemPrompt string

	// UserMessage is the prompt text. Required.
	UserMessage string

	// Images are attached after the text, in order.
	Images []Image
}

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the generated response.
	Text string

	// Usage is zero when the provider did not report token counts.
	Usage Usage
}

// Usage reports token consumption of one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderError wraps a failure reported by an LLM provider.
//
// StatusCode is the HTTP status when the provider SDK exposed one, and 0
// otherwise. Message keeps the provider's own wording so callers can match
// on signals such as "overloaded" or "quota".
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.StatusCode, e.Message)
	}
	return e.Provider + ": " + e.Message
}

// Unwrap returns the underlying SDK error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Prompt returns the text form of a request used by providers that take a
// single text part: the system prompt, a blank line, then the user message.
func Prompt(req Request) string {
	if strings.TrimSpace(req.SystemPrompt) == "" {
		return req.UserMessage
	}
	return req.SystemPrompt + "\n\n" + req.UserMessage
}
