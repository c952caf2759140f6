package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider names.
const (
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ErrUnsupportedModel is returned when no configured provider serves a model.
var ErrUnsupportedModel = errors.New("unsupported model")

// ProviderFor returns the provider that serves modelName, judged by its
// prefix, or "" when the name is not recognized.
func ProviderFor(modelName string) string {
	m := strings.ToLower(strings.TrimSpace(modelName))
	switch {
	case strings.HasPrefix(m, "gemini"), strings.HasPrefix(m, "models/gemini"):
		return ProviderGoogle
	case strings.HasPrefix(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "chatgpt"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderOpenAI
	}
	return ""
}

// APIKeyEnv returns the environment variable holding provider's API key,
// or "" for an unknown provider.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderGoogle:
		return "GOOGLE_GEMINI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	}
	return ""
}

// Router is a ChatModel that dispatches each request to the provider
// serving Request.Model.
//
// Example:
//
//	r := model.NewRouter()
//	r.Register(model.ProviderGoogle, google.NewChatModel(googleKey))
//	r.Register(model.ProviderOpenAI, openai.NewChatModel(openaiKey))
//	out, err := r.Chat(ctx, model.Request{Model: "gpt-4o", UserMessage: "hi"})
type Router struct {
	providers map[string]ChatModel
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{providers: make(map[string]ChatModel)}
}

// Register sets the model serving provider. A nil model removes it.
func (r *Router) Register(provider string, m ChatModel) {
	if m == nil {
		delete(r.providers, provider)
		return
	}
	r.providers[provider] = m
}

// Providers returns the names of registered providers.
func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.providers))
	for _, p := range []string{ProviderGoogle, ProviderAnthropic, ProviderOpenAI} {
		if _, ok := r.providers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Chat implements ChatModel.
func (r *Router) Chat(ctx context.Context, req Request) (ChatOut, error) {
	provider := ProviderFor(req.Model)
	m, ok := r.providers[provider]
	if !ok {
		if provider == "" {
			return ChatOut{}, fmt.Errorf("model %q not found: %w", req.Model, ErrUnsupportedModel)
		}
		return ChatOut{}, fmt.Errorf("model %q not found: %w: %s provider is not configured", req.Model, ErrUnsupportedModel, provider)
	}
	return m.Chat(ctx, req)
}
