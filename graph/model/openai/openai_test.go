package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"

	"github.com/dshills/weavegraph/graph/model"
)

type mockOpenAIClient struct {
	completion *openai.ChatCompletion
	err        error
	params     openai.ChatCompletionNewParams
	callCount  int
}

func (m *mockOpenAIClient) createChatCompletion(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	m.callCount++
	m.params = params
	return m.completion, m.err
}

func completion(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: text},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 7, CompletionTokens: 2},
	}
}

func TestOpenAIChatModel_Chat(t *testing.T) {
	t.Run("text only", func(t *testing.T) {
		mock := &mockOpenAIClient{completion: completion("Hello!")}
		m := &ChatModel{client: mock}

		out, err := m.Chat(context.Background(), model.Request{
			Model:        "gpt-4o",
			SystemPrompt: "Be friendly.",
			UserMessage:  "Hi",
		})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != "Hello!" || out.Usage.InputTokens != 7 || out.Usage.OutputTokens != 2 {
			t.Errorf("out = %+v", out)
		}
		if len(mock.params.Messages) != 2 {
			t.Fatalf("messages = %d, want 2", len(mock.params.Messages))
		}
		if mock.params.Messages[0].OfSystem == nil || mock.params.Messages[1].OfUser == nil {
			t.Error("expected system then user message")
		}
		if string(mock.params.Model) != "gpt-4o" {
			t.Errorf("model = %q", mock.params.Model)
		}
	})

	t.Run("images become content parts", func(t *testing.T) {
		mock := &mockOpenAIClient{completion: completion("a dog")}
		m := &ChatModel{client: mock}

		_, err := m.Chat(context.Background(), model.Request{
			UserMessage: "Describe",
			Images:      []model.Image{{MIMEType: "image/png", Data: []byte("ABC")}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(mock.params.Messages) != 1 {
			t.Fatalf("messages = %d, want 1", len(mock.params.Messages))
		}
		user := mock.params.Messages[0].OfUser
		if user == nil {
			t.Fatal("expected user message")
		}
		parts := user.Content.OfArrayOfContentParts
		if len(parts) != 2 {
			t.Fatalf("parts = %d, want 2", len(parts))
		}
		if parts[1].OfImageURL == nil || parts[1].OfImageURL.ImageURL.URL != "data:image/png;base64,QUJD" {
			t.Errorf("image part = %+v", parts[1])
		}
		if string(mock.params.Model) != DefaultModel {
			t.Errorf("model = %q, want default", mock.params.Model)
		}
	})

	t.Run("empty choices", func(t *testing.T) {
		m := &ChatModel{client: &mockOpenAIClient{completion: &openai.ChatCompletion{}}}
		if _, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"}); err == nil {
			t.Error("expected error for empty choices")
		}
	})

	t.Run("errors become provider errors", func(t *testing.T) {
		m := &ChatModel{client: &mockOpenAIClient{err: errors.New("429 Too Many Requests")}}
		_, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"})
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Provider != "openai" {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("context errors pass through", func(t *testing.T) {
		m := &ChatModel{client: &mockOpenAIClient{err: context.DeadlineExceeded}}
		_, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v", err)
		}
	})
}
