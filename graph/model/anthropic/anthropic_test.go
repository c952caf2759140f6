package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/dshills/weavegraph/graph/model"
)

type mockAnthropicClient struct {
	message   *anthropic.Message
	err       error
	params    anthropic.MessageNewParams
	callCount int
}

func (m *mockAnthropicClient) createMessage(_ context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	m.callCount++
	m.params = params
	return m.message, m.err
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   anthropic.Usage{InputTokens: 20, OutputTokens: 5},
	}
}

func TestAnthropicChatModel_Chat(t *testing.T) {
	t.Run("system prompt is separate", func(t *testing.T) {
		mock := &mockAnthropicClient{message: textMessage("Paris")}
		m := &ChatModel{client: mock, maxTokens: 100}

		out, err := m.Chat(context.Background(), model.Request{
			Model:        "claude-3-5-haiku-latest",
			SystemPrompt: "Answer in one word.",
			UserMessage:  "Capital of France?",
		})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != "Paris" {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 20 || out.Usage.OutputTokens != 5 {
			t.Errorf("Usage = %+v", out.Usage)
		}
		if len(mock.params.System) != 1 || mock.params.System[0].Text != "Answer in one word." {
			t.Errorf("System = %+v", mock.params.System)
		}
		if string(mock.params.Model) != "claude-3-5-haiku-latest" || mock.params.MaxTokens != 100 {
			t.Errorf("params = %s/%d", mock.params.Model, mock.params.MaxTokens)
		}
	})

	t.Run("images follow the text block", func(t *testing.T) {
		mock := &mockAnthropicClient{message: textMessage("a cat")}
		m := &ChatModel{client: mock}

		_, err := m.Chat(context.Background(), model.Request{
			UserMessage: "What is this?",
			Images: []model.Image{
				{MIMEType: "image/jpg", Data: []byte("jpeg")},
				{MIMEType: "image/png", Data: []byte("png")},
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(mock.params.Messages) != 1 {
			t.Fatalf("messages = %d", len(mock.params.Messages))
		}
		blocks := mock.params.Messages[0].Content
		if len(blocks) != 3 {
			t.Fatalf("blocks = %d, want 3", len(blocks))
		}
		if blocks[0].OfText == nil || blocks[0].OfText.Text != "What is this?" {
			t.Errorf("first block = %+v", blocks[0])
		}
		if blocks[1].OfImage == nil || blocks[2].OfImage == nil {
			t.Error("image blocks missing")
		}
		if len(mock.params.System) != 0 {
			t.Error("empty system prompt was sent")
		}
		if string(mock.params.Model) != DefaultModel {
			t.Errorf("model = %q", mock.params.Model)
		}
	})

	t.Run("errors become provider errors", func(t *testing.T) {
		mock := &mockAnthropicClient{err: errors.New("overloaded_error: Overloaded")}
		m := &ChatModel{client: mock}

		_, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"})
		var pe *model.ProviderError
		if !errors.As(err, &pe) || pe.Provider != "anthropic" {
			t.Fatalf("err = %v, want anthropic ProviderError", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewChatModel("").Chat(context.Background(), model.Request{UserMessage: "hi"})
		if err == nil {
			t.Fatal("expected error without API key")
		}
	})
}

func TestMediaType(t *testing.T) {
	if got := mediaType("image/jpg"); got != "image/jpeg" {
		t.Errorf("mediaType(image/jpg) = %q", got)
	}
	if got := mediaType("image/webp"); got != "image/webp" {
		t.Errorf("mediaType(image/webp) = %q", got)
	}
}
