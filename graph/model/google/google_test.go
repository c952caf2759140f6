package google

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/dshills/weavegraph/graph/model"
)

type mockGoogleClient struct {
	resp      *genai.GenerateContentResponse
	err       error
	modelName string
	parts     []genai.Part
	callCount int
}

func (m *mockGoogleClient) generateContent(_ context.Context, modelName string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	m.callCount++
	m.modelName = modelName
	m.parts = parts
	return m.resp, m.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}},
		}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 3},
	}
}

func TestGoogleChatModel_Chat(t *testing.T) {
	t.Run("sends prompt and images as parts", func(t *testing.T) {
		mock := &mockGoogleClient{resp: textResponse("a red square")}
		m := &ChatModel{client: mock}

		out, err := m.Chat(context.Background(), model.Request{
			Model:        "gemini-2.5-pro",
			SystemPrompt: "Be terse.",
			UserMessage:  "What is this?",
			Images:       []model.Image{{MIMEType: "image/png", Data: []byte("png")}},
		})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if out.Text != "a red square" {
			t.Errorf("Text = %q", out.Text)
		}
		if out.Usage.InputTokens != 12 || out.Usage.OutputTokens != 3 {
			t.Errorf("Usage = %+v", out.Usage)
		}
		if mock.modelName != "gemini-2.5-pro" {
			t.Errorf("model = %q", mock.modelName)
		}
		if len(mock.parts) != 2 {
			t.Fatalf("parts = %d, want 2", len(mock.parts))
		}
		if text, ok := mock.parts[0].(genai.Text); !ok || string(text) != "Be terse.\n\nWhat is this?" {
			t.Errorf("text part = %#v", mock.parts[0])
		}
		if blob, ok := mock.parts[1].(genai.Blob); !ok || blob.MIMEType != "image/png" {
			t.Errorf("image part = %#v", mock.parts[1])
		}
	})

	t.Run("uses default model", func(t *testing.T) {
		mock := &mockGoogleClient{resp: textResponse("ok")}
		m := &ChatModel{client: mock}
		if _, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"}); err != nil {
			t.Fatal(err)
		}
		if mock.modelName != DefaultModel {
			t.Errorf("model = %q, want %q", mock.modelName, DefaultModel)
		}
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		mock := &mockGoogleClient{resp: textResponse("ok")}
		m := &ChatModel{client: mock}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Chat(ctx, model.Request{UserMessage: "hi"}); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
		if mock.callCount != 0 {
			t.Error("API called with cancelled context")
		}
	})
}

func TestGoogleChatModel_Errors(t *testing.T) {
	t.Run("api error keeps status", func(t *testing.T) {
		mock := &mockGoogleClient{err: &googleapi.Error{Code: 503, Message: "The model is overloaded."}}
		m := &ChatModel{client: mock}

		_, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"})
		var pe *model.ProviderError
		if !errors.As(err, &pe) {
			t.Fatalf("err = %T, want *model.ProviderError", err)
		}
		if pe.StatusCode != 503 || pe.Provider != "google" {
			t.Errorf("ProviderError = %+v", pe)
		}
	})

	t.Run("safety finish reason", func(t *testing.T) {
		resp := &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonSafety,
				SafetyRatings: []*genai.SafetyRating{
					{Category: genai.HarmCategoryDangerousContent, Blocked: true},
				},
			}},
		}
		m := &ChatModel{client: &mockGoogleClient{resp: resp}}

		_, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"})
		var safetyErr *SafetyFilterError
		if !errors.As(err, &safetyErr) {
			t.Fatalf("err = %v, want *SafetyFilterError", err)
		}
		if safetyErr.Category() == "" || safetyErr.Reason() != "SAFETY" {
			t.Errorf("SafetyFilterError = %+v", safetyErr)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		m := NewChatModel("")
		_, err := m.Chat(context.Background(), model.Request{UserMessage: "hi"})
		if err == nil {
			t.Fatal("expected error without API key")
		}
	})
}

func TestConvertResponse_Empty(t *testing.T) {
	out, err := convertResponse(&genai.GenerateContentResponse{})
	if err != nil || out.Text != "" {
		t.Errorf("empty response = %+v, %v", out, err)
	}
	if _, err := convertResponse(nil); err == nil {
		t.Error("nil response accepted")
	}
}
