// Package google provides ChatModel adapter for Google Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dshills/weavegraph/graph/model"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gemini-2.5-flash"

// ChatModel implements model.ChatModel for Google's Gemini API.
//
// The system prompt and user message are sent as a single text part
// ("system\n\nuser") followed by one inline-data part per image.
// Safety blocks are reported as *SafetyFilterError.
//
// Example usage:
//
//	m := google.NewChatModel(os.Getenv("GOOGLE_GEMINI_API_KEY"))
//	out, err := m.Chat(ctx, model.Request{
//	    Model:       "gemini-2.5-flash",
//	    UserMessage: "Describe this picture.",
//	    Images:      images,
//	})
//	if err != nil {
//	    var safetyErr *google.SafetyFilterError
//	    if errors.As(err, &safetyErr) {
//	        log.Printf("Content blocked: %s", safetyErr.Category())
//	        return
//	    }
//	    log.Fatal(err)
//	}
//	fmt.Println(out.Text)
type ChatModel struct {
	apiKey string
	client googleClient
}

// googleClient defines the interface for Google Gemini API operations.
// This allows for easy mocking in tests.
type googleClient interface {
	generateContent(ctx context.Context, modelName string, parts []genai.Part) (*genai.GenerateContentResponse, error)
}

// NewChatModel creates a new Google ChatModel.
func NewChatModel(apiKey string) *ChatModel {
	return &ChatModel{
		apiKey: apiKey,
		client: &defaultClient{apiKey: apiKey},
	}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, req model.Request) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	modelName := req.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	resp, err := m.client.generateContent(ctx, modelName, convertRequest(req))
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(resp)
}

// convertRequest builds the content parts for a request.
func convertRequest(req model.Request) []genai.Part {
	parts := []genai.Part{genai.Text(model.Prompt(req))}
	for _, img := range req.Images {
		parts = append(parts, genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}
	return parts
}

// convertResponse extracts text and usage from the first candidate.
func convertResponse(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	if resp == nil {
		return model.ChatOut{}, errors.New("nil response from Google API")
	}

	out := model.ChatOut{}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	if len(resp.Candidates) == 0 {
		return out, nil
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return model.ChatOut{}, &SafetyFilterError{reason: "SAFETY", category: safetyCategory(candidate)}
	}
	if candidate.Content == nil {
		return out, nil
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	out.Text = sb.String()
	return out, nil
}

func safetyCategory(c *genai.Candidate) string {
	for _, r := range c.SafetyRatings {
		if r.Blocked {
			return r.Category.String()
		}
	}
	return "unspecified"
}

// httpCoder is satisfied by the API error types the Google client
// libraries return.
type httpCoder interface {
	HTTPCode() int
}

// translateError wraps SDK errors in *model.ProviderError, keeping the
// HTTP status when one is available.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		category := "unspecified"
		if blocked.Candidate != nil {
			category = safetyCategory(blocked.Candidate)
		}
		return &SafetyFilterError{reason: blocked.Error(), category: category}
	}

	pe := &model.ProviderError{Provider: "google", Message: err.Error(), Cause: err}
	var gerr *googleapi.Error
	var coder httpCoder
	switch {
	case errors.As(err, &gerr):
		pe.StatusCode = gerr.Code
		if gerr.Message != "" {
			pe.Message = gerr.Message
		}
	case errors.As(err, &coder):
		pe.StatusCode = coder.HTTPCode()
	}
	return pe
}

// defaultClient wraps the official Google Gemini SDK client.
type defaultClient struct {
	apiKey string
}

func (c *defaultClient) generateContent(ctx context.Context, modelName string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	if c.apiKey == "" {
		return nil, errors.New("invalid api key: GOOGLE_GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() { _ = client.Close() }()

	return client.GenerativeModel(modelName).GenerateContent(ctx, parts...)
}

// SafetyFilterError represents a Google safety filter block.
//
// Use errors.As to check for this error type:
//
//	var safetyErr *google.SafetyFilterError
//	if errors.As(err, &safetyErr) {
//	    log.Printf("Content blocked: %s", safetyErr.Category())
//	}
type SafetyFilterError struct {
	reason   string
	category string
}

// Error implements the error interface.
func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the safety category that triggered the block.
func (e *SafetyFilterError) Category() string {
	return e.category
}

// Reason returns why the content was blocked.
func (e *SafetyFilterError) Reason() string {
	return e.reason
}
