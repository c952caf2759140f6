// Package anthropic provides a ChatModel adapter for Anthropic's Claude API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/weavegraph/graph/model"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultMaxTokens bounds the length of a response.
const DefaultMaxTokens = 4096

// ChatModel implements model.ChatModel for Anthropic's Claude API.
//
// The system prompt travels in Anthropic's separate system parameter; the
// user message and images form a single user turn.
//
// Example usage:
//
//	m := anthropic.NewChatModel(os.Getenv("ANTHROPIC_API_KEY"))
//	out, err := m.Chat(ctx, model.Request{
//	    Model:       "claude-sonnet-4-20250514",
//	    UserMessage: "What is the capital of France?",
//	})
type ChatModel struct {
	client    anthropicClient
	maxTokens int64
}

// anthropicClient defines the interface for Anthropic API operations.
// This allows for easy mocking in tests.
type anthropicClient interface {
	createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// NewChatModel creates a new Anthropic ChatModel.
func NewChatModel(apiKey string) *ChatModel {
	return &ChatModel{
		client:    newDefaultClient(apiKey),
		maxTokens: DefaultMaxTokens,
	}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, req model.Request) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	message, err := m.client.createMessage(ctx, m.buildParams(req))
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	return convertResponse(message), nil
}

func (m *ChatModel) buildParams(req model.Request) anthropic.MessageNewParams {
	modelName := req.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	maxTokens := m.maxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.UserMessage)}
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType(img.MIMEType), img.Base64()))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params
}

// mediaType maps normalized MIME types onto the set Claude accepts.
func mediaType(mime string) string {
	if mime == "image/jpg" {
		return "image/jpeg"
	}
	return mime
}

func convertResponse(message *anthropic.Message) model.ChatOut {
	if message == nil {
		return model.ChatOut{}
	}
	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return model.ChatOut{
		Text: sb.String(),
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
}

// translateError converts Anthropic SDK errors to *model.ProviderError.
//
// Anthropic error types include authentication_error, rate_limit_error,
// overloaded_error and invalid_request_error; the status code and the
// SDK's message are preserved for classification.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &model.ProviderError{Provider: "anthropic", Message: err.Error(), Cause: err}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}

// defaultClient wraps the official anthropic-sdk-go client.
type defaultClient struct {
	client *anthropic.Client
	apiKey string
}

func newDefaultClient(apiKey string) *defaultClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &defaultClient{client: &client, apiKey: apiKey}
}

func (c *defaultClient) createMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if c.apiKey == "" {
		return nil, errors.New("invalid api key: ANTHROPIC_API_KEY is not set")
	}
	return c.client.Messages.New(ctx, params)
}
