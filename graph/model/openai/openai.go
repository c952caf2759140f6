// Package openai provides a ChatModel adapter for OpenAI's API.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/weavegraph/graph/model"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gpt-4o-mini"

// ChatModel implements model.ChatModel for OpenAI's chat completions API.
//
// Images are sent as data: URI image parts after the text part. The SDK's
// own retries are disabled; retry policy belongs to the caller.
//
// Example usage:
//
//	m := openai.NewChatModel(os.Getenv("OPENAI_API_KEY"))
//	out, err := m.Chat(ctx, model.Request{Model: "gpt-4o", UserMessage: "hi"})
type ChatModel struct {
	client openaiClient
}

// openaiClient defines the interface for OpenAI API operations.
// This allows for easy mocking in tests.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// NewChatModel creates a new OpenAI ChatModel.
func NewChatModel(apiKey string) *ChatModel {
	return &ChatModel{client: newDefaultClient(apiKey)}
}

// Chat implements the model.ChatModel interface.
func (m *ChatModel) Chat(ctx context.Context, req model.Request) (model.ChatOut, error) {
	if ctx.Err() != nil {
		return model.ChatOut{}, ctx.Err()
	}

	completion, err := m.client.createChatCompletion(ctx, buildParams(req))
	if err != nil {
		return model.ChatOut{}, translateError(err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, &model.ProviderError{Provider: "openai", Message: "no response from OpenAI API"}
	}
	return model.ChatOut{
		Text: completion.Choices[0].Message.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func buildParams(req model.Request) openai.ChatCompletionNewParams {
	modelName := req.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	if len(req.Images) == 0 {
		messages = append(messages, openai.UserMessage(req.UserMessage))
	} else {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.UserMessage)}
		for _, img := range req.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: img.DataURI(),
			}))
		}
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		})
	}

	return openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelName),
		Messages: messages,
	}
}

// translateError converts OpenAI SDK errors to *model.ProviderError,
// keeping the HTTP status for classification.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	pe := &model.ProviderError{Provider: "openai", Message: err.Error(), Cause: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}

// defaultClient wraps the official openai-go SDK client.
type defaultClient struct {
	client *openai.Client
	apiKey string
}

func newDefaultClient(apiKey string) *defaultClient {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	return &defaultClient{client: &client, apiKey: apiKey}
}

func (c *defaultClient) createChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if c.apiKey == "" {
		return nil, errors.New("invalid api key: OPENAI_API_KEY is not set")
	}
	return c.client.Chat.Completions.New(ctx, params)
}
