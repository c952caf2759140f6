package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/model"
	"github.com/dshills/weavegraph/graph/store"
)

// LLM runs llm nodes against a ChatModel, usually a *model.Router.
type LLM struct {
	Model  model.ChatModel
	Loader model.ImageLoader
}

// NewLLM returns an LLM executor backed by m.
func NewLLM(m model.ChatModel) *LLM {
	return &LLM{Model: m}
}

// llmInputs is the effective input of one llm run.
type llmInputs struct {
	model        string
	systemPrompt string
	userMessage  string
	images       []string
}

func resolveLLM(d *graph.LLMData, in Inputs) llmInputs {
	li := llmInputs{
		model:        d.Model,
		systemPrompt: d.SystemPrompt,
		userMessage:  d.UserMessage,
		images:       d.Images,
	}
	if li.model == "" {
		li.model = graph.DefaultLLMModel
	}
	if v, ok := in.Text(graph.HandleSystemPrompt); ok {
		li.systemPrompt = v
	}
	if v, ok := in.Text(graph.HandleUserMessage); ok {
		li.userMessage = v
	}
	if imgs := in.Images(graph.HandleImages); len(imgs) > 0 {
		li.images = imgs
	}
	return li
}

// Run implements Executor.
func (l *LLM) Run(ctx context.Context, node graph.Node, in Inputs) (Outcome, error) {
	d, ok := node.Data.(*graph.LLMData)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: node %s is %s", graph.ErrDataMismatch, node.ID, node.Type)
	}
	li := resolveLLM(d, in)
	failed := Outcome{
		Inputs: store.LLMInputs(li.model, li.systemPrompt, li.userMessage, len(li.images), false),
	}

	if strings.TrimSpace(li.userMessage) == "" {
		return failed, graph.NewValidationError(node.ID, "userMessage", "User message is required")
	}
	if l.Model == nil {
		return failed, fmt.Errorf("no chat model configured for node %s", node.ID)
	}

	images, dropped := l.Loader.LoadAll(ctx, li.images)
	for _, err := range dropped {
		in.emit(node.Type, emit.MsgImageDropped, map[string]interface{}{
			"error":   err.Error(),
			"warning": true,
		})
	}

	req := model.Request{
		Model:        li.model,
		SystemPrompt: li.systemPrompt,
		UserMessage:  li.userMessage,
		Images:       images,
	}
	out, attempts, err := l.chat(ctx, node, in, req)
	failed.Attempts = attempts
	if err != nil {
		return failed, TranslateFor(err, li.model)
	}

	outcome := Outcome{
		Patch:    graph.Patch{"output": out.Text},
		Inputs:   store.LLMInputs(li.model, li.systemPrompt, li.userMessage, len(li.images), true),
		Outputs:  map[string]any{"output": store.TruncateOutput(out.Text)},
		Attempts: attempts,
	}
	if out.Usage != (model.Usage{}) {
		usage := out.Usage
		outcome.Model = li.model
		outcome.Usage = &usage
		outcome.Outputs["inputTokens"] = usage.InputTokens
		outcome.Outputs["outputTokens"] = usage.OutputTokens
		if cost, ok := model.EstimateCost(li.model, usage); ok {
			outcome.Cost = cost
			outcome.Outputs["costUsd"] = cost
		}
	}
	return outcome, nil
}

// chat calls the model under the retry policy. Each attempt runs under its
// own timeout; exhaustion returns the last error.
func (l *LLM) chat(ctx context.Context, node graph.Node, in Inputs, req model.Request) (model.ChatOut, int, error) {
	cfg := in.settings()
	policy := cfg.retry

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := withTimeout(ctx, cfg.attemptTimeout, "llm call", func(ctx context.Context) (model.ChatOut, error) {
			return l.Model.Chat(ctx, req)
		})
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err

		if !policy.shouldRetry(attempt, err) || ctx.Err() != nil {
			return model.ChatOut{}, attempt, err
		}
		reason := RetryReason(err)
		delay := policy.Delay(attempt)
		cfg.metrics.IncrementRetries(req.Model, reason)
		in.emit(node.Type, emit.MsgLLMRetry, map[string]interface{}{
			"attempt":  attempt,
			"reason":   reason,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
			"model":    req.Model,
		})
		if serr := cfg.sleep(ctx, delay); serr != nil {
			return model.ChatOut{}, attempt, fmt.Errorf("retry wait interrupted: %w", serr)
		}
	}
	return model.ChatOut{}, policy.MaxAttempts, lastErr
}
