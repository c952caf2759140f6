package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/executor"
	"github.com/dshills/weavegraph/graph/media"
	"github.com/dshills/weavegraph/graph/model"
	"github.com/dshills/weavegraph/graph/model/anthropic"
	"github.com/dshills/weavegraph/graph/model/google"
	"github.com/dshills/weavegraph/graph/model/openai"
	"github.com/dshills/weavegraph/graph/store"
	"github.com/dshills/weavegraph/internal/config"
)

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore connects the configured backend and creates its schema.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemStore(), nil
	case config.DriverSQLite:
		return store.NewSQLiteStore(cfg.DSN)
	case config.DriverMySQL:
		return store.NewMySQLStore(cfg.DSN)
	case config.DriverPostgres:
		return store.OpenPGStore(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// newChat routes llm nodes to every provider with a key. It returns nil
// when no provider is configured.
func newChat(cfg config.LLMConfig) model.ChatModel {
	r := model.NewRouter()
	if cfg.GoogleAPIKey != "" {
		r.Register(model.ProviderGoogle, google.NewChatModel(cfg.GoogleAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		r.Register(model.ProviderAnthropic, anthropic.NewChatModel(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey != "" {
		r.Register(model.ProviderOpenAI, openai.NewChatModel(cfg.OpenAIAPIKey))
	}
	if len(r.Providers()) == 0 {
		return nil
	}
	return r
}

func newMedia(cfg config.MediaConfig) media.Processor {
	if cfg.Processor == config.MediaRemote {
		return media.NewRemote(cfg.URL)
	}
	l := media.NewLocal()
	l.FFmpeg = cfg.FFmpeg
	l.FFprobe = cfg.FFprobe
	return l
}

// executorOptions maps run settings onto registry options.
func executorOptions(cfg config.Config) []executor.Option {
	retry := executor.DefaultLLMRetry()
	retry.MaxAttempts = cfg.LLM.MaxAttempts
	return []executor.Option{
		executor.WithRetryPolicy(retry),
		executor.WithAttemptTimeout(cfg.LLM.AttemptTimeout),
		executor.WithMediaTimeout(cfg.Media.Timeout),
	}
}

// setupTracing installs a global tracer provider whose spans are written
// to log at debug level. With tracing disabled it returns a null emitter
// and a no-op shutdown.
func setupTracing(cfg config.TracingConfig, log *slog.Logger) (emit.Emitter, func(context.Context) error) {
	if !cfg.Enabled {
		return emit.NewNullEmitter(), func(context.Context) error { return nil }
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanLogger{log: log}),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	otel.SetTracerProvider(tp)
	return emit.NewOTelEmitter(tp.Tracer(cfg.ServiceName)), tp.Shutdown
}

// spanLogger is a SpanExporter that logs finished spans.
type spanLogger struct {
	log *slog.Logger
}

func (s spanLogger) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, sp := range spans {
		attrs := []any{
			"trace_id", sp.SpanContext().TraceID().String(),
			"span_id", sp.SpanContext().SpanID().String(),
			"duration_ms", sp.EndTime().Sub(sp.StartTime()).Milliseconds(),
			"status", sp.Status().Code.String(),
		}
		for _, kv := range sp.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		s.log.DebugContext(ctx, "span "+sp.Name(), attrs...)
	}
	return nil
}

func (spanLogger) Shutdown(context.Context) error { return nil }
