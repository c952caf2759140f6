package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a *slog.Logger.
//
// Events carrying an "error" meta value are logged at Error level, events
// flagged with "warning" at Warn level, everything else at Info. Meta keys
// become attributes in sorted order so output is stable.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter wraps logger. A nil logger selects slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event.
func (s *SlogEmitter) Emit(event Event) {
	level := slog.LevelInfo
	switch {
	case event.Err() != "":
		level = slog.LevelError
	case event.IsWarning():
		level = slog.LevelWarn
	}

	attrs := make([]slog.Attr, 0, len(event.Meta)+3)
	if event.RunID != "" {
		attrs = append(attrs, slog.String("run_id", event.RunID))
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}
	if event.NodeType != "" {
		attrs = append(attrs, slog.String("node_type", event.NodeType))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		if k == "warning" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(context.Background(), level, event.Msg, attrs...)
}
