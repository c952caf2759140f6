package graph

import (
	"errors"

	"github.com/dshills/weavegraph/graph/emit"
)

// Option configures a Workflow.
type Option func(*workflowConfig) error

type workflowConfig struct {
	name      string
	emitter   emit.Emitter
	metrics   *PrometheusMetrics
	strict    bool
	persister Persister
	observers []Observer
}

// WithEmitter sets the emitter that receives mutation and rejection events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *workflowConfig) error {
		if e == nil {
			return errors.New("emitter cannot be nil")
		}
		cfg.emitter = e
		return nil
	}
}

// DefaultWorkflowName labels the metrics of a workflow built without WithName.
const DefaultWorkflowName = "default"

// WithName sets the name that labels the workflow's graph size metrics.
// Processes holding several workflows give each a distinct name.
func WithName(name string) Option {
	return func(cfg *workflowConfig) error {
		if name == "" {
			return errors.New("workflow name cannot be empty")
		}
		cfg.name = name
		return nil
	}
}

// WithMetrics enables Prometheus metrics for the workflow.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *workflowConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithStrictKinds makes Connect reject edges whose handle kinds differ.
// The default is lenient: mismatches are admitted and reported as warnings.
func WithStrictKinds(strict bool) Option {
	return func(cfg *workflowConfig) error {
		cfg.strict = strict
		return nil
	}
}

// WithPersister saves a filtered snapshot after every mutation.
func WithPersister(p Persister) Option {
	return func(cfg *workflowConfig) error {
		if p == nil {
			return errors.New("persister cannot be nil")
		}
		cfg.persister = p
		return nil
	}
}

// WithObserver registers a callback invoked after node data changes.
func WithObserver(o Observer) Option {
	return func(cfg *workflowConfig) error {
		if o == nil {
			return errors.New("observer cannot be nil")
		}
		cfg.observers = append(cfg.observers, o)
		return nil
	}
}
