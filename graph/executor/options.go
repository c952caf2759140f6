package executor

import (
	"errors"
	"time"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/store"
)

// DefaultAttemptTimeout bounds a single LLM call.
const DefaultAttemptTimeout = 60 * time.Second

// DefaultMediaTimeout bounds a single crop or frame extraction.
const DefaultMediaTimeout = 120 * time.Second

// Option configures a Registry.
type Option func(*config) error

type config struct {
	emitter    emit.Emitter
	metrics    *graph.PrometheusMetrics
	ledger     store.Ledger
	workflowID string
	now        func() time.Time

	retry          RetryPolicy
	attemptTimeout time.Duration
	mediaTimeout   time.Duration
	sleep          SleepFunc

	concurrency int
}

func defaultConfig() config {
	return config{
		emitter:        emit.NewNullEmitter(),
		now:            time.Now,
		retry:          DefaultLLMRetry(),
		attemptTimeout: DefaultAttemptTimeout,
		mediaTimeout:   DefaultMediaTimeout,
		sleep:          sleepContext,
		concurrency:    4,
	}
}

// WithEmitter sets the emitter that receives run events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *config) error {
		if e == nil {
			return errors.New("emitter cannot be nil")
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus run metrics.
func WithMetrics(m *graph.PrometheusMetrics) Option {
	return func(cfg *config) error {
		cfg.metrics = m
		return nil
	}
}

// WithLedger records every run in l. Without a ledger runs are not
// recorded and Result.RunID stays empty.
func WithLedger(l store.Ledger) Option {
	return func(cfg *config) error {
		cfg.ledger = l
		return nil
	}
}

// WithWorkflowID tags recorded runs with the saved workflow they belong to.
func WithWorkflowID(id string) Option {
	return func(cfg *config) error {
		cfg.workflowID = id
		return nil
	}
}

// WithClock replaces time.Now for run timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.now = now
		return nil
	}
}

// WithConcurrency limits how many nodes a Batch runs at once within one
// wave. Values below 1 are rejected.
func WithConcurrency(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("concurrency must be >= 1")
		}
		cfg.concurrency = n
		return nil
	}
}

// WithRetryPolicy replaces the LLM retry policy.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(cfg *config) error {
		if err := rp.Validate(); err != nil {
			return err
		}
		cfg.retry = rp
		return nil
	}
}

// WithAttemptTimeout bounds each LLM call. 0 disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return errors.New("attempt timeout must not be negative")
		}
		cfg.attemptTimeout = d
		return nil
	}
}

// WithMediaTimeout bounds each crop or frame extraction. 0 disables the
// bound.
func WithMediaTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return errors.New("media timeout must not be negative")
		}
		cfg.mediaTimeout = d
		return nil
	}
}

// WithSleep replaces the backoff wait between retries. Tests use it to
// observe delays without waiting.
func WithSleep(sleep SleepFunc) Option {
	return func(cfg *config) error {
		if sleep == nil {
			return errors.New("sleep cannot be nil")
		}
		cfg.sleep = sleep
		return nil
	}
}
