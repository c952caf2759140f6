package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/internal/server"
)

// eventHistoryLimit bounds the events kept for GET /runs/:id/events.
const eventHistoryLimit = 10000

const shutdownTimeout = 15 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow HTTP API",
		Example: `  # Serve on the configured address with a SQLite ledger
  weave serve

  # Serve on another port with an in-memory store
  weave serve --addr :9090 --store memory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func (c *cli) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, c.cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	tracing, shutdownTracing := setupTracing(c.cfg.Tracing, c.log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	chat := newChat(c.cfg.LLM)
	if chat == nil {
		c.log.Warn("no LLM provider key configured; llm nodes cannot run")
	}

	srv, err := server.New(server.Deps{
		Store:           st,
		Chat:            chat,
		Media:           newMedia(c.cfg.Media),
		Emitter:         emit.Multi(emit.NewSlogEmitter(c.log), tracing),
		Events:          emit.NewBoundedEmitter(eventHistoryLimit),
		Metrics:         graph.NewPrometheusMetrics(reg),
		Gatherer:        reg,
		Logger:          c.log,
		StrictKinds:     c.cfg.StrictKinds,
		ExecutorOptions: executorOptions(c.cfg),
	}, server.Options{
		BodyLimit:    c.cfg.Server.BodyLimit,
		ReadTimeout:  c.cfg.Server.ReadTimeout,
		WriteTimeout: c.cfg.Server.WriteTimeout,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(c.cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	c.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
