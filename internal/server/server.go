// Package server exposes workflows over HTTP: saved documents, live node
// and edge editing, node and scope runs, and the run ledger.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/executor"
	"github.com/dshills/weavegraph/graph/media"
	"github.com/dshills/weavegraph/graph/model"
	"github.com/dshills/weavegraph/graph/store"
)

// OwnerHeader carries the opaque identity of the caller.
const OwnerHeader = "X-Owner-ID"

// Deps are the collaborators a Server runs workflows with.
type Deps struct {
	Store store.Store

	// Chat serves llm nodes. nil leaves llm nodes without an executor.
	Chat model.ChatModel
	// Media serves crop and frame nodes. nil leaves them without one.
	Media media.Processor

	// Emitter receives every workflow and run event. Events additionally
	// buffers them for the events endpoint; either may be nil.
	Emitter emit.Emitter
	Events  *emit.BufferedEmitter

	Metrics  *graph.PrometheusMetrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	StrictKinds bool

	// ExecutorOptions are applied to every workflow's registry after the
	// server's own.
	ExecutorOptions []executor.Option
}

// Options tune the HTTP layer.
type Options struct {
	BodyLimit    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	app  *fiber.App
	deps Deps
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

type sessionKey struct {
	owner, workflowID string
}

// session is a saved workflow loaded for editing and running.
type session struct {
	wf    *graph.Workflow
	reg   *executor.Registry
	batch *executor.Batch
}

// New builds a server and registers its routes.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server requires a store")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	var emitters []emit.Emitter
	if deps.Emitter != nil {
		emitters = append(emitters, deps.Emitter)
	}
	if deps.Events != nil {
		emitters = append(emitters, deps.Events)
	}
	if len(emitters) == 0 {
		deps.Emitter = emit.NewNullEmitter()
	} else {
		deps.Emitter = emit.Multi(emitters...)
	}

	s := &Server{
		deps:     deps,
		log:      deps.Logger,
		sessions: make(map[sessionKey]*session),
	}
	s.app = fiber.New(fiber.Config{
		AppName:      "weave",
		BodyLimit:    opts.BodyLimit,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		ErrorHandler: s.handleError,
	})
	s.routes()
	return s, nil
}

// App returns the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(recoverer.New())
	s.app.Use(s.logRequests)

	s.app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	s.app.Get("/schema", s.getSchema)

	api := s.app.Group("", s.requireOwner)

	api.Get("/workflows", s.listWorkflows)
	api.Post("/workflows", s.createWorkflow)
	api.Get("/workflows/:id", s.getWorkflow)
	api.Put("/workflows/:id", s.updateWorkflow)
	api.Delete("/workflows/:id", s.deleteWorkflow)

	api.Get("/workflows/:id/graph", s.getGraph)
	api.Post("/workflows/:id/nodes", s.addNode)
	api.Patch("/workflows/:id/nodes/:nodeId", s.updateNode)
	api.Delete("/workflows/:id/nodes/:nodeId", s.deleteNode)
	api.Post("/workflows/:id/edges", s.connect)
	api.Delete("/workflows/:id/edges/:edgeId", s.removeEdge)

	api.Post("/workflows/:id/nodes/:nodeId/run", s.runNode)
	api.Post("/workflows/:id/run", s.runScope)

	api.Get("/runs", s.listRuns)
	api.Delete("/runs", s.deleteRuns)
	api.Get("/runs/:id/events", s.runEvents)
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	level := slog.LevelInfo
	if status >= fiber.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.Log(c.Context(), level, "http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

func (s *Server) requireOwner(c fiber.Ctx) error {
	owner := c.Get(OwnerHeader)
	if owner == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing "+OwnerHeader+" header")
	}
	c.Locals(ownerKey{}, owner)
	return c.Next()
}

type ownerKey struct{}

func owner(c fiber.Ctx) string {
	v, _ := c.Locals(ownerKey{}).(string)
	return v
}

// session returns the live workflow for a saved document, loading it on
// first use.
func (s *Server) session(ctx context.Context, ownerID, workflowID string) (*session, error) {
	key := sessionKey{ownerID, workflowID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}

	doc, err := s.deps.Store.GetWorkflow(ctx, ownerID, workflowID)
	if err != nil {
		return nil, err
	}
	decoded, err := graph.DecodeDocument(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("stored workflow %s: %w", workflowID, err)
	}

	wf, err := graph.NewWorkflow(
		graph.WithName(workflowID),
		graph.WithEmitter(s.deps.Emitter),
		graph.WithMetrics(s.deps.Metrics),
		graph.WithStrictKinds(s.deps.StrictKinds),
		graph.WithPersister(store.WorkflowPersister{
			Docs:       s.deps.Store,
			OwnerID:    ownerID,
			WorkflowID: workflowID,
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := wf.Restore(decoded); err != nil {
		return nil, err
	}

	opts := []executor.Option{
		executor.WithEmitter(s.deps.Emitter),
		executor.WithMetrics(s.deps.Metrics),
		executor.WithLedger(s.deps.Store),
		executor.WithWorkflowID(workflowID),
	}
	reg, err := executor.NewRegistry(wf, append(opts, s.deps.ExecutorOptions...)...)
	if err != nil {
		return nil, err
	}
	if s.deps.Chat != nil {
		_ = reg.Register(graph.TypeLLM, executor.NewLLM(s.deps.Chat))
	}
	if s.deps.Media != nil {
		_ = reg.Register(graph.TypeCropImage, executor.NewCrop(s.deps.Media))
		_ = reg.Register(graph.TypeExtractFrame, executor.NewFrame(s.deps.Media))
	}

	sess := &session{wf: wf, reg: reg, batch: executor.NewBatch(reg)}
	s.sessions[key] = sess
	return sess, nil
}

// drop forgets a loaded workflow so the next request reloads it.
func (s *Server) drop(ownerID, workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{ownerID, workflowID})
}
