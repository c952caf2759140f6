package server

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/executor"
	"github.com/dshills/weavegraph/graph/store"
	"github.com/dshills/weavegraph/internal/schema"
)

// emptyGraph is the data of a workflow created without one.
var emptyGraph = json.RawMessage(`{"nodes":[],"edges":[]}`)

// eventLookupLimit bounds the ownership check behind the events endpoint.
const eventLookupLimit = 500

// handleError maps domain errors onto HTTP statuses. Every error body is
// {"error": message}; schema failures add "problems".
func (s *Server) handleError(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{"error": err.Error()}

	var (
		fe        *fiber.Error
		schemaErr *schema.Error
		runErr    *executor.RunError
		integrity *graph.IntegrityError
		nodeErr   *graph.NodeError
	)
	switch {
	case errors.As(err, &fe):
		status = fe.Code
		body["error"] = fe.Message
	case errors.As(err, &schemaErr):
		status = fiber.StatusUnprocessableEntity
		body["error"] = "workflow does not match the schema"
		body["problems"] = schemaErr.Problems
	case errors.Is(err, store.ErrNotFound), errors.Is(err, graph.ErrNodeNotFound):
		status = fiber.StatusNotFound
	case errors.As(err, &integrity),
		errors.Is(err, graph.ErrSelfLoop),
		errors.Is(err, graph.ErrCycle),
		errors.Is(err, graph.ErrKindMismatch),
		errors.Is(err, graph.ErrDuplicateNode),
		errors.Is(err, graph.ErrUnknownNodeType),
		errors.Is(err, graph.ErrDataMismatch),
		errors.As(err, &nodeErr):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, executor.ErrNotRunnable), errors.Is(err, executor.ErrNoExecutor):
		status = fiber.StatusBadRequest
	case errors.As(err, &runErr):
		status = fiber.StatusBadGateway
		if runErr.Category == executor.CategoryValidation {
			status = fiber.StatusUnprocessableEntity
		}
		body["category"] = runErr.Category
	}

	if status >= fiber.StatusInternalServerError && status != fiber.StatusBadGateway {
		s.log.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		body["error"] = "internal server error"
	}
	return c.Status(status).JSON(body)
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

func (s *Server) getSchema(c fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(schema.Raw())
}

type workflowBody struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// workflowSummary is a listed document without its graph.
type workflowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Server) listWorkflows(c fiber.Ctx) error {
	docs, err := s.deps.Store.ListWorkflows(c.Context(), owner(c))
	if err != nil {
		return err
	}
	out := make([]workflowSummary, len(docs))
	for i, d := range docs {
		out[i] = workflowSummary{ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
	}
	return c.JSON(out)
}

func (s *Server) createWorkflow(c fiber.Ctx) error {
	var body workflowBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest("invalid body")
	}
	if len(body.Data) == 0 {
		body.Data = emptyGraph
	}
	data, err := canonical(body.Data)
	if err != nil {
		return err
	}
	doc, err := s.deps.Store.SaveWorkflow(c.Context(), store.WorkflowDocument{
		OwnerID: owner(c),
		Name:    body.Name,
		Data:    data,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// canonical validates raw workflow data and re-encodes it.
func canonical(raw []byte) ([]byte, error) {
	doc, err := schema.Decode(raw)
	if err != nil {
		return nil, err
	}
	return graph.EncodeDocument(doc)
}

func (s *Server) getWorkflow(c fiber.Ctx) error {
	doc, err := s.deps.Store.GetWorkflow(c.Context(), owner(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

func (s *Server) updateWorkflow(c fiber.Ctx) error {
	ownerID, id := owner(c), c.Params("id")
	var body workflowBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest("invalid body")
	}

	current, err := s.deps.Store.GetWorkflow(c.Context(), ownerID, id)
	if err != nil {
		return err
	}
	data := []byte(current.Data)
	if len(body.Data) > 0 {
		if data, err = canonical(body.Data); err != nil {
			return err
		}
	}
	doc, err := s.deps.Store.UpdateWorkflow(c.Context(), store.WorkflowDocument{
		ID:      id,
		OwnerID: ownerID,
		Name:    body.Name,
		Data:    data,
	})
	if err != nil {
		return err
	}
	s.drop(ownerID, id)
	return c.JSON(doc)
}

func (s *Server) deleteWorkflow(c fiber.Ctx) error {
	ownerID, id := owner(c), c.Params("id")
	if err := s.deps.Store.DeleteWorkflow(c.Context(), ownerID, id); err != nil {
		return err
	}
	s.drop(ownerID, id)
	s.deps.Metrics.ForgetGraph(id)
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) load(c fiber.Ctx) (*session, error) {
	return s.session(c.Context(), owner(c), c.Params("id"))
}

func (s *Server) getGraph(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	return c.JSON(sess.wf.Snapshot())
}

func (s *Server) addNode(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	var n graph.Node
	if err := json.Unmarshal(c.Body(), &n); err != nil {
		if errors.Is(err, graph.ErrUnknownNodeType) {
			return err
		}
		return badRequest("invalid node: " + err.Error())
	}
	added, err := sess.wf.AddNode(n)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(added)
}

func (s *Server) updateNode(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	nodeID := c.Params("nodeId")
	if _, ok := sess.wf.Node(nodeID); !ok {
		return graph.ErrNodeNotFound
	}
	var patch graph.Patch
	if err := c.Bind().JSON(&patch); err != nil {
		return badRequest("invalid patch")
	}
	if err := sess.wf.UpdateNodeData(nodeID, patch); err != nil {
		return err
	}
	n, _ := sess.wf.Node(nodeID)
	return c.JSON(n)
}

func (s *Server) deleteNode(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	if !sess.wf.DeleteNode(c.Params("nodeId")) {
		return graph.ErrNodeNotFound
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) connect(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	var conn graph.Connection
	if err := c.Bind().JSON(&conn); err != nil {
		return badRequest("invalid connection")
	}
	if conn.Source == "" || conn.Target == "" {
		return badRequest("source and target are required")
	}
	edge, err := sess.wf.ConnectStrict(conn)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(edge)
}

func (s *Server) removeEdge(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	if !sess.wf.RemoveEdge(c.Params("edgeId")) {
		return fiber.NewError(fiber.StatusNotFound, "edge not found")
	}
	return c.JSON(fiber.Map{"success": true})
}

// resultView is the wire form of a node run.
type resultView struct {
	RunID      string         `json:"runId,omitempty"`
	NodeID     string         `json:"nodeId"`
	NodeType   graph.NodeType `json:"nodeType"`
	Status     store.Status   `json:"status"`
	DurationMs int64          `json:"durationMs"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	Category   string         `json:"category,omitempty"`
}

func viewResult(r executor.Result) resultView {
	v := resultView{
		RunID:      r.RunID,
		NodeID:     r.NodeID,
		NodeType:   r.NodeType,
		Status:     r.Status,
		DurationMs: r.Duration.Milliseconds(),
		Outputs:    r.Outcome.Outputs,
	}
	if r.Err != nil {
		v.Error = r.Err.Message
		v.Category = string(r.Err.Category)
	}
	return v
}

// runNode executes one node. A failed run still answers with the run and
// the updated node, under a status derived from the failure category.
func (s *Server) runNode(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	nodeID := c.Params("nodeId")
	res, err := sess.reg.Run(c.Context(), owner(c), nodeID)

	var runErr *executor.RunError
	if err != nil && !errors.As(err, &runErr) {
		return err
	}
	status := fiber.StatusOK
	if runErr != nil {
		status = fiber.StatusBadGateway
		if runErr.Category == executor.CategoryValidation {
			status = fiber.StatusUnprocessableEntity
		}
	}
	n, _ := sess.wf.Node(nodeID)
	return c.Status(status).JSON(fiber.Map{"run": viewResult(res), "node": n})
}

type scopeBody struct {
	Scope   store.Scope `json:"scope"`
	NodeIDs []string    `json:"nodeIds"`
}

type batchView struct {
	RunID        string       `json:"runId,omitempty"`
	Scope        store.Scope  `json:"scope"`
	Status       store.Status `json:"status"`
	DurationMs   int64        `json:"durationMs"`
	Results      []resultView `json:"results"`
	CostUSD      float64      `json:"costUsd"`
	InputTokens  int          `json:"inputTokens"`
	OutputTokens int          `json:"outputTokens"`
}

func (s *Server) runScope(c fiber.Ctx) error {
	sess, err := s.load(c)
	if err != nil {
		return err
	}
	body := scopeBody{Scope: store.ScopeFull}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return badRequest("invalid body")
		}
	}
	switch body.Scope {
	case store.ScopeFull, store.ScopePartial, store.ScopeSingle:
	case "":
		body.Scope = store.ScopeFull
	default:
		return badRequest("scope must be one of single, partial, full")
	}

	br, err := sess.batch.Run(c.Context(), owner(c), body.Scope, body.NodeIDs)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			return err
		}
		return badRequest(err.Error())
	}
	results := make([]resultView, len(br.Results))
	for i, r := range br.Results {
		results[i] = viewResult(r)
	}
	return c.JSON(batchView{
		RunID:        br.RunID,
		Scope:        br.Scope,
		Status:       br.Status,
		DurationMs:   br.Duration.Milliseconds(),
		Results:      results,
		CostUSD:      br.Cost,
		InputTokens:  br.InputTokens,
		OutputTokens: br.OutputTokens,
	})
}

func (s *Server) listRuns(c fiber.Ctx) error {
	limit := 0
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			return badRequest("limit must be a non-negative integer")
		}
		limit = n
	}
	runs, err := s.deps.Store.ListRuns(c.Context(), owner(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(runs)
}

func (s *Server) deleteRuns(c fiber.Ctx) error {
	n, err := s.deps.Store.DeleteAllRuns(c.Context(), owner(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": store.DeletedMessage(n), "count": n})
}

// eventView is the wire form of a buffered event.
type eventView struct {
	RunID    string                 `json:"runId"`
	NodeID   string                 `json:"nodeId,omitempty"`
	NodeType string                 `json:"nodeType,omitempty"`
	Msg      string                 `json:"msg"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

func (s *Server) runEvents(c fiber.Ctx) error {
	if s.deps.Events == nil {
		return fiber.NewError(fiber.StatusNotFound, "event history is disabled")
	}
	runID := c.Params("id")
	runs, err := s.deps.Store.ListRuns(c.Context(), owner(c), eventLookupLimit)
	if err != nil {
		return err
	}
	owned := false
	for _, r := range runs {
		if r.ID == runID {
			owned = true
			break
		}
	}
	if !owned {
		return store.ErrNotFound
	}

	history := s.deps.Events.GetHistory(runID)
	out := make([]eventView, len(history))
	for i, e := range history {
		out[i] = viewEvent(e)
	}
	return c.JSON(out)
}

func viewEvent(e emit.Event) eventView {
	return eventView{RunID: e.RunID, NodeID: e.NodeID, NodeType: e.NodeType, Msg: e.Msg, Meta: e.Meta}
}
