package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/weavegraph/graph"
	"github.com/dshills/weavegraph/graph/emit"
	"github.com/dshills/weavegraph/graph/executor"
	"github.com/dshills/weavegraph/graph/store"
	"github.com/dshills/weavegraph/internal/schema"
)

type runFlags struct {
	owner  string
	scope  string
	nodes  []string
	out    string
	asJSON bool
}

func (c *cli) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a workflow file once",
		Long: `Run loads a workflow file, runs its active nodes in dependency order and
records the run in the configured ledger.

Without --node every active node runs. One --node runs that node alone;
several run as a partial scope.`,
		Example: `  # Run every node
  weave run workflow.yaml

  # Run one node and save the results
  weave run workflow.json --node llm-1 --out result.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.owner, "owner", "cli", "Owner id recorded in the ledger")
	cmd.Flags().StringVar(&f.scope, "scope", "", "Run scope: single, partial or full (derived from --node when empty)")
	cmd.Flags().StringSliceVar(&f.nodes, "node", nil, "Node id to run (repeatable)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Write the resulting workflow to this file")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the run as JSON")
	return cmd
}

func (f runFlags) resolveScope() (store.Scope, error) {
	switch store.Scope(f.scope) {
	case store.ScopeSingle, store.ScopePartial, store.ScopeFull:
		return store.Scope(f.scope), nil
	case "":
		switch len(f.nodes) {
		case 0:
			return store.ScopeFull, nil
		case 1:
			return store.ScopeSingle, nil
		}
		return store.ScopePartial, nil
	}
	return "", fmt.Errorf("--scope must be one of single, partial, full, got %q", f.scope)
}

func (c *cli) run(ctx context.Context, w io.Writer, path string, f runFlags) error {
	scope, err := f.resolveScope()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	doc, err := schema.Decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	st, err := openStore(ctx, c.cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	events := emit.NewSlogEmitter(c.log)
	wf, err := graph.NewWorkflow(graph.WithEmitter(events), graph.WithStrictKinds(c.cfg.StrictKinds))
	if err != nil {
		return err
	}
	if err := wf.Load(doc); err != nil {
		return err
	}

	opts := append([]executor.Option{
		executor.WithEmitter(events),
		executor.WithLedger(st),
		executor.WithWorkflowID(filepath.Base(path)),
	}, executorOptions(c.cfg)...)
	reg, err := executor.NewRegistry(wf, opts...)
	if err != nil {
		return err
	}
	if chat := newChat(c.cfg.LLM); chat != nil {
		_ = reg.Register(graph.TypeLLM, executor.NewLLM(chat))
	}
	proc := newMedia(c.cfg.Media)
	_ = reg.Register(graph.TypeCropImage, executor.NewCrop(proc))
	_ = reg.Register(graph.TypeExtractFrame, executor.NewFrame(proc))

	br, err := executor.NewBatch(reg).Run(ctx, f.owner, scope, f.nodes)
	if err != nil {
		return err
	}

	if f.out != "" {
		if err := (graph.FilePersister{Path: f.out}).Persist(ctx, wf.Snapshot()); err != nil {
			return err
		}
	}
	if f.asJSON {
		if err := writeRunJSON(w, br); err != nil {
			return err
		}
	} else {
		printRun(w, br)
	}
	if br.Status != store.StatusSuccess {
		return fmt.Errorf("run finished with status %s", br.Status)
	}
	return nil
}

func printRun(w io.Writer, br executor.BatchResult) {
	t := newTable(w)
	t.SetTitle("run %s (%s)", br.RunID, br.Scope)
	t.AppendHeader(table.Row{"Node", "Type", "Status", "Duration", "Detail"})
	for _, r := range br.Results {
		t.AppendRow(table.Row{r.NodeID, r.NodeType, r.Status, ms(r.Duration), cell(resultDetail(r))})
	}
	t.AppendFooter(table.Row{"", "", br.Status, ms(br.Duration),
		fmt.Sprintf("%d in / %d out tokens, $%.6f", br.InputTokens, br.OutputTokens, br.Cost)})
	t.Render()
}

// resultDetail is the error of a failed run or its main output.
func resultDetail(r executor.Result) string {
	if r.Err != nil {
		return r.Err.Message
	}
	for _, key := range []string{"output", "outputUrl"} {
		if v, ok := r.Outcome.Outputs[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type runJSON struct {
	RunID        string        `json:"runId,omitempty"`
	Scope        store.Scope   `json:"scope"`
	Status       store.Status  `json:"status"`
	DurationMs   int64         `json:"durationMs"`
	CostUSD      float64       `json:"costUsd"`
	InputTokens  int           `json:"inputTokens"`
	OutputTokens int           `json:"outputTokens"`
	Nodes        []nodeRunJSON `json:"nodes"`
}

type nodeRunJSON struct {
	NodeID     string         `json:"nodeId"`
	NodeType   graph.NodeType `json:"nodeType"`
	Status     store.Status   `json:"status"`
	DurationMs int64          `json:"durationMs"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func writeRunJSON(w io.Writer, br executor.BatchResult) error {
	out := runJSON{
		RunID:        br.RunID,
		Scope:        br.Scope,
		Status:       br.Status,
		DurationMs:   br.Duration.Milliseconds(),
		CostUSD:      br.Cost,
		InputTokens:  br.InputTokens,
		OutputTokens: br.OutputTokens,
		Nodes:        make([]nodeRunJSON, len(br.Results)),
	}
	for i, r := range br.Results {
		n := nodeRunJSON{
			NodeID:     r.NodeID,
			NodeType:   r.NodeType,
			Status:     r.Status,
			DurationMs: r.Duration.Milliseconds(),
			Outputs:    r.Outcome.Outputs,
		}
		if r.Err != nil {
			n.Error = r.Err.Message
		}
		out.Nodes[i] = n
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
