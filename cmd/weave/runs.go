package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/weavegraph/graph/store"
)

func (c *cli) runsCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect or clear the run ledger",
	}
	cmd.PersistentFlags().StringVar(&owner, "owner", "cli", "Owner whose runs to use")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent workflow runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd.Context(), c.cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			runs, err := st.ListRuns(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", store.DefaultListLimit, "Maximum runs to show")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every run of the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd.Context(), c.cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := st.DeleteAllRuns(cmd.Context(), owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), store.DeletedMessage(n))
			return nil
		},
	}

	cmd.AddCommand(list, purge)
	return cmd
}

func printRuns(w io.Writer, runs []store.WorkflowRun) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Created", "Scope", "Status", "Duration", "Node", "Type", "Result"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Scope, r.Status, fmt.Sprintf("%dms", r.Duration)})
		for _, nr := range r.NodeRuns {
			detail := nr.Error
			if detail == "" {
				if out, ok := nr.Outputs["output"].(string); ok {
					detail = out
				} else if out, ok := nr.Outputs["outputUrl"].(string); ok {
					detail = out
				}
			}
			t.AppendRow(table.Row{"", "", "", nr.Status, fmt.Sprintf("%dms", nr.Duration), nr.NodeID, nr.NodeType, cell(detail)})
		}
		t.AppendSeparator()
	}
	t.Render()
}
