package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/weavegraph/internal/schema"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow file against the schema and graph rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read workflow: %w", err)
			}
			doc, err := schema.Decode(data)
			if err != nil {
				var se *schema.Error
				if errors.As(err, &se) {
					for _, p := range se.Problems {
						fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
					}
				}
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes, %d edges)\n", args[0], len(doc.Nodes), len(doc.Edges))
			return nil
		},
	}
}
