package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// Skips config loading.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "weave version %s\n", version)
			if version != "dev" {
				fmt.Fprintf(w, "  commit:     %s\n", commit)
				fmt.Fprintf(w, "  built:      %s\n", buildDate)
			}
			fmt.Fprintf(w, "  go version: %s\n", runtime.Version())
		},
	}
}
