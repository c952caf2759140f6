package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/weavegraph/internal/config"
)

// cli carries the state shared by every command: the loaded config and the
// logger built from it.
type cli struct {
	configPath string
	logLevel   string
	storeFlag  string

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "weave",
		Short: "Build and run node-based AI workflows",
		Long: `weave runs workflow graphs of text, media and LLM nodes.

Workflows are JSON or YAML documents of nodes and edges. They can be edited
and run over HTTP with "weave serve" or run once from a file with
"weave run".`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.storeFlag, "store", "", "Override store driver (memory, sqlite, mysql, postgres)")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		c.serveCmd(),
		c.validateCmd(),
		c.runCmd(),
		c.runsCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = strings.ToLower(c.logLevel)
	}
	if c.storeFlag != "" {
		cfg.Store.Driver = c.storeFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.log = newLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(c.log)
	return nil
}
