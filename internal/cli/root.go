// Package cli implements auditor-cli, the offline claim evaluation tool.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/config"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/pipeline"
)

// options are the global flags shared by every subcommand.
type options struct {
	version string

	configPath   string
	decisionPath string
	rulesPath    string
	jsonOutput   bool
	verbose      bool
}

// NewRootCommand builds the auditor-cli command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{version: version}

	root := &cobra.Command{
		Use:   "auditor-cli",
		Short: "Medicare claims auditor - offline claim evaluation",
		Long: `auditor-cli evaluates healthcare claims against a coverage rule snapshot
and a decision configuration without running the service.

Claims are read as labelled text ("Diagnosis: ..., Cost: ...") in English
or Chinese, or as JSON objects. Every decision carries its composite score,
factor breakdown, financial split and explanation.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			slog.SetDefault(config.NewLogger(domain.LoggingConfig{Level: level, Format: "text"}, cmd.ErrOrStderr()))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "service config file (YAML)")
	flags.StringVar(&opts.decisionPath, "decision-config", "", "decision config file (default: built-in)")
	flags.StringVar(&opts.rulesPath, "rules", "", "rule snapshot file, JSON or YAML (default: embedded sample)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of text")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		newEvaluateCommand(opts),
		newBatchCommand(opts),
		newAccuracyCommand(opts),
		newValidateCommand(opts),
		newImportNCDCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

// Execute runs the CLI with process arguments.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}

// loadConfig applies the file flags over the service config.
func (o *options) loadConfig() (*domain.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.decisionPath != "" {
		cfg.DecisionConfigPath = o.decisionPath
	}
	if o.rulesPath != "" {
		cfg.Rules.SnapshotPath = o.rulesPath
	}
	return cfg, nil
}

// pipeline builds an offline pipeline: no cache, no persistence.
func (o *options) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	dcfg, err := config.LoadDecision(cfg.DecisionConfigPath)
	if err != nil {
		return nil, err
	}
	store, err := config.LoadRules(ctx, cfg.Rules, nil)
	if err != nil {
		return nil, err
	}

	pcfg := cfg.Pipeline
	pcfg.PersistResults = false
	return pipeline.New(store, dcfg, pcfg, pipeline.Deps{}, o.version)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "auditor-cli %s\n", opts.version)
		},
	}
}
