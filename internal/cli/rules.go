package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/config"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/repository"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/rulestore"
)

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the decision config and rule snapshot",
		Long: `Validate loads the decision config and the rule snapshot selected by the
global flags and reports what was loaded. Any invalid weight, threshold,
template or rule is reported as a configuration error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			dcfg, err := config.LoadDecision(cfg.DecisionConfigPath)
			if err != nil {
				return err
			}
			store, err := config.LoadRules(cmd.Context(), cfg.Rules, nil)
			if err != nil {
				return err
			}

			stats := store.Stats()
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeIndented(out, map[string]any{
					"configVersion": dcfg.Version,
					"snapshot":      stats,
				})
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Decision config\t%s\n", dcfg.Version)
			fmt.Fprintf(tw, "Weights\tcoverage %.2f, risk %.2f, cost %.2f, requirements %.2f\n",
				dcfg.Weights.CoverageStatus, dcfg.Weights.RiskLevel, dcfg.Weights.CostCompliance, dcfg.Weights.SpecialRequirements)
			fmt.Fprintf(tw, "Thresholds\tapprove >= %.2f, review >= %.2f, deny < %.2f\n",
				dcfg.Thresholds.AutoApprove, dcfg.Thresholds.ManualReview, dcfg.Thresholds.AutoDeny)
			writeStats(tw, stats)
			if err := tw.Flush(); err != nil {
				return err
			}
			if stats.Unmatchable > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d rules have no usable keywords and can never match\n", stats.Unmatchable)
			}
			return nil
		},
	}
}

func writeStats(w io.Writer, stats rulestore.Stats) {
	fmt.Fprintf(w, "Rule snapshot\t%s\n", stats.Version)
	if stats.Source != "" {
		fmt.Fprintf(w, "Source\t%s\n", stats.Source)
	}
	fmt.Fprintf(w, "Rules\t%d\n", stats.Rules)

	verdicts := make([]string, 0, len(stats.ByVerdict))
	for v := range stats.ByVerdict {
		verdicts = append(verdicts, v)
	}
	sort.Strings(verdicts)
	for _, v := range verdicts {
		fmt.Fprintf(w, "  %s\t%d\n", v, stats.ByVerdict[v])
	}
	fmt.Fprintf(w, "Keyword phrases\t%d (longest %d tokens)\n", stats.Phrases, stats.MaxPhraseLen)
	fmt.Fprintf(w, "Procedure codes\t%d\n", stats.Codes)
	fmt.Fprintf(w, "Benefit categories\t%d\n", stats.Categories)
}

type importFlags struct {
	ncd     string
	hcpcs   string
	version string
	out     string
	persist bool
}

func newImportNCDCommand(opts *options) *cobra.Command {
	var f importFlags

	cmd := &cobra.Command{
		Use:   "import-ncd",
		Short: "Build a rule snapshot from CMS NCD and HCPCS extracts",
		Long: `Import-ncd converts a National Coverage Determination CSV extract, and
optionally an HCPCS code CSV, into a rule snapshot.

The snapshot is written to --out as JSON and, with --persist, stored in
the repository configured by --config.

Example:
  auditor-cli import-ncd --ncd ncd.csv --hcpcs hcpcs.csv --out rules.json
  auditor-cli import-ncd --ncd ncd.csv --version ncd-2024q3 --persist --config auditor.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.out == "" && !f.persist {
				return fmt.Errorf("nothing to do: set --out or --persist")
			}

			ncd, err := os.ReadFile(f.ncd)
			if err != nil {
				return err
			}
			version := f.version
			if version == "" {
				version = "ncd-" + rulestore.ContentVersion(ncd)
			}

			var hcpcs io.Reader
			if f.hcpcs != "" {
				hf, err := os.Open(f.hcpcs)
				if err != nil {
					return err
				}
				defer hf.Close()
				hcpcs = hf
			}

			snap, err := rulestore.ImportNCD(bytes.NewReader(ncd), hcpcs, version)
			if err != nil {
				return err
			}
			store, err := rulestore.New(snap)
			if err != nil {
				return err
			}

			if f.out != "" {
				if err := store.WriteFile(f.out); err != nil {
					return err
				}
			}

			if f.persist {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				repo, err := repository.New(cfg.Repository)
				if err != nil {
					return err
				}
				defer repo.Close()
				if err := repo.SaveRuleSnapshot(cmd.Context(), store.Snapshot()); err != nil {
					return fmt.Errorf("persist rule snapshot %s: %w", store.Version(), err)
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			writeStats(tw, store.Stats())
			if f.out != "" {
				fmt.Fprintf(tw, "Written to\t%s\n", f.out)
			}
			if f.persist {
				fmt.Fprintf(tw, "Stored\t%s\n", store.Version())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&f.ncd, "ncd", "", "NCD CSV extract (required)")
	cmd.Flags().StringVar(&f.hcpcs, "hcpcs", "", "HCPCS code CSV")
	cmd.Flags().StringVar(&f.version, "version", "", "snapshot version (default: ncd-<content hash>)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the snapshot to this file")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "store the snapshot in the configured repository")
	_ = cmd.MarkFlagRequired("ncd")
	return cmd
}
