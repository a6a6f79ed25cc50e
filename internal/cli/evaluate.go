package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/extract"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/pipeline"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/report"
)

type claimFlags struct {
	file      string
	id        string
	patient   string
	diagnosis string
	procedure string
	cost      string
	language  string
}

func newEvaluateCommand(opts *options) *cobra.Command {
	var f claimFlags

	cmd := &cobra.Command{
		Use:   "evaluate [claim text]",
		Short: "Evaluate a single claim",
		Long: `Evaluate decides one claim, read from the arguments, a file or flags.

Example:
  auditor-cli evaluate "Patient: P-1, Diagnosis: Senile cataract, Treatment: Phacoemulsification, Cost: $3,500"
  auditor-cli evaluate --file claim.json
  auditor-cli evaluate --diagnosis "Severe sepsis" --procedure "ICU mechanical ventilation" --cost 120000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := f.submission(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			p, err := opts.pipeline(cmd.Context())
			if err != nil {
				return err
			}

			result, evalErr := p.EvaluateSubmission(cmd.Context(), sub)
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				err = writeIndented(out, result)
			} else {
				err = writeResult(out, result)
			}
			if err != nil {
				return err
			}
			return evalErr
		},
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "", "read the claim from a file, text or JSON (- for stdin)")
	cmd.Flags().StringVar(&f.id, "id", "", "claim ID")
	cmd.Flags().StringVar(&f.patient, "patient", "", "patient ID")
	cmd.Flags().StringVar(&f.diagnosis, "diagnosis", "", "diagnosis text")
	cmd.Flags().StringVar(&f.procedure, "procedure", "", "procedure or treatment text")
	cmd.Flags().StringVar(&f.cost, "cost", "", "claimed cost, e.g. 3500 or $3,500.00")
	cmd.Flags().StringVar(&f.language, "language", "", "claim language: en or zh (default: detected)")
	return cmd
}

// submission picks the claim source: a file, the joined arguments, or
// the field flags, in that order.
func (f *claimFlags) submission(stdin io.Reader, args []string) (pipeline.Submission, error) {
	switch {
	case f.file != "":
		data, err := readInput(stdin, f.file)
		if err != nil {
			return pipeline.Submission{}, err
		}
		claim, err := extract.Extract(string(data))
		return pipeline.Submission{Claim: claim, RawInput: string(data)}, err

	case len(args) > 0:
		text := strings.Join(args, " ")
		claim, err := extract.Extract(text)
		return pipeline.Submission{Claim: claim, RawInput: text}, err

	case f.diagnosis != "" || f.procedure != "":
		if f.cost == "" {
			return pipeline.Submission{}, &domain.MissingInputError{Input: "cost"}
		}
		cost, err := extract.ParseCost(f.cost)
		if err != nil {
			return pipeline.Submission{}, err
		}
		language := f.language
		if language == "" {
			language = extract.DetectLanguage(f.diagnosis + " " + f.procedure)
		}
		return pipeline.Submission{Claim: &domain.NormalizedClaim{
			ID:        f.id,
			PatientID: f.patient,
			Diagnosis: f.diagnosis,
			Procedure: f.procedure,
			Cost:      cost,
			Language:  language,
		}}, nil

	default:
		return pipeline.Submission{}, &domain.MissingInputError{Input: "claim text, --file or --diagnosis/--procedure"}
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeResult(w io.Writer, r *domain.DecisionResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Decision\t%s\n", r.Decision)
	if r.IsError() {
		fmt.Fprintf(tw, "Error\t%s\n", r.Error)
		return tw.Flush()
	}
	fmt.Fprintf(tw, "Score\t%.3f (confidence %.2f)\n", r.CompositeScore, r.Confidence)
	fmt.Fprintf(tw, "Reason\t%s\n", r.Reason)
	verdict := string(r.Verdict)
	if len(r.MatchedRules) > 0 {
		verdict += " (" + strings.Join(r.MatchedRules, ", ") + ")"
	}
	fmt.Fprintf(tw, "Coverage\t%s\n", verdict)
	fmt.Fprintf(tw, "Risk\t%s\n", r.RiskTier)
	if r.BenefitCategory != "" {
		fmt.Fprintf(tw, "Benefit category\t%s\n", r.BenefitCategory)
	}
	for _, f := range r.Factors {
		fmt.Fprintf(tw, "  %s\t%.2f x %.2f = %.3f\n", f.Name, f.Score, f.Weight, f.Contribution)
	}
	if fin := r.Financial; fin != nil {
		fmt.Fprintf(tw, "Total cost\t$%s\n", fin.TotalCost.StringFixed(2))
		fmt.Fprintf(tw, "Insurer pays\t$%s\n", fin.InsurancePayment.StringFixed(2))
		fmt.Fprintf(tw, "Patient pays\t$%s\n", fin.PatientResponsibility.StringFixed(2))
	}
	if len(r.Requirements) > 0 {
		fmt.Fprintf(tw, "Requirements\t%s\n", strings.Join(r.Requirements, ", "))
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(tw, "Warning\t%s\n", warning)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%s\n", r.Explanation)
	return err
}

// readClaims decodes a JSON array of claims, texts or {"text": ...}
// objects. Entries that fail to parse are returned as errors by position.
func readClaims(data []byte) ([]*domain.NormalizedClaim, map[int]error, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, nil, fmt.Errorf("batch file must be a JSON array: %w", err)
	}

	claims := make([]*domain.NormalizedClaim, len(entries))
	failures := make(map[int]error)
	for i, entry := range entries {
		claim, _, err := extract.Decode(entry)
		if err != nil {
			failures[i] = err
			continue
		}
		claims[i] = claim
	}
	return claims, failures, nil
}

// evaluateAll decides claims in input order; parse failures become
// ERROR records in place.
func evaluateAll(cmd *cobra.Command, p *pipeline.Pipeline, claims []*domain.NormalizedClaim, failures map[int]error) []*domain.DecisionResult {
	var valid []*domain.NormalizedClaim
	var positions []int
	results := make([]*domain.DecisionResult, len(claims))
	for i, claim := range claims {
		if err, ok := failures[i]; ok {
			results[i] = p.ErrorRecord(nil, err)
			continue
		}
		valid = append(valid, claim)
		positions = append(positions, i)
	}
	for j, result := range p.EvaluateBatch(cmd.Context(), valid) {
		results[positions[j]] = result
	}
	return results
}

func newBatchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file>",
		Short: "Evaluate a JSON array of claims and print a summary",
		Long: `Batch evaluates every claim in a JSON array file concurrently.
Entries may be structured claim objects, {"text": "..."} objects or plain strings.

Example:
  auditor-cli batch claims.json
  auditor-cli batch claims.json --json > decisions.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			claims, failures, err := readClaims(data)
			if err != nil {
				return err
			}

			p, err := opts.pipeline(cmd.Context())
			if err != nil {
				return err
			}

			results := evaluateAll(cmd, p, claims, failures)
			summary := report.Summarize(results)

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeIndented(out, map[string]any{"results": results, "summary": summary})
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tCLAIM\tDECISION\tSCORE\tRISK\tDETAIL")
			for i, r := range results {
				detail := r.Reason
				if r.IsError() {
					detail = r.Error
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%.3f\t%s\t%s\n", i+1, r.ClaimID, r.Decision, r.CompositeScore, r.RiskTier, detail)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return summary.Write(out)
		},
	}
}

func newAccuracyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "accuracy <file>",
		Short: "Compare decisions with labelled test cases",
		Long: `Accuracy evaluates labelled cases and reports agreement per category.

The file is a JSON array of {"name", "text", "expected_category",
"expected_risk", "expected_decision"} objects. Missing expectations are
derived from the category: low_risk, medium_risk, high_risk or questionable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cases, err := report.LoadCases(f)
			if err != nil {
				return err
			}

			p, err := opts.pipeline(cmd.Context())
			if err != nil {
				return err
			}

			claims := make([]*domain.NormalizedClaim, len(cases))
			failures := make(map[int]error)
			for i, c := range cases {
				claim, err := extract.Extract(c.Text)
				if err != nil {
					failures[i] = err
					continue
				}
				claim.ID = c.Name
				claims[i] = claim
			}

			rep, err := report.Accuracy(cases, evaluateAll(cmd, p, claims, failures))
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeIndented(cmd.OutOrStdout(), rep)
			}
			return rep.Write(cmd.OutOrStdout())
		},
	}
}
