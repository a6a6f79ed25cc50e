// Package report aggregates decision results into audit summaries and
// measures agreement against labelled claims.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

// Summary totals a set of decisions.
type Summary struct {
	Total      int                     `json:"total"`
	ByDecision map[domain.Decision]int `json:"byDecision"`
	ByRiskTier map[domain.RiskTier]int `json:"byRiskTier"`
	Errors     int                     `json:"errors"`

	// Rates are fractions of Total
	ApprovalRate float64 `json:"approvalRate"`
	ReviewRate   float64 `json:"reviewRate"`
	DenialRate   float64 `json:"denialRate"`

	TotalClaimed   decimal.Decimal `json:"totalClaimed"`
	ApprovedAmount decimal.Decimal `json:"approvedAmount"`
	ReviewAmount   decimal.Decimal `json:"reviewAmount"`
	InsurerTotal   decimal.Decimal `json:"insurerTotal"`
	PatientTotal   decimal.Decimal `json:"patientTotal"`

	// Averages exclude ERROR records
	AverageScore      float64 `json:"averageScore"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// Summarize totals results. Nil entries are skipped.
func Summarize(results []*domain.DecisionResult) *Summary {
	s := &Summary{
		ByDecision: make(map[domain.Decision]int),
		ByRiskTier: make(map[domain.RiskTier]int),
	}

	var scored int
	var scoreSum, confidenceSum float64
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Total++
		s.ByDecision[r.Decision]++

		if r.IsError() {
			s.Errors++
			continue
		}
		if r.RiskTier != "" {
			s.ByRiskTier[r.RiskTier]++
		}
		scored++
		scoreSum += r.CompositeScore
		confidenceSum += r.Confidence

		if r.Financial == nil {
			continue
		}
		cost := r.Financial.TotalCost
		s.TotalClaimed = s.TotalClaimed.Add(cost)
		switch r.Decision {
		case domain.DecisionApproved:
			s.ApprovedAmount = s.ApprovedAmount.Add(cost)
			s.InsurerTotal = s.InsurerTotal.Add(r.Financial.InsurancePayment)
			s.PatientTotal = s.PatientTotal.Add(r.Financial.PatientResponsibility)
		case domain.DecisionRequiresReview:
			s.ReviewAmount = s.ReviewAmount.Add(cost)
		}
	}

	if s.Total > 0 {
		total := float64(s.Total)
		s.ApprovalRate = float64(s.ByDecision[domain.DecisionApproved]) / total
		s.ReviewRate = float64(s.ByDecision[domain.DecisionRequiresReview]) / total
		s.DenialRate = float64(s.ByDecision[domain.DecisionDenied]) / total
	}
	if scored > 0 {
		s.AverageScore = scoreSum / float64(scored)
		s.AverageConfidence = confidenceSum / float64(scored)
	}
	return s
}

// Write renders the summary as an aligned table.
func (s *Summary) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total claims\t%d\n", s.Total)
	for _, d := range domain.AllDecisions {
		fmt.Fprintf(tw, "  %s\t%d\n", d, s.ByDecision[d])
	}
	fmt.Fprintf(tw, "Approval rate\t%.1f%%\n", s.ApprovalRate*100)
	fmt.Fprintf(tw, "Review rate\t%.1f%%\n", s.ReviewRate*100)
	fmt.Fprintf(tw, "Denial rate\t%.1f%%\n", s.DenialRate*100)
	fmt.Fprintf(tw, "Total claimed\t$%s\n", s.TotalClaimed.StringFixed(2))
	fmt.Fprintf(tw, "Approved amount\t$%s\n", s.ApprovedAmount.StringFixed(2))
	fmt.Fprintf(tw, "Review amount\t$%s\n", s.ReviewAmount.StringFixed(2))
	fmt.Fprintf(tw, "Insurer pays\t$%s\n", s.InsurerTotal.StringFixed(2))
	fmt.Fprintf(tw, "Patient pays\t$%s\n", s.PatientTotal.StringFixed(2))
	fmt.Fprintf(tw, "Average score\t%.3f\n", s.AverageScore)
	fmt.Fprintf(tw, "Average confidence\t%.3f\n", s.AverageConfidence)
	return tw.Flush()
}

// Labelled case categories.
const (
	CategoryLowRisk      = "low_risk"
	CategoryMediumRisk   = "medium_risk"
	CategoryHighRisk     = "high_risk"
	CategoryQuestionable = "questionable"
)

// LabelledCase is a claim with the outcome a reviewer expects.
type LabelledCase struct {
	Name             string          `json:"name"`
	Text             string          `json:"text"`
	Category         string          `json:"expected_category"`
	ExpectedRisk     domain.RiskTier `json:"expected_risk,omitempty"`
	ExpectedDecision domain.Decision `json:"expected_decision,omitempty"`
}

// Expectation returns the default risk tier and decision for a category.
// Unknown categories expect MEDIUM risk and manual review.
func Expectation(category string) (domain.RiskTier, domain.Decision) {
	switch category {
	case CategoryLowRisk:
		return domain.RiskLow, domain.DecisionApproved
	case CategoryHighRisk:
		return domain.RiskHigh, domain.DecisionRequiresReview
	default:
		return domain.RiskMedium, domain.DecisionRequiresReview
	}
}

// LoadCases decodes a JSON array of labelled cases and fills missing
// expectations from their category.
func LoadCases(r io.Reader) ([]LabelledCase, error) {
	var cases []LabelledCase
	if err := json.NewDecoder(r).Decode(&cases); err != nil {
		return nil, fmt.Errorf("decode labelled cases: %w", err)
	}
	for i := range cases {
		risk, dec := Expectation(cases[i].Category)
		if cases[i].ExpectedRisk == "" {
			cases[i].ExpectedRisk = risk
		}
		if cases[i].ExpectedDecision == "" {
			cases[i].ExpectedDecision = dec
		}
	}
	return cases, nil
}

// CategoryAccuracy is agreement within one category.
type CategoryAccuracy struct {
	Category        string  `json:"category"`
	Total           int     `json:"total"`
	DecisionMatches int     `json:"decisionMatches"`
	RiskMatches     int     `json:"riskMatches"`
	DecisionRate    float64 `json:"decisionRate"`
	RiskRate        float64 `json:"riskRate"`
}

// Mismatch is a case whose decision or risk tier disagreed with its label.
type Mismatch struct {
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	ExpectedDecision domain.Decision `json:"expectedDecision"`
	ActualDecision   domain.Decision `json:"actualDecision"`
	ExpectedRisk     domain.RiskTier `json:"expectedRisk"`
	ActualRisk       domain.RiskTier `json:"actualRisk"`
}

// AccuracyReport compares decisions with labelled expectations.
type AccuracyReport struct {
	Total           int                `json:"total"`
	DecisionMatches int                `json:"decisionMatches"`
	RiskMatches     int                `json:"riskMatches"`
	DecisionRate    float64            `json:"decisionRate"`
	RiskRate        float64            `json:"riskRate"`
	Categories      []CategoryAccuracy `json:"categories"`
	Mismatches      []Mismatch         `json:"mismatches,omitempty"`
}

// Accuracy scores results against cases pairwise; both slices must
// be the same length and in the same order.
func Accuracy(cases []LabelledCase, results []*domain.DecisionResult) (*AccuracyReport, error) {
	if len(cases) != len(results) {
		return nil, fmt.Errorf("have %d labelled cases but %d results", len(cases), len(results))
	}

	rep := &AccuracyReport{}
	byCategory := make(map[string]*CategoryAccuracy)
	for i, c := range cases {
		r := results[i]
		if r == nil {
			return nil, fmt.Errorf("result %d is missing", i)
		}

		cat, ok := byCategory[c.Category]
		if !ok {
			cat = &CategoryAccuracy{Category: c.Category}
			byCategory[c.Category] = cat
		}
		cat.Total++
		rep.Total++

		decisionOK := r.Decision == c.ExpectedDecision
		riskOK := r.RiskTier == c.ExpectedRisk
		if decisionOK {
			cat.DecisionMatches++
			rep.DecisionMatches++
		}
		if riskOK {
			cat.RiskMatches++
			rep.RiskMatches++
		}
		if !decisionOK || !riskOK {
			rep.Mismatches = append(rep.Mismatches, Mismatch{
				Name:             c.Name,
				Category:         c.Category,
				ExpectedDecision: c.ExpectedDecision,
				ActualDecision:   r.Decision,
				ExpectedRisk:     c.ExpectedRisk,
				ActualRisk:       r.RiskTier,
			})
		}
	}

	for _, cat := range byCategory {
		cat.DecisionRate = rate(cat.DecisionMatches, cat.Total)
		cat.RiskRate = rate(cat.RiskMatches, cat.Total)
		rep.Categories = append(rep.Categories, *cat)
	}
	sort.Slice(rep.Categories, func(i, j int) bool {
		return rep.Categories[i].Category < rep.Categories[j].Category
	})
	rep.DecisionRate = rate(rep.DecisionMatches, rep.Total)
	rep.RiskRate = rate(rep.RiskMatches, rep.Total)
	return rep, nil
}

// Write renders per-category agreement followed by the mismatches.
func (a *AccuracyReport) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tCASES\tDECISION\tRISK")
	for _, c := range a.Categories {
		fmt.Fprintf(tw, "%s\t%d\t%.1f%%\t%.1f%%\n", c.Category, c.Total, c.DecisionRate*100, c.RiskRate*100)
	}
	fmt.Fprintf(tw, "overall\t%d\t%.1f%%\t%.1f%%\n", a.Total, a.DecisionRate*100, a.RiskRate*100)
	if len(a.Mismatches) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "MISMATCH\tEXPECTED\tACTUAL")
		for _, m := range a.Mismatches {
			fmt.Fprintf(tw, "%s\t%s/%s\t%s/%s\n", m.Name, m.ExpectedDecision, m.ExpectedRisk, m.ActualDecision, m.ActualRisk)
		}
	}
	return tw.Flush()
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
