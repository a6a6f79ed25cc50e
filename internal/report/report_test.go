package report

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

func result(d domain.Decision, tier domain.RiskTier, cost, insurer, patient string, score float64) *domain.DecisionResult {
	r := &domain.DecisionResult{
		Decision:       d,
		RiskTier:       tier,
		CompositeScore: score,
		Confidence:     score / 2,
	}
	if cost != "" {
		r.Financial = &domain.FinancialBreakdown{
			TotalCost:             decimal.RequireFromString(cost),
			InsurancePayment:      decimal.RequireFromString(insurer),
			PatientResponsibility: decimal.RequireFromString(patient),
		}
	}
	return r
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSummarize(t *testing.T) {
	results := []*domain.DecisionResult{
		result(domain.DecisionApproved, domain.RiskLow, "3500", "1520", "1980", 0.9),
		result(domain.DecisionApproved, domain.RiskLow, "2000", "320", "1680", 0.8),
		result(domain.DecisionRequiresReview, domain.RiskHigh, "120000", "94720", "25280", 0.5),
		result(domain.DecisionDenied, domain.RiskMedium, "15000", "10720", "4280", 0.2),
		{Decision: domain.DecisionError, Error: "missing input: cost"},
		nil,
	}

	s := Summarize(results)

	if s.Total != 5 {
		t.Errorf("expected total 5, got %d", s.Total)
	}
	if s.ByDecision[domain.DecisionApproved] != 2 {
		t.Errorf("expected 2 approved, got %d", s.ByDecision[domain.DecisionApproved])
	}
	if s.Errors != 1 {
		t.Errorf("expected 1 error, got %d", s.Errors)
	}
	if s.ByRiskTier[domain.RiskLow] != 2 || s.ByRiskTier[domain.RiskHigh] != 1 {
		t.Errorf("unexpected risk tiers: %v", s.ByRiskTier)
	}
	if !approx(s.ApprovalRate, 0.4) {
		t.Errorf("expected approval rate 0.4, got %v", s.ApprovalRate)
	}
	if !approx(s.ReviewRate, 0.2) {
		t.Errorf("expected review rate 0.2, got %v", s.ReviewRate)
	}
	if !approx(s.DenialRate, 0.2) {
		t.Errorf("expected denial rate 0.2, got %v", s.DenialRate)
	}

	amounts := []struct {
		name     string
		got      decimal.Decimal
		expected string
	}{
		{"TotalClaimed", s.TotalClaimed, "140500"},
		{"ApprovedAmount", s.ApprovedAmount, "5500"},
		{"ReviewAmount", s.ReviewAmount, "120000"},
		{"InsurerTotal", s.InsurerTotal, "1840"},
		{"PatientTotal", s.PatientTotal, "3660"},
	}
	for _, tt := range amounts {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, tt.got)
			}
		})
	}

	if !approx(s.AverageScore, 0.6) {
		t.Errorf("expected average score 0.6, got %v", s.AverageScore)
	}
	if !approx(s.AverageConfidence, 0.3) {
		t.Errorf("expected average confidence 0.3, got %v", s.AverageConfidence)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Total != 0 || s.ApprovalRate != 0 || s.AverageScore != 0 {
		t.Errorf("expected zero summary, got %+v", s)
	}
	if !s.TotalClaimed.IsZero() {
		t.Errorf("expected zero claimed, got %s", s.TotalClaimed)
	}
}

func TestSummaryWrite(t *testing.T) {
	s := Summarize([]*domain.DecisionResult{
		result(domain.DecisionApproved, domain.RiskLow, "3500", "1520", "1980", 0.9),
	})

	var buf bytes.Buffer
	if err := s.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Total claims", "APPROVED", "100.0%", "$3500.00", "$1520.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestExpectation(t *testing.T) {
	tests := []struct {
		category string
		risk     domain.RiskTier
		decision domain.Decision
	}{
		{CategoryLowRisk, domain.RiskLow, domain.DecisionApproved},
		{CategoryMediumRisk, domain.RiskMedium, domain.DecisionRequiresReview},
		{CategoryHighRisk, domain.RiskHigh, domain.DecisionRequiresReview},
		{CategoryQuestionable, domain.RiskMedium, domain.DecisionRequiresReview},
		{"unknown", domain.RiskMedium, domain.DecisionRequiresReview},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			risk, decision := Expectation(tt.category)
			if risk != tt.risk {
				t.Errorf("expected risk %s, got %s", tt.risk, risk)
			}
			if decision != tt.decision {
				t.Errorf("expected decision %s, got %s", tt.decision, decision)
			}
		})
	}
}

func TestLoadCases(t *testing.T) {
	input := `[
		{"name": "low_cataract_1", "text": "Diagnosis: Cataract", "expected_category": "low_risk"},
		{"name": "high_sepsis_1", "text": "Diagnosis: Severe sepsis", "expected_category": "high_risk",
		 "expected_risk": "HIGH", "expected_decision": "DENIED"}
	]`

	cases, err := LoadCases(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadCases failed: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
	if cases[0].ExpectedDecision != domain.DecisionApproved || cases[0].ExpectedRisk != domain.RiskLow {
		t.Errorf("expected defaults from category, got %+v", cases[0])
	}
	if cases[1].ExpectedDecision != domain.DecisionDenied {
		t.Errorf("expected explicit label to win, got %s", cases[1].ExpectedDecision)
	}

	if _, err := LoadCases(strings.NewReader("{")); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestAccuracy(t *testing.T) {
	cases := []LabelledCase{
		{Name: "a", Category: CategoryLowRisk, ExpectedRisk: domain.RiskLow, ExpectedDecision: domain.DecisionApproved},
		{Name: "b", Category: CategoryLowRisk, ExpectedRisk: domain.RiskLow, ExpectedDecision: domain.DecisionApproved},
		{Name: "c", Category: CategoryHighRisk, ExpectedRisk: domain.RiskHigh, ExpectedDecision: domain.DecisionRequiresReview},
		{Name: "d", Category: CategoryQuestionable, ExpectedRisk: domain.RiskMedium, ExpectedDecision: domain.DecisionRequiresReview},
	}
	results := []*domain.DecisionResult{
		{Decision: domain.DecisionApproved, RiskTier: domain.RiskLow},
		{Decision: domain.DecisionRequiresReview, RiskTier: domain.RiskLow},
		{Decision: domain.DecisionRequiresReview, RiskTier: domain.RiskHigh},
		{Decision: domain.DecisionDenied, RiskTier: domain.RiskMedium},
	}

	rep, err := Accuracy(cases, results)
	if err != nil {
		t.Fatalf("Accuracy failed: %v", err)
	}

	if rep.Total != 4 {
		t.Errorf("expected 4 cases, got %d", rep.Total)
	}
	if rep.DecisionMatches != 2 {
		t.Errorf("expected 2 decision matches, got %d", rep.DecisionMatches)
	}
	if rep.RiskMatches != 4 {
		t.Errorf("expected 4 risk matches, got %d", rep.RiskMatches)
	}
	if !approx(rep.DecisionRate, 0.5) {
		t.Errorf("expected decision rate 0.5, got %v", rep.DecisionRate)
	}

	if len(rep.Categories) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(rep.Categories))
	}
	if rep.Categories[0].Category != CategoryHighRisk {
		t.Errorf("expected categories sorted by name, got %s first", rep.Categories[0].Category)
	}
	low := rep.Categories[1]
	if low.Category != CategoryLowRisk || low.Total != 2 || !approx(low.DecisionRate, 0.5) {
		t.Errorf("unexpected low_risk accuracy: %+v", low)
	}

	if len(rep.Mismatches) != 2 {
		t.Fatalf("expected 2 mismatches, got %d", len(rep.Mismatches))
	}
	if rep.Mismatches[0].Name != "b" || rep.Mismatches[0].ActualDecision != domain.DecisionRequiresReview {
		t.Errorf("unexpected first mismatch: %+v", rep.Mismatches[0])
	}

	var buf bytes.Buffer
	if err := rep.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "MISMATCH") {
		t.Errorf("expected mismatch table, got:\n%s", buf.String())
	}
}

func TestAccuracyErrors(t *testing.T) {
	cases := []LabelledCase{{Name: "a", Category: CategoryLowRisk}}

	if _, err := Accuracy(cases, nil); err == nil {
		t.Error("expected error for length mismatch")
	}
	if _, err := Accuracy(cases, []*domain.DecisionResult{nil}); err == nil {
		t.Error("expected error for nil result")
	}
}
