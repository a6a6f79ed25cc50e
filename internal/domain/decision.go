package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the final determination for a claim.
type Decision string

const (
	DecisionApproved       Decision = "APPROVED"
	DecisionRequiresReview Decision = "REQUIRES_REVIEW"
	DecisionDenied         Decision = "DENIED"

	// DecisionError marks a claim that could not be evaluated
	DecisionError Decision = "ERROR"
)

// AllDecisions lists every decision that carries an explanation template.
var AllDecisions = []Decision{DecisionApproved, DecisionRequiresReview, DecisionDenied, DecisionError}

// Factor names, in reporting order.
const (
	FactorCoverageStatus      = "coverage_status"
	FactorRiskLevel           = "risk_level"
	FactorCostCompliance      = "cost_compliance"
	FactorSpecialRequirements = "special_requirements"
)

// Factor shows how a single sub-score contributed to the composite score.
type Factor struct {
	Name         string  `json:"name"`
	Score        float64 `json:"score"`        // sub-score in [0,1]
	Weight       float64 `json:"weight"`       // configured weight
	Contribution float64 `json:"contribution"` // score * weight
	Detail       string  `json:"detail,omitempty"`
}

// FinancialBreakdown splits the claim cost between patient and insurer.
type FinancialBreakdown struct {
	TotalCost             decimal.Decimal `json:"totalCost"`
	DeductibleApplied     decimal.Decimal `json:"deductibleApplied"`
	CoinsuranceRate       decimal.Decimal `json:"coinsuranceRate"`
	Coinsurance           decimal.Decimal `json:"coinsurance"`
	PatientResponsibility decimal.Decimal `json:"patientResponsibility"`
	InsurancePayment      decimal.Decimal `json:"insurancePayment"`
}

// DecisionResult is the terminal artifact of claim evaluation.
type DecisionResult struct {
	ID      string `json:"id,omitempty"`
	ClaimID string `json:"claimId,omitempty"`

	Decision       Decision `json:"decision"`
	CompositeScore float64  `json:"compositeScore"`
	Confidence     float64  `json:"confidence"`
	Factors        []Factor `json:"factors,omitempty"`
	Explanation    string   `json:"explanation"`
	Reason         string   `json:"reason,omitempty"`

	Financial *FinancialBreakdown `json:"financial,omitempty"`

	Verdict      Verdict         `json:"verdict,omitempty"`
	RiskTier     RiskTier        `json:"riskTier,omitempty"`
	MatchedRules []string        `json:"matchedRules,omitempty"`
	Indicators   []RiskIndicator `json:"indicators,omitempty"`
	Requirements []string        `json:"requirements,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`

	ProcedureCode   string `json:"procedureCode,omitempty"`
	BenefitCategory string `json:"benefitCategory,omitempty"`

	// Versions of the inputs the decision was computed against
	RuleSnapshotVersion string `json:"ruleSnapshotVersion,omitempty"`
	ConfigVersion       string `json:"configVersion,omitempty"`

	// Audit fields attached by the caller, never by the decision engine
	EvaluatedAt time.Time     `json:"evaluatedAt,omitzero"`
	Metadata    *EvalMetadata `json:"metadata,omitempty"`

	// Error is the failure reason for DecisionError records
	Error string `json:"error,omitempty"`
}

// IsError reports whether the result is a per-claim failure record.
func (r *DecisionResult) IsError() bool {
	return r.Decision == DecisionError
}

// EvalMetadata contains processing information.
type EvalMetadata struct {
	TraceID    string `json:"traceId,omitempty"`
	MatchMs    int64  `json:"matchMs"`
	RiskMs     int64  `json:"riskMs"`
	DecisionMs int64  `json:"decisionMs"`
	TotalMs    int64  `json:"totalMs"`
	Cached     bool   `json:"cached,omitempty"`
	Version    string `json:"engineVersion"`
}
