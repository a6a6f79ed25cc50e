package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NormalizedClaim is the only claim shape the evaluation core accepts.
// It is produced once by the extractor and never mutated afterwards.
type NormalizedClaim struct {
	ID        string          `json:"id,omitempty"`
	PatientID string          `json:"patientId"`
	Diagnosis string          `json:"diagnosis"`
	Procedure string          `json:"procedure"`
	Cost      decimal.Decimal `json:"cost"`
	Language  string          `json:"language,omitempty"` // "en", "zh"
}

// Language tags.
const (
	LanguageEnglish = "en"
	LanguageChinese = "zh"
)

// ClaimRecord is a persisted claim submission.
type ClaimRecord struct {
	NormalizedClaim
	SubmittedAt time.Time `json:"submittedAt"`

	// RawInput is the original text or JSON, if any
	RawInput string `json:"rawInput,omitempty"`
}

// MatchResult is the output of policy matching for one claim.
type MatchResult struct {
	ClaimID string  `json:"claimId,omitempty"`
	Verdict Verdict `json:"verdict"`

	// RuleIDs are ordered by match confidence, highest first
	RuleIDs []string `json:"ruleIds,omitempty"`

	// Score is the keyword hit count of the top rule
	Score float64 `json:"score"`

	// Confidence is hits/keywords of the top rule
	Confidence float64 `json:"confidence"`

	// PrimaryRule is a copy of the top rule, nil when nothing matched
	PrimaryRule *CoverageRule `json:"primaryRule,omitempty"`

	ProcedureCode   *ProcedureCode `json:"procedureCode,omitempty"`
	BenefitCategory string         `json:"benefitCategory,omitempty"`
}

// Matched reports whether a coverage rule cleared the match threshold.
func (m *MatchResult) Matched() bool {
	return m.PrimaryRule != nil
}

// RiskTier is the LOW/MEDIUM/HIGH classification of a claim.
type RiskTier string

const (
	RiskLow    RiskTier = "LOW"
	RiskMedium RiskTier = "MEDIUM"
	RiskHigh   RiskTier = "HIGH"
)

// AllRiskTiers lists tiers from lowest to highest.
var AllRiskTiers = []RiskTier{RiskLow, RiskMedium, RiskHigh}

// Rank orders tiers: LOW=0, MEDIUM=1, HIGH=2.
func (t RiskTier) Rank() int {
	switch t {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// MaxTier returns the higher of two tiers.
func MaxTier(a, b RiskTier) RiskTier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RiskIndicator is a fired risk signal.
type RiskIndicator struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// RiskAssessment is the output of risk scoring for one claim.
type RiskAssessment struct {
	Tier       RiskTier        `json:"tier"`
	FloorTier  RiskTier        `json:"floorTier"`
	Score      float64         `json:"score"`
	Indicators []RiskIndicator `json:"indicators,omitempty"`
}

// ValidateCost rejects a negative cost or one above limit.
// A non-positive limit disables the upper bound.
func (c *NormalizedClaim) ValidateCost(limit decimal.Decimal) error {
	if c.Cost.IsNegative() {
		return &InvalidCostError{Cost: c.Cost.String(), Reason: "must not be negative"}
	}
	if limit.IsPositive() && c.Cost.GreaterThan(limit) {
		return &InvalidCostError{Cost: c.Cost.String(), Reason: "exceeds maximum claim amount " + limit.String()}
	}
	return nil
}
