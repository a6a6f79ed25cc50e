package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.0.
const WeightTolerance = 1e-6

// DecisionConfig is the process-wide scoring configuration.
// It is validated once at load and never mutated afterwards.
type DecisionConfig struct {
	Version string `json:"version" yaml:"version"`

	Weights    Weights    `json:"weights" yaml:"weights"`
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds"`

	CoverageScores map[Verdict]float64  `json:"coverageScores" yaml:"coverage_scores"`
	RiskScores     map[RiskTier]float64 `json:"riskScores" yaml:"risk_scores"`

	CostLimits   CostLimits         `json:"costLimits" yaml:"cost_limits"`
	Risk         RiskConfig         `json:"risk" yaml:"risk"`
	Requirements RequirementsConfig `json:"requirements" yaml:"requirements"`
	Matching     MatchingConfig     `json:"matching" yaml:"matching"`
	Confidence   ConfidenceConfig   `json:"confidence" yaml:"confidence"`

	// Templates are text/template sources keyed by decision
	Templates map[Decision]string `json:"templates" yaml:"templates"`
}

// Weights are the composite score weights of the four sub-scores.
type Weights struct {
	CoverageStatus      float64 `json:"coverageStatus" yaml:"coverage_status"`
	RiskLevel           float64 `json:"riskLevel" yaml:"risk_level"`
	CostCompliance      float64 `json:"costCompliance" yaml:"cost_compliance"`
	SpecialRequirements float64 `json:"specialRequirements" yaml:"special_requirements"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.CoverageStatus + w.RiskLevel + w.CostCompliance + w.SpecialRequirements
}

// Thresholds map the composite score to a decision.
// Valid configs satisfy AutoDeny <= ManualReview <= AutoApprove.
type Thresholds struct {
	AutoApprove  float64 `json:"autoApprove" yaml:"auto_approve"`
	ManualReview float64 `json:"manualReview" yaml:"manual_review"`
	AutoDeny     float64 `json:"autoDeny" yaml:"auto_deny"`
}

// CostLimits hold the benefit cost-sharing parameters.
type CostLimits struct {
	Deductible      decimal.Decimal `json:"deductible" yaml:"deductible"`
	CoinsuranceRate decimal.Decimal `json:"coinsuranceRate" yaml:"coinsurance_rate"`

	// Insurer payment bands for cost compliance
	NormalCostThreshold    decimal.Decimal `json:"normalCostThreshold" yaml:"normal_cost_threshold"`
	HighCostThreshold      decimal.Decimal `json:"highCostThreshold" yaml:"high_cost_threshold"`
	UltraHighCostThreshold decimal.Decimal `json:"ultraHighCostThreshold" yaml:"ultra_high_cost_threshold"`

	// MaxClaimAmount rejects absurd costs
	MaxClaimAmount decimal.Decimal `json:"maxClaimAmount" yaml:"max_claim_amount"`

	// CeilingExceededScore caps cost compliance when a rule ceiling is exceeded
	CeilingExceededScore float64 `json:"ceilingExceededScore" yaml:"ceiling_exceeded_score"`
}

// RiskConfig configures the risk scorer.
type RiskConfig struct {
	MediumCostThreshold decimal.Decimal `json:"mediumCostThreshold" yaml:"medium_cost_threshold"`
	HighCostThreshold   decimal.Decimal `json:"highCostThreshold" yaml:"high_cost_threshold"`

	// Additive score thresholds for MEDIUM and HIGH tiers
	MediumScore float64 `json:"mediumScore" yaml:"medium_score"`
	HighScore   float64 `json:"highScore" yaml:"high_score"`

	Indicators []IndicatorConfig `json:"indicators" yaml:"indicators"`
}

// IndicatorConfig is a configurable risk signal.
// With both Keywords and Expression set, both must hold for it to fire.
type IndicatorConfig struct {
	Name       string   `json:"name" yaml:"name"`
	Keywords   []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	Impact     float64  `json:"impact" yaml:"impact"`
}

// RequirementsConfig configures the special requirements sub-score.
type RequirementsConfig struct {
	PriorAuthorizationPenalty     float64 `json:"priorAuthorizationPenalty" yaml:"prior_authorization_penalty"`
	PhysicianCertificationPenalty float64 `json:"physicianCertificationPenalty" yaml:"physician_certification_penalty"`

	// Treatment phrases that require a requirement regardless of the matched rule
	PriorAuthorizationTriggers     []string `json:"priorAuthorizationTriggers,omitempty" yaml:"prior_authorization_triggers,omitempty"`
	PhysicianCertificationTriggers []string `json:"physicianCertificationTriggers,omitempty" yaml:"physician_certification_triggers,omitempty"`

	// Phrases in the claim text that evidence a requirement was met
	PriorAuthorizationEvidence     []string `json:"priorAuthorizationEvidence,omitempty" yaml:"prior_authorization_evidence,omitempty"`
	PhysicianCertificationEvidence []string `json:"physicianCertificationEvidence,omitempty" yaml:"physician_certification_evidence,omitempty"`
}

// MatchingConfig configures the policy matcher.
type MatchingConfig struct {
	// MinScore is the minimum keyword hit count for a rule to count as matched
	MinScore   float64 `json:"minScore" yaml:"min_score"`
	MaxMatches int     `json:"maxMatches" yaml:"max_matches"`
}

// ConfidenceConfig configures decision confidence.
type ConfidenceConfig struct {
	// Scale is the boundary distance that maps to full confidence
	Scale float64 `json:"scale" yaml:"scale"`

	// Veto is the confidence of an explicit exclusion denial
	Veto float64 `json:"veto" yaml:"veto"`
}

// DefaultDecisionConfig returns the built-in scoring configuration.
func DefaultDecisionConfig() *DecisionConfig {
	return &DecisionConfig{
		Version: "builtin-1",
		Weights: Weights{
			CoverageStatus:      0.40,
			RiskLevel:           0.30,
			CostCompliance:      0.20,
			SpecialRequirements: 0.10,
		},
		Thresholds: Thresholds{
			AutoApprove:  0.85,
			ManualReview: 0.60,
			AutoDeny:     0.40,
		},
		CoverageScores: map[Verdict]float64{
			VerdictCovered:        1.0,
			VerdictConditional:    0.7,
			VerdictRequiresReview: 0.5,
			VerdictUnknown:        0.3,
			VerdictExcluded:       0.0,
		},
		RiskScores: map[RiskTier]float64{
			RiskLow:    1.0,
			RiskMedium: 0.6,
			RiskHigh:   0.2,
		},
		CostLimits: CostLimits{
			Deductible:             decimal.NewFromInt(1600),
			CoinsuranceRate:        decimal.RequireFromString("0.20"),
			NormalCostThreshold:    decimal.NewFromInt(25000),
			HighCostThreshold:      decimal.NewFromInt(50000),
			UltraHighCostThreshold: decimal.NewFromInt(100000),
			MaxClaimAmount:         decimal.NewFromInt(10000000),
			CeilingExceededScore:   0.3,
		},
		Risk: RiskConfig{
			MediumCostThreshold: decimal.NewFromInt(10000),
			HighCostThreshold:   decimal.NewFromInt(50000),
			MediumScore:         2,
			HighScore:           5,
			Indicators: []IndicatorConfig{
				{Name: "experimental_treatment", Keywords: []string{"experimental", "investigational", "试验性", "实验性"}, Impact: 3},
				{Name: "critical_care", Keywords: []string{"mechanical ventilation", "invasive ventilation", "intensive care", "icu", "respiratory failure", "organ failure", "机械通气", "重症监护", "呼吸衰竭"}, Impact: 3},
				{Name: "elective_procedure", Keywords: []string{"elective", "择期"}, Impact: 2},
				{Name: "conditional_high_cost", Expression: `verdict == "CONDITIONAL" && cost >= 25000.0`, Impact: 2},
				{Name: "routine_care", Keywords: []string{"routine", "preventive", "常规", "预防"}, Impact: -1},
			},
		},
		Requirements: RequirementsConfig{
			PriorAuthorizationPenalty:      0.5,
			PhysicianCertificationPenalty:  0.3,
			PriorAuthorizationTriggers:     []string{"experimental", "investigational", "cosmetic surgery", "pet scan", "durable medical equipment"},
			PhysicianCertificationTriggers: []string{"home health", "hospice", "skilled nursing facility", "durable medical equipment"},
			PriorAuthorizationEvidence:     []string{"prior authorization obtained", "prior authorization approved", "pre authorized", "preauthorized", "authorization number", "已获预授权"},
			PhysicianCertificationEvidence: []string{"physician certification", "physician certified", "certified by physician", "医生证明"},
		},
		Matching: MatchingConfig{
			MinScore:   1,
			MaxMatches: 3,
		},
		Confidence: ConfidenceConfig{
			Scale: 0.25,
			Veto:  1.0,
		},
		Templates: map[Decision]string{
			DecisionApproved:       `Claim approved under {{.RuleID}}: {{.Reason}}. Composite score {{printf "%.2f" .Score}}, risk {{.RiskTier}}, amount ${{.Amount}}.`,
			DecisionRequiresReview: `Claim routed to manual review: {{.Reason}}. Rule {{.RuleID}}, composite score {{printf "%.2f" .Score}}, risk {{.RiskTier}}, amount ${{.Amount}}.`,
			DecisionDenied:         `Claim denied: {{.Reason}}. Rule {{.RuleID}}, composite score {{printf "%.2f" .Score}}, risk {{.RiskTier}}, amount ${{.Amount}}.`,
			DecisionError:          `Claim could not be evaluated: {{.Reason}}.`,
		},
	}
}

// Validate checks every recognized option and returns a ConfigurationError
// for the first violation found.
func (c *DecisionConfig) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		"weights.coverage_status":      w.CoverageStatus,
		"weights.risk_level":           w.RiskLevel,
		"weights.cost_compliance":      w.CostCompliance,
		"weights.special_requirements": w.SpecialRequirements,
	} {
		if !unit(v) {
			return NewConfigError(name, "must be within [0,1], got %g", v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > WeightTolerance {
		return NewConfigError("weights", "must sum to 1.0, got %.9f", sum)
	}

	t := c.Thresholds
	if !unit(t.AutoApprove) || !unit(t.ManualReview) || !unit(t.AutoDeny) {
		return NewConfigError("thresholds", "must be within [0,1]")
	}
	if !(t.AutoDeny <= t.ManualReview && t.ManualReview <= t.AutoApprove) {
		return NewConfigError("thresholds", "must satisfy auto_deny <= manual_review <= auto_approve, got %g/%g/%g",
			t.AutoDeny, t.ManualReview, t.AutoApprove)
	}

	for _, v := range AllVerdicts {
		score, ok := c.CoverageScores[v]
		if !ok {
			return NewConfigError("coverage_scores", "missing score for %s", v)
		}
		if !unit(score) {
			return NewConfigError("coverage_scores."+string(v), "must be within [0,1], got %g", score)
		}
	}
	if c.CoverageScores[VerdictUnknown] >= c.CoverageScores[VerdictCovered] {
		return NewConfigError("coverage_scores.UNKNOWN", "must be below the COVERED score")
	}
	for _, tier := range AllRiskTiers {
		score, ok := c.RiskScores[tier]
		if !ok {
			return NewConfigError("risk_scores", "missing score for %s", tier)
		}
		if !unit(score) {
			return NewConfigError("risk_scores."+string(tier), "must be within [0,1], got %g", score)
		}
	}

	if err := c.CostLimits.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}

	r := c.Requirements
	if !unit(r.PriorAuthorizationPenalty) || !unit(r.PhysicianCertificationPenalty) {
		return NewConfigError("requirements", "penalties must be within [0,1]")
	}

	if c.Matching.MinScore < 0 {
		return NewConfigError("matching.min_score", "must not be negative")
	}
	if c.Matching.MaxMatches < 1 {
		return NewConfigError("matching.max_matches", "must be at least 1")
	}

	if c.Confidence.Scale <= 0 {
		return NewConfigError("confidence.scale", "must be positive")
	}
	if !unit(c.Confidence.Veto) {
		return NewConfigError("confidence.veto", "must be within [0,1]")
	}

	for _, d := range AllDecisions {
		if strings.TrimSpace(c.Templates[d]) == "" {
			return NewConfigError("templates", "missing template for %s", d)
		}
	}

	return nil
}

func (l CostLimits) validate() error {
	if l.Deductible.IsNegative() {
		return NewConfigError("cost_limits.deductible", "must not be negative")
	}
	if l.CoinsuranceRate.IsNegative() || l.CoinsuranceRate.GreaterThan(decimal.NewFromInt(1)) {
		return NewConfigError("cost_limits.coinsurance_rate", "must be within [0,1]")
	}
	if !l.NormalCostThreshold.IsPositive() {
		return NewConfigError("cost_limits.normal_cost_threshold", "must be positive")
	}
	if !l.HighCostThreshold.GreaterThan(l.NormalCostThreshold) {
		return NewConfigError("cost_limits.high_cost_threshold", "must exceed normal_cost_threshold")
	}
	if !l.UltraHighCostThreshold.GreaterThan(l.HighCostThreshold) {
		return NewConfigError("cost_limits.ultra_high_cost_threshold", "must exceed high_cost_threshold")
	}
	if !l.MaxClaimAmount.IsPositive() {
		return NewConfigError("cost_limits.max_claim_amount", "must be positive")
	}
	if !unit(l.CeilingExceededScore) {
		return NewConfigError("cost_limits.ceiling_exceeded_score", "must be within [0,1]")
	}
	return nil
}

func (r RiskConfig) validate() error {
	if r.MediumCostThreshold.IsNegative() {
		return NewConfigError("risk.medium_cost_threshold", "must not be negative")
	}
	if r.HighCostThreshold.LessThan(r.MediumCostThreshold) {
		return NewConfigError("risk.high_cost_threshold", "must not be below medium_cost_threshold")
	}
	if r.MediumScore <= 0 || r.HighScore < r.MediumScore {
		return NewConfigError("risk", "must satisfy 0 < medium_score <= high_score, got %g/%g", r.MediumScore, r.HighScore)
	}

	seen := make(map[string]bool, len(r.Indicators))
	for i, ind := range r.Indicators {
		if ind.Name == "" {
			return NewConfigError("risk.indicators", "indicator %d has no name", i)
		}
		if seen[ind.Name] {
			return NewConfigError("risk.indicators", "duplicate indicator %q", ind.Name)
		}
		seen[ind.Name] = true
		if len(ind.Keywords) == 0 && strings.TrimSpace(ind.Expression) == "" {
			return NewConfigError("risk.indicators."+ind.Name, "needs keywords or an expression")
		}
	}
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}
