// Package decision combines coverage, risk, cost and requirement sub-scores
// into a final claim determination.
package decision

import (
	"fmt"
	"math"
	"strings"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/textnorm"
)

// Requirement names reported on DecisionResult.Requirements.
const (
	RequirementPriorAuthorization     = "prior_authorization"
	RequirementPhysicianCertification = "physician_certification"
)

// Fixed reasons, one per mapping branch.
const (
	ReasonExcluded       = "the service is excluded from coverage"
	ReasonApproved       = "coverage confirmed at low risk with a score above the approval threshold"
	ReasonDenied         = "the composite score is below the denial threshold"
	ReasonRiskReview     = "the risk level requires manual review"
	ReasonNoRuleReview   = "no coverage rule matched the claim"
	ReasonScoreReview    = "the composite score is between the denial and approval thresholds"
	ReasonMissingInput   = "missing input"
	ReasonInvalidCost    = "invalid cost"
	ReasonTimeout        = "evaluation timed out"
	ReasonInternalFailed = "internal error"
)

// scorePrecision rounds composite scores so threshold comparisons are
// stable against float summation order.
const scorePrecision = 1e9

// Engine makes decisions. It is immutable after NewEngine and safe for
// concurrent use.
type Engine struct {
	cfg       *domain.DecisionConfig
	templates map[domain.Decision]*template.Template

	priorAuthTriggers     textnorm.PhraseSet
	certificationTriggers textnorm.PhraseSet
	priorAuthEvidence     textnorm.PhraseSet
	certificationEvidence textnorm.PhraseSet
}

// NewEngine validates cfg and parses its explanation templates.
// No engine exists for an invalid config.
func NewEngine(cfg *domain.DecisionConfig) (*Engine, error) {
	if cfg == nil {
		return nil, domain.NewConfigError("", "decision config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	templates, err := parseTemplates(cfg.Templates)
	if err != nil {
		return nil, err
	}

	r := cfg.Requirements
	return &Engine{
		cfg:                   cfg,
		templates:             templates,
		priorAuthTriggers:     textnorm.NewPhraseSet(r.PriorAuthorizationTriggers),
		certificationTriggers: textnorm.NewPhraseSet(r.PhysicianCertificationTriggers),
		priorAuthEvidence:     textnorm.NewPhraseSet(r.PriorAuthorizationEvidence),
		certificationEvidence: textnorm.NewPhraseSet(r.PhysicianCertificationEvidence),
	}, nil
}

// Config returns the engine's configuration. Callers must not modify it.
func (e *Engine) Config() *domain.DecisionConfig {
	return e.cfg
}

// Version returns the configuration version.
func (e *Engine) Version() string {
	return e.cfg.Version
}

// Decide produces the decision for a claim from its match and risk results.
// The result carries no ID or timestamp; those are the caller's.
func (e *Engine) Decide(claim *domain.NormalizedClaim, match *domain.MatchResult, risk *domain.RiskAssessment) (*domain.DecisionResult, error) {
	switch {
	case claim == nil:
		return nil, &domain.MissingInputError{Input: "claim"}
	case match == nil:
		return nil, &domain.MissingInputError{Input: "match result"}
	case risk == nil:
		return nil, &domain.MissingInputError{Input: "risk assessment"}
	}
	if err := claim.ValidateCost(e.cfg.CostLimits.MaxClaimAmount); err != nil {
		return nil, err
	}

	coverage, ok := e.cfg.CoverageScores[match.Verdict]
	if !ok {
		return nil, &domain.MissingInputError{Input: "coverage score for verdict " + string(match.Verdict)}
	}
	riskScore, ok := e.cfg.RiskScores[risk.Tier]
	if !ok {
		return nil, &domain.MissingInputError{Input: "risk score for tier " + string(risk.Tier)}
	}

	fin := Financials(claim.Cost, e.cfg.CostLimits)
	ceilingExceeded := match.PrimaryRule != nil && match.PrimaryRule.CostCeiling != nil &&
		claim.Cost.GreaterThan(*match.PrimaryRule.CostCeiling)
	compliance := CostCompliance(fin.InsurancePayment, e.cfg.CostLimits, ceilingExceeded)

	special, outstanding := e.specialRequirements(claim, match)

	w := e.cfg.Weights
	factors := []domain.Factor{
		factor(domain.FactorCoverageStatus, coverage, w.CoverageStatus, "verdict "+string(match.Verdict)),
		factor(domain.FactorRiskLevel, riskScore, w.RiskLevel, "tier "+string(risk.Tier)),
		factor(domain.FactorCostCompliance, compliance, w.CostCompliance, complianceDetail(fin, ceilingExceeded)),
		factor(domain.FactorSpecialRequirements, special, w.SpecialRequirements, requirementsDetail(outstanding)),
	}
	var composite float64
	for _, f := range factors {
		composite += f.Contribution
	}
	composite = math.Round(composite*scorePrecision) / scorePrecision

	decision, reason, confidence := e.classify(composite, match, risk)

	result := &domain.DecisionResult{
		ClaimID:         claim.ID,
		Decision:        decision,
		CompositeScore:  composite,
		Confidence:      confidence,
		Factors:         factors,
		Reason:          reason,
		Financial:       fin,
		Verdict:         match.Verdict,
		RiskTier:        risk.Tier,
		MatchedRules:    match.RuleIDs,
		Indicators:      risk.Indicators,
		Requirements:    outstanding,
		Warnings:        e.warnings(claim.Cost, match, ceilingExceeded, outstanding),
		BenefitCategory: match.BenefitCategory,
		ConfigVersion:   e.cfg.Version,
	}
	if match.ProcedureCode != nil {
		result.ProcedureCode = match.ProcedureCode.Code
	}

	explanation, err := e.explain(decision, explanationData(claim, match, risk, composite, reason))
	if err != nil {
		return nil, err
	}
	result.Explanation = explanation

	return result, nil
}

// classify applies the ordered decision mapping.
func (e *Engine) classify(composite float64, match *domain.MatchResult, risk *domain.RiskAssessment) (domain.Decision, string, float64) {
	t := e.cfg.Thresholds

	if match.Verdict == domain.VerdictExcluded {
		return domain.DecisionDenied, ReasonExcluded, e.cfg.Confidence.Veto
	}

	confidence := e.confidence(composite)
	switch {
	case composite >= t.AutoApprove && risk.Tier == domain.RiskLow:
		return domain.DecisionApproved, ReasonApproved, confidence
	case composite < t.AutoDeny:
		return domain.DecisionDenied, ReasonDenied, confidence
	case composite >= t.AutoApprove:
		return domain.DecisionRequiresReview, ReasonRiskReview, confidence
	case !match.Matched():
		return domain.DecisionRequiresReview, ReasonNoRuleReview, confidence
	default:
		return domain.DecisionRequiresReview, ReasonScoreReview, confidence
	}
}

// confidence is the distance from the composite score to the nearest
// threshold, scaled and clamped to [0,1]. All three thresholds count as
// boundaries, including ManualReview.
func (e *Engine) confidence(composite float64) float64 {
	t := e.cfg.Thresholds
	d := math.Abs(composite - t.AutoDeny)
	d = math.Min(d, math.Abs(composite-t.ManualReview))
	d = math.Min(d, math.Abs(composite-t.AutoApprove))
	c := d / e.cfg.Confidence.Scale
	c = math.Round(c*scorePrecision) / scorePrecision
	return math.Max(0, math.Min(1, c))
}

// specialRequirements returns the requirements sub-score and the names of
// requirements that apply but are not evidenced in the claim text.
func (e *Engine) specialRequirements(claim *domain.NormalizedClaim, match *domain.MatchResult) (float64, []string) {
	diagnosis := textnorm.NewText(claim.Diagnosis)
	procedure := textnorm.NewText(claim.Procedure)
	rule := match.PrimaryRule

	score := 1.0
	var outstanding []string

	check := func(flag bool, triggers, evidence textnorm.PhraseSet, penalty float64, name string) {
		if !flag {
			_, flag = triggers.FirstMatch(diagnosis, procedure)
		}
		if !flag {
			return
		}
		if _, ok := evidence.FirstMatch(diagnosis, procedure); ok {
			return
		}
		score -= penalty
		outstanding = append(outstanding, name)
	}

	r := e.cfg.Requirements
	check(rule != nil && rule.PriorAuthorization, e.priorAuthTriggers, e.priorAuthEvidence,
		r.PriorAuthorizationPenalty, RequirementPriorAuthorization)
	check(rule != nil && rule.PhysicianCertification, e.certificationTriggers, e.certificationEvidence,
		r.PhysicianCertificationPenalty, RequirementPhysicianCertification)

	return math.Max(0, score), outstanding
}

func (e *Engine) warnings(cost decimal.Decimal, match *domain.MatchResult, ceilingExceeded bool, outstanding []string) []string {
	l := e.cfg.CostLimits
	var out []string
	switch {
	case cost.GreaterThan(l.UltraHighCostThreshold):
		out = append(out, "ultra high cost claim above $"+l.UltraHighCostThreshold.StringFixed(2))
	case cost.GreaterThan(l.HighCostThreshold):
		out = append(out, "high cost claim above $"+l.HighCostThreshold.StringFixed(2))
	}
	if ceilingExceeded {
		out = append(out, fmt.Sprintf("cost exceeds the $%s ceiling of %s",
			match.PrimaryRule.CostCeiling.StringFixed(2), match.PrimaryRule.ID))
	}
	for _, name := range outstanding {
		out = append(out, strings.ReplaceAll(name, "_", " ")+" not documented")
	}
	return out
}

func factor(name string, score, weight float64, detail string) domain.Factor {
	return domain.Factor{
		Name:         name,
		Score:        score,
		Weight:       weight,
		Contribution: score * weight,
		Detail:       detail,
	}
}

func complianceDetail(fin *domain.FinancialBreakdown, ceilingExceeded bool) string {
	detail := "insurer payment $" + fin.InsurancePayment.StringFixed(2)
	if ceilingExceeded {
		detail += ", rule cost ceiling exceeded"
	}
	return detail
}

func requirementsDetail(outstanding []string) string {
	if len(outstanding) == 0 {
		return "no outstanding requirements"
	}
	return "outstanding: " + strings.Join(outstanding, ", ")
}
