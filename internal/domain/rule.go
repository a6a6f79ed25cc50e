package domain

import (
	"github.com/shopspring/decimal"
)

// Verdict is the coverage classification of a claim against the rule snapshot.
type Verdict string

const (
	VerdictCovered        Verdict = "COVERED"
	VerdictConditional    Verdict = "CONDITIONAL"
	VerdictExcluded       Verdict = "EXCLUDED"
	VerdictUnknown        Verdict = "UNKNOWN"
	VerdictRequiresReview Verdict = "REQUIRES_REVIEW"
)

// RuleVerdicts are the verdicts a CoverageRule may carry.
var RuleVerdicts = []Verdict{VerdictCovered, VerdictConditional, VerdictExcluded}

// AllVerdicts are every verdict the matcher can emit.
var AllVerdicts = []Verdict{
	VerdictCovered,
	VerdictConditional,
	VerdictExcluded,
	VerdictUnknown,
	VerdictRequiresReview,
}

// Severity orders verdicts from least to most conservative.
// Used to break exact ties between rules.
func (v Verdict) Severity() int {
	switch v {
	case VerdictExcluded:
		return 3
	case VerdictConditional:
		return 2
	case VerdictCovered:
		return 1
	default:
		return 0
	}
}

// IsRuleVerdict reports whether v may be carried by a CoverageRule.
func (v Verdict) IsRuleVerdict() bool {
	return v == VerdictCovered || v == VerdictConditional || v == VerdictExcluded
}

// CoverageRule is a single coverage determination (NCD/LCD derived).
type CoverageRule struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`

	// Source is the originating determination, e.g. "NCD_80.10"
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Keywords are the trigger phrases matched against claim text
	Keywords []string `json:"keywords" yaml:"keywords"`

	Verdict Verdict `json:"verdict" yaml:"verdict"`

	// CostCeiling is optional; nil means no ceiling
	CostCeiling *decimal.Decimal `json:"costCeiling,omitempty" yaml:"cost_ceiling,omitempty"`

	PriorAuthorization     bool `json:"priorAuthorization,omitempty" yaml:"prior_authorization,omitempty"`
	PhysicianCertification bool `json:"physicianCertification,omitempty" yaml:"physician_certification,omitempty"`

	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ProcedureCode is a HCPCS/CPT catalog entry.
type ProcedureCode struct {
	Code            string  `json:"code" yaml:"code"`
	Description     string  `json:"description" yaml:"description"`
	BenefitCategory string  `json:"benefitCategory" yaml:"benefit_category"`
	DefaultCoverage Verdict `json:"defaultCoverage,omitempty" yaml:"default_coverage,omitempty"`
}

// BenefitCategory maps treatment keywords to a benefit category name.
type BenefitCategory struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// DefaultBenefitCategory is used when nothing else identifies the benefit.
const DefaultBenefitCategory = "Physicians' Services"

// RuleSnapshot is the serializable, versioned rule database.
type RuleSnapshot struct {
	Version    string            `json:"version" yaml:"version"`
	Source     string            `json:"source,omitempty" yaml:"source,omitempty"`
	Rules      []CoverageRule    `json:"coverageRules" yaml:"coverage_rules"`
	Codes      []ProcedureCode   `json:"procedureCodes" yaml:"procedure_codes"`
	Categories []BenefitCategory `json:"benefitCategories,omitempty" yaml:"benefit_categories,omitempty"`

	// DefaultCategory overrides DefaultBenefitCategory when set
	DefaultCategory string `json:"defaultCategory,omitempty" yaml:"default_category,omitempty"`
}
