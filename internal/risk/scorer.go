// Package risk classifies claims into LOW, MEDIUM and HIGH risk tiers.
//
// The cost floor fixes the minimum tier. Configured indicators add to a
// score that can escalate the tier above the floor but never below it.
package risk

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/textnorm"
)

// Scorer assesses claim risk. It is immutable after NewScorer and safe for
// concurrent use.
type Scorer struct {
	mediumCost decimal.Decimal
	highCost   decimal.Decimal
	maxCost    decimal.Decimal

	mediumScore float64
	highScore   float64

	indicators []indicator
}

type indicator struct {
	name     string
	impact   float64
	keywords textnorm.PhraseSet
	program  cel.Program // nil when keyword-only
}

// NewScorer compiles the configured indicators. An invalid expression is a
// ConfigurationError.
func NewScorer(cfg *domain.DecisionConfig) (*Scorer, error) {
	if cfg == nil {
		return nil, domain.NewConfigError("risk", "decision config is required")
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	s := &Scorer{
		mediumCost:  cfg.Risk.MediumCostThreshold,
		highCost:    cfg.Risk.HighCostThreshold,
		maxCost:     cfg.CostLimits.MaxClaimAmount,
		mediumScore: cfg.Risk.MediumScore,
		highScore:   cfg.Risk.HighScore,
	}

	for _, ic := range cfg.Risk.Indicators {
		ind := indicator{
			name:     ic.Name,
			impact:   ic.Impact,
			keywords: textnorm.NewPhraseSet(ic.Keywords),
		}
		if ic.Expression != "" {
			prg, err := compile(env, ic.Expression)
			if err != nil {
				return nil, domain.NewConfigError("risk.indicators."+ic.Name, "%v", err)
			}
			ind.program = prg
		}
		s.indicators = append(s.indicators, ind)
	}

	return s, nil
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("cost", cel.DoubleType),
		cel.Variable("diagnosis", cel.StringType),
		cel.Variable("procedure", cel.StringType),
		cel.Variable("language", cel.StringType),
		cel.Variable("verdict", cel.StringType),
		cel.Variable("benefit_category", cel.StringType),
		cel.Variable("procedure_code", cel.StringType),
		cel.Variable("matched_rules", cel.IntType),
	)
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}

// Assess scores a claim using its match result.
func (s *Scorer) Assess(claim *domain.NormalizedClaim, match *domain.MatchResult) (*domain.RiskAssessment, error) {
	if claim == nil {
		return nil, &domain.MissingInputError{Input: "claim"}
	}
	if match == nil {
		return nil, &domain.MissingInputError{Input: "match result"}
	}
	if err := claim.ValidateCost(s.maxCost); err != nil {
		return nil, err
	}

	floor := s.floorTier(claim.Cost)
	score := s.tierScore(floor)

	diagnosis := textnorm.NewText(claim.Diagnosis)
	procedure := textnorm.NewText(claim.Procedure)

	var activation map[string]any
	var fired []domain.RiskIndicator
	for _, ind := range s.indicators {
		if ind.keywords.Len() > 0 {
			if _, ok := ind.keywords.FirstMatch(diagnosis, procedure); !ok {
				continue
			}
		}
		if ind.program != nil {
			if activation == nil {
				activation = newActivation(claim, match)
			}
			if !eval(ind.program, activation) {
				continue
			}
		}
		score += ind.impact
		fired = append(fired, domain.RiskIndicator{Name: ind.name, Weight: ind.impact})
	}

	return &domain.RiskAssessment{
		Tier:       domain.MaxTier(floor, s.scoreTier(score)),
		FloorTier:  floor,
		Score:      score,
		Indicators: fired,
	}, nil
}

func (s *Scorer) floorTier(cost decimal.Decimal) domain.RiskTier {
	switch {
	case cost.LessThan(s.mediumCost):
		return domain.RiskLow
	case cost.LessThan(s.highCost):
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

func (s *Scorer) tierScore(tier domain.RiskTier) float64 {
	switch tier {
	case domain.RiskHigh:
		return s.highScore
	case domain.RiskMedium:
		return s.mediumScore
	default:
		return 0
	}
}

func (s *Scorer) scoreTier(score float64) domain.RiskTier {
	switch {
	case score >= s.highScore:
		return domain.RiskHigh
	case score >= s.mediumScore:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func newActivation(claim *domain.NormalizedClaim, match *domain.MatchResult) map[string]any {
	code := ""
	if match.ProcedureCode != nil {
		code = match.ProcedureCode.Code
	}
	return map[string]any{
		"cost":             claim.Cost.InexactFloat64(),
		"diagnosis":        textnorm.Normalize(claim.Diagnosis),
		"procedure":        textnorm.Normalize(claim.Procedure),
		"language":         claim.Language,
		"verdict":          string(match.Verdict),
		"benefit_category": match.BenefitCategory,
		"procedure_code":   code,
		"matched_rules":    int64(len(match.RuleIDs)),
	}
}

// eval runs a compiled predicate. A runtime error counts as not fired.
func eval(prg cel.Program, activation map[string]any) bool {
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}
