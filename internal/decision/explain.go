package decision

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"text/template"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

// ExplanationData is the data passed to explanation templates.
type ExplanationData struct {
	RuleID     string
	RuleTitle  string
	Score      float64
	RiskTier   domain.RiskTier
	Amount     string
	Verdict    domain.Verdict
	Reason     string
	Indicators string
}

func parseTemplates(sources map[domain.Decision]string) (map[domain.Decision]*template.Template, error) {
	out := make(map[domain.Decision]*template.Template, len(sources))
	for _, d := range domain.AllDecisions {
		tmpl, err := template.New(string(d)).Option("missingkey=error").Parse(sources[d])
		if err != nil {
			return nil, domain.NewConfigError("templates."+string(d), "%v", err)
		}
		// Render once so a template referencing unknown fields fails at load.
		if err := tmpl.Execute(&bytes.Buffer{}, ExplanationData{}); err != nil {
			return nil, domain.NewConfigError("templates."+string(d), "%v", err)
		}
		out[d] = tmpl
	}
	return out, nil
}

func (e *Engine) explain(d domain.Decision, data ExplanationData) (string, error) {
	var buf bytes.Buffer
	if err := e.templates[d].Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func explanationData(claim *domain.NormalizedClaim, match *domain.MatchResult, risk *domain.RiskAssessment, score float64, reason string) ExplanationData {
	data := ExplanationData{
		RuleID:     "none",
		RuleTitle:  "none",
		Score:      score,
		RiskTier:   risk.Tier,
		Amount:     claim.Cost.StringFixed(2),
		Verdict:    match.Verdict,
		Reason:     reason,
		Indicators: "none",
	}
	if match.PrimaryRule != nil {
		data.RuleID = match.PrimaryRule.ID
		data.RuleTitle = match.PrimaryRule.Title
	}
	if len(risk.Indicators) > 0 {
		names := make([]string, len(risk.Indicators))
		for i, ind := range risk.Indicators {
			names[i] = ind.Name
		}
		data.Indicators = strings.Join(names, ", ")
	}
	return data
}

// ErrorResult builds the error record for a claim that could not be
// evaluated, using the engine's ERROR template.
func (e *Engine) ErrorResult(claim *domain.NormalizedClaim, err error) *domain.DecisionResult {
	result, err := errorRecord(claim, err)
	result.ConfigVersion = e.cfg.Version
	if text, xerr := e.explain(domain.DecisionError, ExplanationData{Reason: err.Error()}); xerr == nil {
		result.Explanation = text
	}
	return result
}

var defaultErrorTemplate = template.Must(template.New("ERROR").Parse(
	domain.DefaultDecisionConfig().Templates[domain.DecisionError]))

// ErrorResult builds the error record for a claim that could not be
// evaluated. claim may be nil.
func ErrorResult(claim *domain.NormalizedClaim, err error) *domain.DecisionResult {
	result, err := errorRecord(claim, err)
	var buf bytes.Buffer
	if xerr := defaultErrorTemplate.Execute(&buf, ExplanationData{Reason: err.Error()}); xerr == nil {
		result.Explanation = buf.String()
	}
	return result
}

// errorRecord returns the record along with the error it describes, which
// is never nil.
func errorRecord(claim *domain.NormalizedClaim, err error) (*domain.DecisionResult, error) {
	if err == nil {
		err = errors.New("unknown failure")
	}
	result := &domain.DecisionResult{
		Decision:    domain.DecisionError,
		Reason:      errorReason(err),
		Explanation: err.Error(),
		Error:       err.Error(),
	}
	if claim != nil {
		result.ClaimID = claim.ID
	}
	return result, err
}

func errorReason(err error) string {
	var missing *domain.MissingInputError
	var cost *domain.InvalidCostError
	switch {
	case errors.As(err, &missing):
		return ReasonMissingInput
	case errors.As(err, &cost):
		return ReasonInvalidCost
	case domain.IsConfigurationError(err):
		return "configuration error"
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonInternalFailed
	}
}
