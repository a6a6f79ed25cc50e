// Package policy matches claim text against coverage rules.
package policy

import (
	"cmp"
	"slices"
	"strings"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/rulestore"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/textnorm"
)

// Matcher maps a claim's diagnosis and procedure text to coverage rules.
// It holds only immutable configuration and is safe for concurrent use.
type Matcher struct {
	minScore   float64
	maxMatches int
}

// NewMatcher creates a matcher. Zero values fall back to a minimum of one
// keyword hit and three reported rules.
func NewMatcher(cfg domain.MatchingConfig) *Matcher {
	m := &Matcher{minScore: cfg.MinScore, maxMatches: cfg.MaxMatches}
	if m.minScore <= 0 {
		m.minScore = 1
	}
	if m.maxMatches <= 0 {
		m.maxMatches = 3
	}
	return m
}

// candidate is a rule with at least one keyword hit.
type candidate struct {
	ordinal    int
	id         string
	hits       int
	confidence float64
	severity   int
}

// compare orders candidates best first: hits, then confidence (the more
// specific rule wins), then severity, then rule ID.
func compare(a, b candidate) int {
	if c := cmp.Compare(b.hits, a.hits); c != 0 {
		return c
	}
	if c := cmp.Compare(b.confidence, a.confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(b.severity, a.severity); c != 0 {
		return c
	}
	return strings.Compare(a.id, b.id)
}

// Match evaluates a claim against the store. Finding no rule is not an
// error: the verdict is UNKNOWN. A recognized procedure code is still
// attached as a benefit-category signal.
func (m *Matcher) Match(claim *domain.NormalizedClaim, store *rulestore.Store) (*domain.MatchResult, error) {
	if claim == nil {
		return nil, &domain.MissingInputError{Input: "claim"}
	}
	if store == nil {
		return nil, &domain.MissingInputError{Input: "rule store"}
	}

	diagnosis := textnorm.NewText(claim.Diagnosis)
	procedure := textnorm.NewText(claim.Procedure)
	if diagnosis.Empty() && procedure.Empty() {
		return nil, &domain.MissingInputError{Input: "diagnosis or procedure"}
	}

	candidates := m.candidates(store, diagnosis, procedure)
	slices.SortFunc(candidates, compare)

	result := &domain.MatchResult{
		ClaimID: claim.ID,
		Verdict: domain.VerdictUnknown,
	}

	code, hasCode := recognizeCode(store, procedure)
	if hasCode {
		result.ProcedureCode = &code
	}
	result.BenefitCategory = benefitCategory(store, code, hasCode, diagnosis, procedure)

	if len(candidates) == 0 || float64(candidates[0].hits) < m.minScore {
		return result, nil
	}

	top := candidates[0]
	primary := store.RuleAt(top.ordinal)
	result.Verdict = primary.Verdict
	result.PrimaryRule = &primary
	result.Score = float64(top.hits)
	result.Confidence = top.confidence

	for _, c := range candidates {
		if len(result.RuleIDs) == m.maxMatches {
			break
		}
		if float64(c.hits) < m.minScore {
			break
		}
		result.RuleIDs = append(result.RuleIDs, c.id)
	}

	return result, nil
}

// candidates counts distinct phrase hits per rule. Each field is scanned
// separately so no phrase spans diagnosis and procedure.
func (m *Matcher) candidates(store *rulestore.Store, texts ...textnorm.Text) []candidate {
	maxLen := store.MaxPhraseLen()
	if maxLen == 0 {
		return nil
	}

	seen := make(map[string]bool)
	hits := make(map[int]int)
	for _, text := range texts {
		text.NGrams(maxLen, func(key string) {
			ordinals := store.PhraseRules(key)
			if len(ordinals) == 0 || seen[key] {
				return
			}
			seen[key] = true
			for _, ord := range ordinals {
				hits[ord]++
			}
		})
	}

	out := make([]candidate, 0, len(hits))
	for ord, n := range hits {
		out = append(out, candidate{
			ordinal:    ord,
			id:         store.RuleID(ord),
			hits:       n,
			confidence: float64(n) / float64(store.KeywordCount(ord)),
			severity:   store.RuleVerdict(ord).Severity(),
		})
	}
	return out
}

// recognizeCode finds a procedure code in the procedure text: an exact code
// token first, otherwise the longest matching code description.
func recognizeCode(store *rulestore.Store, procedure textnorm.Text) (domain.ProcedureCode, bool) {
	for _, tok := range procedure.Tokens() {
		if code, ok := store.CodeByToken(tok); ok {
			return code, true
		}
	}

	maxLen := store.MaxDescriptionLen()
	if maxLen == 0 {
		return domain.ProcedureCode{}, false
	}

	best := -1
	procedure.NGrams(maxLen, func(key string) {
		for _, ord := range store.DescriptionCodes(key) {
			if best < 0 {
				best = ord
				continue
			}
			bl, ol := store.DescriptionLen(best), store.DescriptionLen(ord)
			if ol > bl || (ol == bl && store.CodeAt(ord).Code < store.CodeAt(best).Code) {
				best = ord
			}
		}
	})
	if best < 0 {
		return domain.ProcedureCode{}, false
	}
	return store.CodeAt(best), true
}

func benefitCategory(store *rulestore.Store, code domain.ProcedureCode, hasCode bool, texts ...textnorm.Text) string {
	if hasCode && code.BenefitCategory != "" {
		return code.BenefitCategory
	}
	category, _ := store.Category(texts...)
	return category
}
