package policy

import (
	"slices"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/rulestore"
)

func newStore(t *testing.T, rules []domain.CoverageRule, codes []domain.ProcedureCode) *rulestore.Store {
	t.Helper()
	s, err := rulestore.New(&domain.RuleSnapshot{Version: "test", Rules: rules, Codes: codes})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return s
}

func builtin(t *testing.T) *rulestore.Store {
	t.Helper()
	s, err := rulestore.Builtin()
	if err != nil {
		t.Fatalf("failed to load builtin store: %v", err)
	}
	return s
}

func claim(diagnosis, procedure string) *domain.NormalizedClaim {
	return &domain.NormalizedClaim{
		ID:        "c-1",
		PatientID: "p-1",
		Diagnosis: diagnosis,
		Procedure: procedure,
		Cost:      decimal.NewFromInt(1000),
	}
}

func TestMatchBuiltinExamples(t *testing.T) {
	store := builtin(t)
	m := NewMatcher(domain.MatchingConfig{})

	tests := []struct {
		name      string
		diagnosis string
		procedure string
		verdict   domain.Verdict
		rule      string
	}{
		{"rhinoplasty", "Nasal deformity, cosmetic concerns", "Rhinoplasty", domain.VerdictExcluded, "EXCL_COSMETIC"},
		{"cataract", "Senile cataract", "Cataract phacoemulsification with intraocular lens implant", domain.VerdictCovered, "NCD_80.10"},
		{"respiratory failure", "Acute respiratory failure", "Continuous invasive mechanical ventilation for 96 consecutive hours or more", domain.VerdictCovered, "NCD_240.5"},
		{"chinese cataract", "老年性白内障", "白内障超声乳化手术", domain.VerdictCovered, "NCD_80.10"},
		{"unmatched", "Unspecified fatigue", "General office consultation", domain.VerdictUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Match(claim(tt.diagnosis, tt.procedure), store)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if res.Verdict != tt.verdict {
				t.Errorf("expected verdict %s, got %s", tt.verdict, res.Verdict)
			}
			if tt.rule == "" {
				if res.Matched() || len(res.RuleIDs) != 0 {
					t.Errorf("expected no rule, got %v", res.RuleIDs)
				}
				return
			}
			if !res.Matched() || res.PrimaryRule.ID != tt.rule {
				t.Fatalf("expected primary rule %s, got %+v", tt.rule, res.PrimaryRule)
			}
			if res.RuleIDs[0] != tt.rule {
				t.Errorf("expected first rule id %s, got %v", tt.rule, res.RuleIDs)
			}
			if res.Confidence <= 0 || res.Confidence > 1 {
				t.Errorf("expected confidence in (0,1], got %f", res.Confidence)
			}
		})
	}
}

func TestMatchTieBreak(t *testing.T) {
	tests := []struct {
		name     string
		rules    []domain.CoverageRule
		expected string
	}{
		{
			name: "more hits wins",
			rules: []domain.CoverageRule{
				{ID: "A", Keywords: []string{"knee"}, Verdict: domain.VerdictExcluded},
				{ID: "B", Keywords: []string{"knee", "replacement"}, Verdict: domain.VerdictCovered},
			},
			expected: "B",
		},
		{
			name: "specific rule wins over broad rule",
			rules: []domain.CoverageRule{
				{ID: "A", Keywords: []string{"knee", "hip", "shoulder", "elbow"}, Verdict: domain.VerdictExcluded},
				{ID: "B", Keywords: []string{"knee", "ankle"}, Verdict: domain.VerdictCovered},
			},
			expected: "B",
		},
		{
			name: "severity breaks exact tie",
			rules: []domain.CoverageRule{
				{ID: "A", Keywords: []string{"knee"}, Verdict: domain.VerdictCovered},
				{ID: "B", Keywords: []string{"knee"}, Verdict: domain.VerdictConditional},
				{ID: "C", Keywords: []string{"knee"}, Verdict: domain.VerdictExcluded},
			},
			expected: "C",
		},
		{
			name: "conditional over covered",
			rules: []domain.CoverageRule{
				{ID: "A", Keywords: []string{"knee"}, Verdict: domain.VerdictCovered},
				{ID: "B", Keywords: []string{"knee"}, Verdict: domain.VerdictConditional},
			},
			expected: "B",
		},
		{
			name: "rule id as last resort",
			rules: []domain.CoverageRule{
				{ID: "Z", Keywords: []string{"knee"}, Verdict: domain.VerdictCovered},
				{ID: "M", Keywords: []string{"knee"}, Verdict: domain.VerdictCovered},
			},
			expected: "M",
		},
	}

	m := NewMatcher(domain.MatchingConfig{MinScore: 1, MaxMatches: 5})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t, tt.rules, nil)
			res, err := m.Match(claim("knee pain", "knee replacement"), store)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if res.PrimaryRule == nil || res.PrimaryRule.ID != tt.expected {
				t.Errorf("expected %s, got %+v", tt.expected, res.RuleIDs)
			}
		})
	}
}

func TestMatchOrderIndependent(t *testing.T) {
	rules := []domain.CoverageRule{
		{ID: "A", Keywords: []string{"knee"}, Verdict: domain.VerdictCovered},
		{ID: "B", Keywords: []string{"knee"}, Verdict: domain.VerdictExcluded},
		{ID: "C", Keywords: []string{"knee", "replacement"}, Verdict: domain.VerdictConditional},
	}
	reversed := slices.Clone(rules)
	slices.Reverse(reversed)

	m := NewMatcher(domain.MatchingConfig{MaxMatches: 3})
	a, _ := m.Match(claim("knee", "replacement"), newStore(t, rules, nil))
	b, _ := m.Match(claim("knee", "replacement"), newStore(t, reversed, nil))

	if !slices.Equal(a.RuleIDs, b.RuleIDs) {
		t.Errorf("expected load order not to matter, got %v and %v", a.RuleIDs, b.RuleIDs)
	}
	expected := []string{"C", "B", "A"}
	if !slices.Equal(a.RuleIDs, expected) {
		t.Errorf("expected %v, got %v", expected, a.RuleIDs)
	}
}

func TestMatchThresholdAndCap(t *testing.T) {
	rules := []domain.CoverageRule{
		{ID: "A", Keywords: []string{"knee", "replacement"}, Verdict: domain.VerdictCovered},
		{ID: "B", Keywords: []string{"knee"}, Verdict: domain.VerdictCovered},
		{ID: "C", Keywords: []string{"replacement"}, Verdict: domain.VerdictCovered},
	}
	store := newStore(t, rules, nil)

	strict := NewMatcher(domain.MatchingConfig{MinScore: 3, MaxMatches: 3})
	res, err := strict.Match(claim("knee", "replacement"), store)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if res.Verdict != domain.VerdictUnknown || res.Matched() {
		t.Errorf("expected UNKNOWN below threshold, got %s", res.Verdict)
	}

	capped := NewMatcher(domain.MatchingConfig{MinScore: 1, MaxMatches: 2})
	res, _ = capped.Match(claim("knee", "replacement"), store)
	if len(res.RuleIDs) != 2 {
		t.Errorf("expected 2 rule ids, got %v", res.RuleIDs)
	}

	twoHits := NewMatcher(domain.MatchingConfig{MinScore: 2, MaxMatches: 3})
	res, _ = twoHits.Match(claim("knee", "replacement"), store)
	if !slices.Equal(res.RuleIDs, []string{"A"}) {
		t.Errorf("expected only rules above threshold, got %v", res.RuleIDs)
	}
	if res.Score != 2 || res.Confidence != 1 {
		t.Errorf("expected score 2 confidence 1, got %f %f", res.Score, res.Confidence)
	}
}

func TestMatchWordBoundaries(t *testing.T) {
	rules := []domain.CoverageRule{
		{ID: "ICU", Keywords: []string{"icu"}, Verdict: domain.VerdictConditional},
		{ID: "CROSS", Keywords: []string{"failure mechanical"}, Verdict: domain.VerdictExcluded},
	}
	store := newStore(t, rules, nil)
	m := NewMatcher(domain.MatchingConfig{})

	res, _ := m.Match(claim("Picuda syndrome", "Observation"), store)
	if res.Matched() {
		t.Errorf("expected no substring match inside a word, got %v", res.RuleIDs)
	}

	res, _ = m.Match(claim("respiratory failure", "mechanical ventilation"), store)
	if res.Matched() {
		t.Errorf("expected phrases not to span diagnosis and procedure, got %v", res.RuleIDs)
	}

	res, _ = m.Match(claim("Admitted to ICU.", "Observation"), store)
	if !res.Matched() || res.PrimaryRule.ID != "ICU" {
		t.Errorf("expected ICU match, got %v", res.RuleIDs)
	}
}

func TestMatchEmptyKeywordRuleNeverMatches(t *testing.T) {
	store := newStore(t, []domain.CoverageRule{
		{ID: "EMPTY", Verdict: domain.VerdictExcluded},
	}, nil)
	res, err := NewMatcher(domain.MatchingConfig{}).Match(claim("anything", "anything"), store)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if res.Verdict != domain.VerdictUnknown {
		t.Errorf("expected UNKNOWN, got %s", res.Verdict)
	}
}

func TestMatchProcedureCode(t *testing.T) {
	codes := []domain.ProcedureCode{
		{Code: "97110", Description: "Therapeutic exercises", BenefitCategory: "Outpatient Physical Therapy"},
		{Code: "J1100", Description: "Injection dexamethasone", BenefitCategory: "Drugs and Biologicals"},
		{Code: "J1200", Description: "Injection", BenefitCategory: "Drugs and Biologicals"},
		{Code: "B002", Description: "Wheel chair", BenefitCategory: "Durable Medical Equipment"},
		{Code: "A001", Description: "Wheel chair", BenefitCategory: "Durable Medical Equipment"},
	}
	rules := []domain.CoverageRule{
		{ID: "CATARACT", Keywords: []string{"cataract"}, Verdict: domain.VerdictCovered},
	}
	store := newStore(t, rules, codes)
	m := NewMatcher(domain.MatchingConfig{})

	tests := []struct {
		name      string
		diagnosis string
		procedure string
		code      string
		verdict   domain.Verdict
		category  string
	}{
		{"code token without rule", "knee stiffness", "97110 therapeutic exercises", "97110", domain.VerdictUnknown, "Outpatient Physical Therapy"},
		{"code token is case-insensitive", "inflammation", "j1100 given", "J1100", domain.VerdictUnknown, "Drugs and Biologicals"},
		{"longest description wins", "inflammation", "Injection dexamethasone 4mg", "J1100", domain.VerdictUnknown, "Drugs and Biologicals"},
		{"description tie by code", "mobility", "new wheel chair", "A001", domain.VerdictUnknown, "Durable Medical Equipment"},
		{"code attached to matched rule", "cataract", "97110", "97110", domain.VerdictCovered, "Outpatient Physical Therapy"},
		{"no code falls back to keywords", "fracture", "Open surgery", "", domain.VerdictUnknown, "Inpatient Hospital Services"},
		{"default category", "fatigue", "consultation", "", domain.VerdictUnknown, domain.DefaultBenefitCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := m.Match(claim(tt.diagnosis, tt.procedure), store)
			if err != nil {
				t.Fatalf("Match failed: %v", err)
			}
			if tt.code == "" {
				if res.ProcedureCode != nil {
					t.Errorf("expected no code, got %s", res.ProcedureCode.Code)
				}
			} else if res.ProcedureCode == nil || res.ProcedureCode.Code != tt.code {
				t.Errorf("expected code %s, got %+v", tt.code, res.ProcedureCode)
			}
			if res.Verdict != tt.verdict {
				t.Errorf("expected verdict %s, got %s", tt.verdict, res.Verdict)
			}
			if res.BenefitCategory != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, res.BenefitCategory)
			}
		})
	}
}

func TestMatchMissingInput(t *testing.T) {
	store := builtin(t)
	m := NewMatcher(domain.MatchingConfig{})

	if _, err := m.Match(nil, store); !domain.IsClaimError(err) {
		t.Errorf("expected MissingInputError for nil claim, got %v", err)
	}
	if _, err := m.Match(claim("cataract", ""), nil); !domain.IsClaimError(err) {
		t.Errorf("expected MissingInputError for nil store, got %v", err)
	}
	if _, err := m.Match(claim(" ", "!!"), store); !domain.IsClaimError(err) {
		t.Errorf("expected MissingInputError for empty text, got %v", err)
	}
}

func TestMatchDeterministicAndConcurrent(t *testing.T) {
	store := builtin(t)
	m := NewMatcher(domain.MatchingConfig{})
	c := claim("Acute respiratory failure with heart failure", "mechanical ventilation, 机械通气")

	first, err := m.Match(c, store)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Match(c, store)
			if err != nil {
				errs <- err.Error()
				return
			}
			if !slices.Equal(res.RuleIDs, first.RuleIDs) || res.Verdict != first.Verdict {
				errs <- "result differs between runs"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}
