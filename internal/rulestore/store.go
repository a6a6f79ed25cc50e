// Package rulestore holds the immutable, indexed coverage rule snapshot.
package rulestore

import (
	"slices"
	"strings"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/textnorm"
)

// Store is a read-only rule snapshot with keyword and code indexes.
// It is never mutated after New returns and is safe for concurrent reads.
type Store struct {
	version string
	source  string

	rules    []domain.CoverageRule
	byID     map[string]int
	keywords []int // distinct phrase count per rule

	// phrase key -> rule ordinals
	phraseIndex  map[string][]int
	maxPhraseLen int

	codes       []domain.ProcedureCode
	codeByToken map[string]int
	descIndex   map[string][]int // description key -> code ordinals
	descLen     []int
	maxDescLen  int

	categories      []category
	defaultCategory string
}

type category struct {
	name    string
	phrases textnorm.PhraseSet
}

// Stats summarizes a snapshot.
type Stats struct {
	Version      string         `json:"version"`
	Source       string         `json:"source,omitempty"`
	Rules        int            `json:"rules"`
	ByVerdict    map[string]int `json:"byVerdict"`
	Unmatchable  int            `json:"unmatchable"`
	Phrases      int            `json:"phrases"`
	Codes        int            `json:"codes"`
	Categories   int            `json:"categories"`
	MaxPhraseLen int            `json:"maxPhraseLen"`
}

// New validates a snapshot and builds its indexes.
// Invalid data yields a ConfigurationError.
func New(snapshot *domain.RuleSnapshot) (*Store, error) {
	if snapshot == nil {
		return nil, domain.NewConfigError("snapshot", "is required")
	}
	if strings.TrimSpace(snapshot.Version) == "" {
		return nil, domain.NewConfigError("snapshot.version", "is required")
	}

	s := &Store{
		version:         snapshot.Version,
		source:          snapshot.Source,
		rules:           make([]domain.CoverageRule, 0, len(snapshot.Rules)),
		byID:            make(map[string]int, len(snapshot.Rules)),
		keywords:        make([]int, 0, len(snapshot.Rules)),
		phraseIndex:     make(map[string][]int),
		codes:           make([]domain.ProcedureCode, 0, len(snapshot.Codes)),
		codeByToken:     make(map[string]int, len(snapshot.Codes)),
		descIndex:       make(map[string][]int),
		defaultCategory: snapshot.DefaultCategory,
	}
	if s.defaultCategory == "" {
		s.defaultCategory = domain.DefaultBenefitCategory
	}

	for _, rule := range snapshot.Rules {
		if err := s.addRule(rule); err != nil {
			return nil, err
		}
	}
	for _, code := range snapshot.Codes {
		if err := s.addCode(code); err != nil {
			return nil, err
		}
	}

	categories := snapshot.Categories
	if len(categories) == 0 {
		categories = DefaultCategories()
	}
	for _, c := range categories {
		if c.Name == "" {
			return nil, domain.NewConfigError("snapshot.benefit_categories", "category without a name")
		}
		s.categories = append(s.categories, category{name: c.Name, phrases: textnorm.NewPhraseSet(c.Keywords)})
	}

	return s, nil
}

func (s *Store) addRule(rule domain.CoverageRule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return domain.NewConfigError("snapshot.coverage_rules", "rule %d has no id", len(s.rules))
	}
	if _, dup := s.byID[rule.ID]; dup {
		return domain.NewConfigError("snapshot.coverage_rules", "duplicate rule id %q", rule.ID)
	}
	if !rule.Verdict.IsRuleVerdict() {
		return domain.NewConfigError("snapshot.coverage_rules."+rule.ID, "invalid verdict %q", rule.Verdict)
	}
	if rule.CostCeiling != nil && rule.CostCeiling.IsNegative() {
		return domain.NewConfigError("snapshot.coverage_rules."+rule.ID, "negative cost ceiling")
	}

	rule = cloneRule(rule)
	ordinal := len(s.rules)
	s.rules = append(s.rules, rule)
	s.byID[rule.ID] = ordinal

	seen := make(map[string]bool, len(rule.Keywords))
	for _, kw := range rule.Keywords {
		p := textnorm.NewPhrase(kw)
		if p.Empty() || seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		s.phraseIndex[p.Key] = append(s.phraseIndex[p.Key], ordinal)
		if len(p.Tokens) > s.maxPhraseLen {
			s.maxPhraseLen = len(p.Tokens)
		}
	}
	s.keywords = append(s.keywords, len(seen))
	return nil
}

func (s *Store) addCode(code domain.ProcedureCode) error {
	token := codeToken(code.Code)
	if token == "" {
		return domain.NewConfigError("snapshot.procedure_codes", "code %d is empty", len(s.codes))
	}
	if _, dup := s.codeByToken[token]; dup {
		return domain.NewConfigError("snapshot.procedure_codes", "duplicate code %q", code.Code)
	}
	if code.DefaultCoverage != "" && !code.DefaultCoverage.IsRuleVerdict() {
		return domain.NewConfigError("snapshot.procedure_codes."+code.Code, "invalid default coverage %q", code.DefaultCoverage)
	}

	ordinal := len(s.codes)
	s.codes = append(s.codes, code)
	s.codeByToken[token] = ordinal

	p := textnorm.NewPhrase(code.Description)
	s.descLen = append(s.descLen, len(p.Tokens))
	if !p.Empty() {
		s.descIndex[p.Key] = append(s.descIndex[p.Key], ordinal)
		if len(p.Tokens) > s.maxDescLen {
			s.maxDescLen = len(p.Tokens)
		}
	}
	return nil
}

// codeToken is the normalized single-token form of a code.
func codeToken(code string) string {
	return strings.ReplaceAll(textnorm.Key(code), " ", "")
}

func cloneRule(r domain.CoverageRule) domain.CoverageRule {
	r.Keywords = slices.Clone(r.Keywords)
	if r.CostCeiling != nil {
		ceiling := *r.CostCeiling
		r.CostCeiling = &ceiling
	}
	return r
}

// Version returns the snapshot version.
func (s *Store) Version() string {
	return s.version
}

// Source returns the snapshot source description.
func (s *Store) Source() string {
	return s.source
}

// Len returns the number of rules.
func (s *Store) Len() int {
	return len(s.rules)
}

// Rule returns a copy of the rule with the given ID.
func (s *Store) Rule(id string) (domain.CoverageRule, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.CoverageRule{}, false
	}
	return cloneRule(s.rules[i]), true
}

// RuleAt returns a copy of the rule at an ordinal.
func (s *Store) RuleAt(ordinal int) domain.CoverageRule {
	return cloneRule(s.rules[ordinal])
}

// Rules returns copies of all rules in load order.
func (s *Store) Rules() []domain.CoverageRule {
	out := make([]domain.CoverageRule, len(s.rules))
	for i, r := range s.rules {
		out[i] = cloneRule(r)
	}
	return out
}

// Code returns the procedure code entry for a code string.
func (s *Store) Code(code string) (domain.ProcedureCode, bool) {
	i, ok := s.codeByToken[codeToken(code)]
	if !ok {
		return domain.ProcedureCode{}, false
	}
	return s.codes[i], true
}

// Codes returns all procedure codes in load order.
func (s *Store) Codes() []domain.ProcedureCode {
	return slices.Clone(s.codes)
}

// Categories returns the benefit category heuristics in evaluation order.
func (s *Store) Categories() []domain.BenefitCategory {
	out := make([]domain.BenefitCategory, len(s.categories))
	for i, c := range s.categories {
		out[i] = domain.BenefitCategory{Name: c.name, Keywords: c.phrases.Raw()}
	}
	return out
}

// The index accessors below return shared slices; callers must not modify them.

// PhraseRules returns the ordinals of rules triggered by a phrase key.
func (s *Store) PhraseRules(key string) []int {
	return s.phraseIndex[key]
}

// MaxPhraseLen returns the token length of the longest trigger phrase.
func (s *Store) MaxPhraseLen() int {
	return s.maxPhraseLen
}

// KeywordCount returns the number of distinct trigger phrases of a rule.
func (s *Store) KeywordCount(ordinal int) int {
	return s.keywords[ordinal]
}

// RuleID returns the ID of the rule at an ordinal.
func (s *Store) RuleID(ordinal int) string {
	return s.rules[ordinal].ID
}

// RuleVerdict returns the verdict of the rule at an ordinal.
func (s *Store) RuleVerdict(ordinal int) domain.Verdict {
	return s.rules[ordinal].Verdict
}

// CodeByToken looks up a code from a single normalized text token.
func (s *Store) CodeByToken(token string) (domain.ProcedureCode, bool) {
	i, ok := s.codeByToken[token]
	if !ok {
		return domain.ProcedureCode{}, false
	}
	return s.codes[i], true
}

// DescriptionCodes returns the ordinals of codes whose description key equals key.
func (s *Store) DescriptionCodes(key string) []int {
	return s.descIndex[key]
}

// MaxDescriptionLen returns the token length of the longest code description.
func (s *Store) MaxDescriptionLen() int {
	return s.maxDescLen
}

// CodeAt returns the code at an ordinal.
func (s *Store) CodeAt(ordinal int) domain.ProcedureCode {
	return s.codes[ordinal]
}

// DescriptionLen returns the description token length of the code at an ordinal.
func (s *Store) DescriptionLen(ordinal int) int {
	return s.descLen[ordinal]
}

// Category infers the benefit category from treatment text.
func (s *Store) Category(texts ...textnorm.Text) (string, bool) {
	for _, c := range s.categories {
		if _, ok := c.phrases.FirstMatch(texts...); ok {
			return c.name, true
		}
	}
	return s.defaultCategory, false
}

// DefaultCategory returns the fallback benefit category.
func (s *Store) DefaultCategory() string {
	return s.defaultCategory
}

// Stats summarizes the snapshot.
func (s *Store) Stats() Stats {
	st := Stats{
		Version:      s.version,
		Source:       s.source,
		Rules:        len(s.rules),
		ByVerdict:    make(map[string]int, len(domain.RuleVerdicts)),
		Phrases:      len(s.phraseIndex),
		Codes:        len(s.codes),
		Categories:   len(s.categories),
		MaxPhraseLen: s.maxPhraseLen,
	}
	for i, r := range s.rules {
		st.ByVerdict[string(r.Verdict)]++
		if s.keywords[i] == 0 {
			st.Unmatchable++
		}
	}
	return st
}

// Snapshot returns a serializable copy of the store.
func (s *Store) Snapshot() *domain.RuleSnapshot {
	snap := &domain.RuleSnapshot{
		Version:         s.version,
		Source:          s.source,
		Rules:           s.Rules(),
		Codes:           s.Codes(),
		Categories:      s.Categories(),
		DefaultCategory: s.defaultCategory,
	}
	return snap
}

// DefaultCategories is the treatment keyword heuristic for benefit categories.
func DefaultCategories() []domain.BenefitCategory {
	return []domain.BenefitCategory{
		{Name: "Inpatient Hospital Services", Keywords: []string{"surgery", "surgical", "inpatient", "hospitalization", "手术", "住院"}},
		{Name: "Outpatient Physical Therapy", Keywords: []string{"therapy", "rehabilitation", "physical therapy", "treatment", "康复", "理疗"}},
		{Name: "Diagnostic X-Ray Tests", Keywords: []string{"imaging", "x ray", "ct", "mri", "ultrasound", "影像", "造影"}},
		{Name: "Drugs and Biologicals", Keywords: []string{"drug", "medication", "injection", "infusion", "药物", "注射"}},
		{Name: "Durable Medical Equipment", Keywords: []string{"device", "equipment", "wheelchair", "oxygen", "器械", "设备"}},
	}
}
