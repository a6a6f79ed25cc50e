// Package extract turns free-text or JSON claim submissions into
// normalized claims.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/textnorm"
)

// JSON keys accepted for each claim field, in lookup order.
var (
	idKeys        = []string{"id", "claim_id", "claimId"}
	patientKeys   = []string{"patient", "patient_id", "patientId", "name"}
	diagnosisKeys = []string{"diagnosis", "condition"}
	procedureKeys = []string{"procedure", "treatment"}
	costKeys      = []string{"cost", "amount", "price"}
	languageKeys  = []string{"language", "lang"}
)

// A label ends at a field separator: comma, semicolon or newline, in
// ASCII or full-width form.
const separators = `,，;；\n`

var (
	patientLabel   = label(`patient|name|患者|病人|姓名`)
	diagnosisLabel = label(`diagnosis|condition|诊断|病情`)
	procedureLabel = label(`treatment|procedure|治疗|手术|治疗方案`)
	costLabel      = regexp.MustCompile(`(?i)(?:^|[\s` + separators + `])(?:cost|amount|price|费用|金额)[ \t]*[:：][ \t]*([^\n;；]+)`)

	costNumber = regexp.MustCompile(`^(-?[0-9][0-9,]*(?:\.[0-9]+)?)`)
)

func label(names string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[\s` + separators + `])(?:` + names + `)[ \t]*[:：][ \t]*([^` + separators + `]+)`)
}

// Extract parses input as a JSON object when it is one, and as labelled
// text otherwise.
func Extract(input string) (*domain.NormalizedClaim, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, &domain.MissingInputError{Input: "claim text"}
	}
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return FromJSON([]byte(trimmed))
	}
	return FromText(trimmed)
}

// ErrMalformed marks a submission that is not valid JSON of an accepted shape.
var ErrMalformed = errors.New("malformed claim submission")

// Decode reads one JSON submission: a string of free text, an object with
// a "text" field, or a structured claim object. It returns the claim and
// the raw input to record with it.
func Decode(data []byte) (*domain.NormalizedClaim, string, error) {
	trimmed := bytes.TrimSpace(data)
	if !json.Valid(trimmed) {
		return nil, "", fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		claim, err := Extract(text)
		return claim, text, err
	case '{':
		var req struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if strings.TrimSpace(req.Text) != "" {
			claim, err := Extract(req.Text)
			return claim, req.Text, err
		}
		claim, err := FromJSON(trimmed)
		return claim, string(trimmed), err
	default:
		return nil, "", fmt.Errorf("%w: expected a JSON object or string", ErrMalformed)
	}
}

// FromJSON reads a flat JSON claim object. Cost may be a number or a
// string with currency symbols.
func FromJSON(data []byte) (*domain.NormalizedClaim, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid claim JSON: %w", err)
	}

	claim := &domain.NormalizedClaim{
		ID:        lookup(fields, idKeys),
		PatientID: lookup(fields, patientKeys),
		Diagnosis: lookup(fields, diagnosisKeys),
		Procedure: lookup(fields, procedureKeys),
		Language:  lookup(fields, languageKeys),
	}

	raw := lookup(fields, costKeys)
	if raw == "" {
		return nil, &domain.MissingInputError{Input: "cost"}
	}
	cost, err := ParseCost(raw)
	if err != nil {
		return nil, err
	}
	claim.Cost = cost

	return finish(claim)
}

// FromText reads "Label: value" pairs. English labels are Patient/Name,
// Diagnosis/Condition, Treatment/Procedure and Cost/Amount/Price; the
// Chinese labels are 患者, 诊断, 治疗 and 费用.
func FromText(text string) (*domain.NormalizedClaim, error) {
	claim := &domain.NormalizedClaim{
		PatientID: find(patientLabel, text),
		Diagnosis: find(diagnosisLabel, text),
		Procedure: find(procedureLabel, text),
	}

	raw := find(costLabel, text)
	if raw == "" {
		return nil, &domain.MissingInputError{Input: "cost"}
	}
	cost, err := ParseCost(raw)
	if err != nil {
		return nil, err
	}
	claim.Cost = cost

	return finish(claim)
}

// ParseCost parses an amount such as "$12,500.00", "¥3,500" or "3500元".
func ParseCost(raw string) (decimal.Decimal, error) {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	s = strings.NewReplacer("$", "", "¥", "", "€", "", "£", "", "USD", "", "usd", "", "美元", "", "元", "").Replace(s)
	s = strings.TrimSpace(s)

	m := costNumber.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, &domain.InvalidCostError{Cost: raw, Reason: "not a number"}
	}
	digits := strings.ReplaceAll(strings.TrimRight(m[1], ","), ",", "")

	cost, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, &domain.InvalidCostError{Cost: raw, Reason: err.Error()}
	}
	if cost.IsNegative() {
		return decimal.Zero, &domain.InvalidCostError{Cost: raw, Reason: "must not be negative"}
	}
	return cost, nil
}

// DetectLanguage reports zh when s contains ideographs and en otherwise.
func DetectLanguage(s string) string {
	if textnorm.ContainsIdeographs(s) {
		return domain.LanguageChinese
	}
	return domain.LanguageEnglish
}

func finish(claim *domain.NormalizedClaim) (*domain.NormalizedClaim, error) {
	claim.Diagnosis = strings.TrimSpace(claim.Diagnosis)
	claim.Procedure = strings.TrimSpace(claim.Procedure)
	if claim.Diagnosis == "" && claim.Procedure == "" {
		return nil, &domain.MissingInputError{Input: "diagnosis or procedure"}
	}

	switch claim.Language {
	case domain.LanguageEnglish, domain.LanguageChinese:
	default:
		claim.Language = DetectLanguage(claim.Diagnosis + " " + claim.Procedure)
	}
	return claim, nil
}

func find(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func lookup(fields map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
