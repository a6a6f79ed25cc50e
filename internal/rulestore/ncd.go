package rulestore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/textnorm"
)

// Condition and procedure families recognized in determination text.
// Every alternative found becomes a trigger keyword of the rule.
var (
	conditionFamilies = []*regexp.Regexp{
		regexp.MustCompile(`\b(cancer|tumor|carcinoma|malignancy)\b`),
		regexp.MustCompile(`\b(diabetes|diabetic)\b`),
		regexp.MustCompile(`\b(heart|cardiac|cardiovascular)\b`),
		regexp.MustCompile(`\b(kidney|renal|dialysis)\b`),
		regexp.MustCompile(`\b(lung|pulmonary|respiratory)\b`),
		regexp.MustCompile(`\b(stroke|cerebral|brain)\b`),
		regexp.MustCompile(`\b(arthritis|joint|orthopedic)\b`),
		regexp.MustCompile(`\b(wound|ulcer|pressure sore)\b`),
		regexp.MustCompile(`\b(infection|sepsis|bacteremia)\b`),
		regexp.MustCompile(`\b(fracture|broken bone)\b`),
		regexp.MustCompile(`\b(pregnancy|prenatal|maternal)\b`),
		regexp.MustCompile(`\b(mental health|psychiatric|depression)\b`),
		regexp.MustCompile(`\b(chronic pain|pain)\b`),
		regexp.MustCompile(`\b(obesity|weight loss)\b`),
		regexp.MustCompile(`\b(hypertension|high blood pressure)\b`),
	}
	procedureFamilies = []*regexp.Regexp{
		regexp.MustCompile(`\b(surgery|surgical|operation)\b`),
		regexp.MustCompile(`\b(therapy|treatment|rehabilitation)\b`),
		regexp.MustCompile(`\b(screening|examination)\b`),
		regexp.MustCompile(`\b(imaging|x-ray|ct|mri|ultrasound)\b`),
		regexp.MustCompile(`\b(injection|infusion|medication)\b`),
		regexp.MustCompile(`\b(device|implant|prosthetic)\b`),
		regexp.MustCompile(`\b(dialysis|transfusion)\b`),
		regexp.MustCompile(`\b(transplant|graft)\b`),
		regexp.MustCompile(`\b(biopsy|culture)\b`),
		regexp.MustCompile(`\b(monitoring|observation)\b`),
	}

	priorAuthPattern     = regexp.MustCompile(`prior (authorization|approval)`)
	certificationPattern = regexp.MustCompile(`physician (certification|certifies|certify)|certified by (a|the) physician`)
)

// Title words shorter than this or listed below are not used as keywords.
const minTitleWord = 5

var titleStopwords = map[string]bool{
	"about": true, "other": true, "under": true, "these": true, "their": true,
	"which": true, "services": true, "procedure": true, "procedures": true,
	"medicare": true, "coverage": true, "national": true, "determination": true,
	"certain": true, "including": true, "patients": true,
}

const maxTitleKeywords = 6

// ImportNCD builds a snapshot from a National Coverage Determination CSV
// and an optional LCD-to-HCPCS CSV. hcpcs may be nil.
//
// NCD columns used: NCD_id, cvrg_lvl_cd (1 covered, 2 conditional,
// 3 excluded), NCD_mnl_sect_title, indctn_lmtn, itm_srvc_desc.
func ImportNCD(ncd, hcpcs io.Reader, version string) (*domain.RuleSnapshot, error) {
	if version == "" {
		return nil, domain.NewConfigError("import.version", "is required")
	}

	rows, err := readCSV(ncd, "NCD_id", "cvrg_lvl_cd", "NCD_mnl_sect_title")
	if err != nil {
		return nil, fmt.Errorf("read ncd csv: %w", err)
	}

	snap := &domain.RuleSnapshot{
		Version:    version,
		Source:     "ncd-import",
		Categories: DefaultCategories(),
	}
	seen := make(map[string]bool)
	for _, row := range rows {
		rule, ok := ncdRule(row)
		if !ok || seen[rule.ID] {
			continue
		}
		seen[rule.ID] = true
		snap.Rules = append(snap.Rules, rule)
	}

	if hcpcs != nil {
		codes, err := importHCPCS(hcpcs)
		if err != nil {
			return nil, fmt.Errorf("read hcpcs csv: %w", err)
		}
		snap.Codes = codes
		snap.Rules = append(snap.Rules, hcpcsRules(codes)...)
	}
	return snap, nil
}

func ncdRule(row map[string]string) (domain.CoverageRule, bool) {
	id := strings.TrimSpace(row["NCD_id"])
	title := strings.TrimSpace(row["NCD_mnl_sect_title"])
	if id == "" || title == "" {
		return domain.CoverageRule{}, false
	}

	var verdict domain.Verdict
	switch strings.TrimSpace(row["cvrg_lvl_cd"]) {
	case "1":
		verdict = domain.VerdictCovered
	case "2":
		verdict = domain.VerdictConditional
	case "3":
		verdict = domain.VerdictExcluded
	default:
		return domain.CoverageRule{}, false
	}

	indication := strings.ToLower(row["indctn_lmtn"])
	body := strings.ToLower(title + " " + row["itm_srvc_desc"] + " " + indication)

	keywords := titleKeywords(title)
	keywords = appendFamilies(keywords, conditionFamilies, body)
	keywords = appendFamilies(keywords, procedureFamilies, body)

	return domain.CoverageRule{
		ID:                     "NCD_" + id,
		Title:                  title,
		Source:                 "NCD " + id,
		Keywords:               keywords,
		Verdict:                verdict,
		PriorAuthorization:     priorAuthPattern.MatchString(indication),
		PhysicianCertification: certificationPattern.MatchString(indication),
	}, true
}

func titleKeywords(title string) []string {
	var out []string
	for _, tok := range textnorm.Tokens(title) {
		if len(out) == maxTitleKeywords {
			break
		}
		if len([]rune(tok)) < minTitleWord || titleStopwords[tok] || slices.Contains(out, tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func appendFamilies(keywords []string, families []*regexp.Regexp, text string) []string {
	for _, re := range families {
		for _, m := range re.FindAllString(text, -1) {
			if !slices.Contains(keywords, m) {
				keywords = append(keywords, m)
			}
		}
	}
	return keywords
}

// importHCPCS reads hcpc_code (or hcpc_code_id), long_description and
// short_description columns.
func importHCPCS(r io.Reader) ([]domain.ProcedureCode, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}

	var codes []domain.ProcedureCode
	seen := make(map[string]bool)
	for _, row := range rows {
		code := strings.ToUpper(strings.TrimSpace(row["hcpc_code"]))
		if code == "" {
			code = strings.ToUpper(strings.TrimSpace(row["hcpc_code_id"]))
		}
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		desc := strings.TrimSpace(row["long_description"])
		if desc == "" {
			desc = strings.TrimSpace(row["short_description"])
		}
		codes = append(codes, domain.ProcedureCode{
			Code:            code,
			Description:     desc,
			BenefitCategory: hcpcsCategory(code),
		})
	}
	return codes, nil
}

// hcpcsCategory maps a HCPCS level II prefix to its benefit category.
func hcpcsCategory(code string) string {
	switch code[0] {
	case 'E':
		return "Durable Medical Equipment"
	case 'J':
		return "Drugs and Biologicals"
	case 'L':
		return "Orthotics and Prosthetics"
	default:
		return domain.DefaultBenefitCategory
	}
}

// hcpcsRules adds family rules for DME and drug codes present in the import.
func hcpcsRules(codes []domain.ProcedureCode) []domain.CoverageRule {
	var dme, drugs bool
	for _, c := range codes {
		dme = dme || c.Code[0] == 'E'
		drugs = drugs || c.Code[0] == 'J'
	}

	var rules []domain.CoverageRule
	if dme {
		rules = append(rules, domain.CoverageRule{
			ID:                     "HCPCS_DME",
			Title:                  "Durable Medical Equipment",
			Source:                 "HCPCS E codes",
			Keywords:               []string{"durable medical equipment", "wheelchair", "hospital bed", "oxygen equipment", "walker"},
			Verdict:                domain.VerdictCovered,
			PhysicianCertification: true,
		})
	}
	if drugs {
		rules = append(rules, domain.CoverageRule{
			ID:       "HCPCS_DRUGS",
			Title:    "Drugs Administered Other Than Oral Method",
			Source:   "HCPCS J codes",
			Keywords: []string{"injection", "infusion", "chemotherapy", "drug administration"},
			Verdict:  domain.VerdictCovered,
		})
	}
	return rules
}

// readCSV reads a headered CSV into maps keyed by column name and checks that
// the required columns are present.
func readCSV(r io.Reader, required ...string) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	for _, col := range required {
		if !slices.Contains(header, col) {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
