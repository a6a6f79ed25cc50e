package decision

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_AUTO_APPROVE", "0.9")

	cfg, err := LoadConfig("testdata/decision.yaml")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Weights.CoverageStatus != 0.5 {
		t.Errorf("expected coverage weight 0.5, got %f", cfg.Weights.CoverageStatus)
	}
	if cfg.Thresholds.AutoApprove != 0.9 {
		t.Errorf("expected env-expanded approve threshold 0.9, got %f", cfg.Thresholds.AutoApprove)
	}
	if !cfg.CostLimits.Deductible.Equal(decimal.NewFromInt(250)) {
		t.Errorf("expected deductible 250, got %s", cfg.CostLimits.Deductible)
	}
	if len(cfg.Risk.Indicators) != 1 || cfg.Risk.Indicators[0].Name != "oncology" {
		t.Errorf("expected indicator list to be replaced, got %v", cfg.Risk.Indicators)
	}
	if cfg.Templates[domain.DecisionApproved] != "approved {{.RuleID}}" {
		t.Errorf("expected APPROVED template override, got %q", cfg.Templates[domain.DecisionApproved])
	}
	if cfg.Templates[domain.DecisionDenied] == "" {
		t.Error("expected DENIED template to keep its default")
	}
	if cfg.CoverageScores[domain.VerdictUnknown] != 0.3 {
		t.Errorf("expected default UNKNOWN score 0.3, got %f", cfg.CoverageScores[domain.VerdictUnknown])
	}
	if !strings.HasPrefix(cfg.Version, "sha256:") {
		t.Errorf("expected digest version, got %s", cfg.Version)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"weights do not sum to one", "weights: {coverage_status: 0.5, risk_level: 0.5, cost_compliance: 0.5, special_requirements: 0}"},
		{"thresholds out of order", "thresholds: {auto_approve: 0.5, manual_review: 0.6, auto_deny: 0.4}"},
		{"unknown key", "weigths: {coverage_status: 1}"},
		{"bad decimal", "cost_limits: {deductible: lots}"},
		{"syntax", "weights: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if !domain.IsConfigurationError(err) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestParseConfigVersion(t *testing.T) {
	cfg, err := ParseConfig([]byte("version: prod-7\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.Version != "prod-7" {
		t.Errorf("expected explicit version prod-7, got %s", cfg.Version)
	}

	empty, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("expected empty file to yield defaults, got %v", err)
	}
	if empty.Weights != DefaultConfig().Weights {
		t.Errorf("expected default weights, got %+v", empty.Weights)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("testdata/missing.yaml"); !domain.IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}
