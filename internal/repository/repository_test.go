package repository

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "auditor-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetClaim", func(t *testing.T) {
		claim := &domain.ClaimRecord{
			NormalizedClaim: domain.NormalizedClaim{
				ID:        "claim-001",
				PatientID: "patient-001",
				Diagnosis: "Senile cataract",
				Procedure: "Phacoemulsification",
				Cost:      decimal.RequireFromString("3500.25"),
				Language:  domain.LanguageEnglish,
			},
			SubmittedAt: time.Now().UTC().Truncate(time.Second),
			RawInput:    "Patient: patient-001",
		}
		if err := repo.SaveClaim(ctx, claim); err != nil {
			t.Fatalf("SaveClaim failed: %v", err)
		}

		got, err := repo.GetClaim(ctx, "claim-001")
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}
		if got.Diagnosis != claim.Diagnosis || got.Procedure != claim.Procedure {
			t.Errorf("expected %s/%s, got %s/%s", claim.Diagnosis, claim.Procedure, got.Diagnosis, got.Procedure)
		}
		if !got.Cost.Equal(claim.Cost) {
			t.Errorf("expected cost %s, got %s", claim.Cost, got.Cost)
		}
		if got.RawInput != claim.RawInput {
			t.Errorf("expected raw input %q, got %q", claim.RawInput, got.RawInput)
		}
		if !got.SubmittedAt.Equal(claim.SubmittedAt) {
			t.Errorf("expected submitted %v, got %v", claim.SubmittedAt, got.SubmittedAt)
		}

		// resubmission replaces the row
		claim.Cost = decimal.NewFromInt(10)
		if err := repo.SaveClaim(ctx, claim); err != nil {
			t.Fatalf("SaveClaim replace failed: %v", err)
		}
		got, _ = repo.GetClaim(ctx, "claim-001")
		if !got.Cost.Equal(decimal.NewFromInt(10)) {
			t.Errorf("expected replaced cost 10, got %s", got.Cost)
		}
	})

	t.Run("ClaimNotFound", func(t *testing.T) {
		_, err := repo.GetClaim(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := repo.SaveClaim(ctx, &domain.ClaimRecord{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveDecision(ctx, &domain.DecisionResult{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveRuleSnapshot(ctx, &domain.RuleSnapshot{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("SaveAndListDecisions", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i, id := range []string{"dec-001", "dec-002"} {
			result := &domain.DecisionResult{
				ID:             id,
				ClaimID:        "claim-001",
				Decision:       domain.DecisionApproved,
				CompositeScore: 0.91,
				Confidence:     0.24,
				Verdict:        domain.VerdictCovered,
				RiskTier:       domain.RiskLow,
				MatchedRules:   []string{"NCD_80.10"},
				Financial: &domain.FinancialBreakdown{
					TotalCost:        decimal.RequireFromString("3500"),
					InsurancePayment: decimal.RequireFromString("1520"),
				},
				RuleSnapshotVersion: "snap-1",
				ConfigVersion:       "cfg-1",
				EvaluatedAt:         base.Add(time.Duration(i) * time.Second),
			}
			if err := repo.SaveDecision(ctx, result); err != nil {
				t.Fatalf("SaveDecision failed: %v", err)
			}
		}

		got, err := repo.GetDecision(ctx, "dec-001")
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}
		if got.Decision != domain.DecisionApproved || got.ClaimID != "claim-001" {
			t.Errorf("unexpected decision %+v", got)
		}
		if got.Financial == nil || !got.Financial.InsurancePayment.Equal(decimal.NewFromInt(1520)) {
			t.Errorf("expected financial breakdown to round-trip, got %+v", got.Financial)
		}

		list, err := repo.ListDecisionsByClaim(ctx, "claim-001")
		if err != nil {
			t.Fatalf("ListDecisionsByClaim failed: %v", err)
		}
		if len(list) != 2 || list[0].ID != "dec-001" || list[1].ID != "dec-002" {
			t.Errorf("expected [dec-001 dec-002], got %d results", len(list))
		}

		if _, err := repo.GetDecision(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func testSnapshot(version string) *domain.RuleSnapshot {
	ceiling := decimal.RequireFromString("30000.50")
	return &domain.RuleSnapshot{
		Version: version,
		Source:  "unit test",
		Rules: []domain.CoverageRule{
			{ID: "Z_LAST", Title: "Loaded first", Keywords: []string{"a"}, Verdict: domain.VerdictCovered},
			{
				ID:                 "A_FIRST",
				Title:              "Bariatric",
				Keywords:           []string{"gastric bypass", "减重手术"},
				Verdict:            domain.VerdictConditional,
				CostCeiling:        &ceiling,
				PriorAuthorization: true,
				Notes:              "note",
			},
		},
		Codes: []domain.ProcedureCode{
			{Code: "43644", Description: "Laparoscopic gastric bypass", BenefitCategory: "Inpatient Hospital Services", DefaultCoverage: domain.VerdictConditional},
			{Code: "97110", Description: "Therapeutic exercises"},
		},
		Categories: []domain.BenefitCategory{
			{Name: "Inpatient Hospital Services", Keywords: []string{"surgery"}},
		},
		DefaultCategory: "Physicians' Services",
	}
}

func TestRuleSnapshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.LoadRuleSnapshot(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty database, got %v", err)
	}

	if err := repo.SaveRuleSnapshot(ctx, testSnapshot("v1")); err != nil {
		t.Fatalf("SaveRuleSnapshot failed: %v", err)
	}
	// re-saving a version replaces it
	replaced := testSnapshot("v1")
	replaced.Rules = replaced.Rules[1:]
	if err := repo.SaveRuleSnapshot(ctx, replaced); err != nil {
		t.Fatalf("SaveRuleSnapshot replace failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := repo.SaveRuleSnapshot(ctx, testSnapshot("v2")); err != nil {
		t.Fatalf("SaveRuleSnapshot failed: %v", err)
	}

	v1, err := repo.LoadRuleSnapshot(ctx, "v1")
	if err != nil {
		t.Fatalf("LoadRuleSnapshot failed: %v", err)
	}
	if len(v1.Rules) != 1 {
		t.Errorf("expected replaced snapshot to have 1 rule, got %d", len(v1.Rules))
	}

	latest, err := repo.LoadRuleSnapshot(ctx, "")
	if err != nil {
		t.Fatalf("LoadRuleSnapshot latest failed: %v", err)
	}
	if latest.Version != "v2" {
		t.Errorf("expected latest v2, got %s", latest.Version)
	}
	if latest.Rules[0].ID != "Z_LAST" || latest.Rules[1].ID != "A_FIRST" {
		t.Errorf("expected load order preserved, got %s, %s", latest.Rules[0].ID, latest.Rules[1].ID)
	}

	rule := latest.Rules[1]
	if rule.CostCeiling == nil || rule.CostCeiling.String() != "30000.5" {
		t.Errorf("expected ceiling 30000.5, got %v", rule.CostCeiling)
	}
	if !rule.PriorAuthorization || rule.PhysicianCertification {
		t.Errorf("expected flags to round-trip, got %+v", rule)
	}
	if strings.Join(rule.Keywords, "|") != "gastric bypass|减重手术" {
		t.Errorf("expected keywords to round-trip, got %v", rule.Keywords)
	}
	if latest.Rules[0].CostCeiling != nil {
		t.Errorf("expected nil ceiling, got %v", latest.Rules[0].CostCeiling)
	}
	if len(latest.Codes) != 2 || latest.Codes[0].DefaultCoverage != domain.VerdictConditional {
		t.Errorf("expected codes to round-trip, got %+v", latest.Codes)
	}
	if len(latest.Categories) != 1 || latest.Categories[0].Keywords[0] != "surgery" {
		t.Errorf("expected categories to round-trip, got %+v", latest.Categories)
	}
	if latest.DefaultCategory != "Physicians' Services" || latest.Source != "unit test" {
		t.Errorf("expected snapshot metadata to round-trip, got %q %q", latest.DefaultCategory, latest.Source)
	}

	infos, err := repo.ListSnapshotVersions(ctx)
	if err != nil {
		t.Fatalf("ListSnapshotVersions failed: %v", err)
	}
	if len(infos) != 2 || infos[0].Version != "v2" || infos[1].RuleCount != 1 {
		t.Errorf("unexpected snapshot list %+v", infos)
	}

	if _, err := repo.LoadRuleSnapshot(ctx, "v9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("expected postgres placeholders, got %s", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("expected unchanged query, got %s", got)
	}
}

func TestDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "auditor", PostgresPassword: "p w'd"})
	for _, part := range []string{"host=localhost", "port=5432", "dbname=auditor", "sslmode=disable", "user=auditor", `password='p w\'d'`} {
		if !strings.Contains(dsn, part) {
			t.Errorf("expected %q in %q", part, dsn)
		}
	}
	if strings.Contains(postgresDSN(domain.RepositoryConfig{}), "password=") {
		t.Error("expected empty password to be omitted")
	}

	if got := sqliteDSN("/tmp/a.db"); !strings.HasPrefix(got, "file:/tmp/a.db?_pragma=journal_mode(WAL)") {
		t.Errorf("unexpected sqlite dsn %s", got)
	}
	if got := sqliteDSN(":memory:"); !strings.Contains(got, "memory") {
		t.Errorf("unexpected memory dsn %s", got)
	}
}
