package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/repository"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/rulestore"
)

const snapshotYAML = `version: fixture-1
coverage_rules:
  - id: R_KNEE
    title: Knee Arthroplasty
    keywords: [knee replacement, knee arthroplasty]
    verdict: COVERED
`

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rules.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func writeSnapshot(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(snapshotYAML), 0o644); err != nil {
		t.Fatalf("failed to write snapshot: %v", err)
	}
	return path
}

func TestLoadRules(t *testing.T) {
	ctx := context.Background()

	t.Run("Builtin", func(t *testing.T) {
		store, err := LoadRules(ctx, domain.RulesConfig{}, nil)
		if err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		builtin, _ := rulestore.Builtin()
		if store.Version() != builtin.Version() {
			t.Errorf("expected builtin version %s, got %s", builtin.Version(), store.Version())
		}
	})

	t.Run("FilePersisted", func(t *testing.T) {
		repo := newRepo(t)
		store, err := LoadRules(ctx, domain.RulesConfig{SnapshotPath: writeSnapshot(t), Persist: true}, repo)
		if err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		if store.Version() != "fixture-1" {
			t.Errorf("expected version fixture-1, got %s", store.Version())
		}

		// A later start without a file picks up the stored snapshot
		stored, err := LoadRules(ctx, domain.RulesConfig{}, repo)
		if err != nil {
			t.Fatalf("LoadRules from repository failed: %v", err)
		}
		if stored.Version() != "fixture-1" {
			t.Errorf("expected stored version fixture-1, got %s", stored.Version())
		}
		if _, ok := stored.Rule("R_KNEE"); !ok {
			t.Error("expected rule R_KNEE in stored snapshot")
		}
	})

	t.Run("FileNotPersisted", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := LoadRules(ctx, domain.RulesConfig{SnapshotPath: writeSnapshot(t)}, repo); err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		versions, err := repo.ListSnapshotVersions(ctx)
		if err != nil {
			t.Fatalf("ListSnapshotVersions failed: %v", err)
		}
		if len(versions) != 0 {
			t.Errorf("expected no stored snapshots, got %d", len(versions))
		}
	})

	t.Run("EmptyRepositoryFallsBack", func(t *testing.T) {
		repo := newRepo(t)
		store, err := LoadRules(ctx, domain.RulesConfig{Persist: true}, repo)
		if err != nil {
			t.Fatalf("LoadRules failed: %v", err)
		}
		versions, _ := repo.ListSnapshotVersions(ctx)
		if len(versions) != 1 || versions[0].Version != store.Version() {
			t.Errorf("expected builtin snapshot to be stored, got %+v", versions)
		}
	})

	t.Run("UnknownVersion", func(t *testing.T) {
		_, err := LoadRules(ctx, domain.RulesConfig{Version: "missing"}, newRepo(t))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadRules(ctx, domain.RulesConfig{SnapshotPath: "does-not-exist.yaml"}, nil)
		if !domain.IsConfigurationError(err) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})
}

func TestLoadDecision(t *testing.T) {
	cfg, err := LoadDecision("")
	if err != nil {
		t.Fatalf("LoadDecision failed: %v", err)
	}
	if cfg.Version == "" {
		t.Error("expected built-in config version")
	}

	if _, err := LoadDecision("does-not-exist.yaml"); !domain.IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}
