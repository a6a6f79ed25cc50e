package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/decision"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/rulestore"
)

// LoadDecision reads the decision config at path, or returns the built-in
// defaults when path is empty.
func LoadDecision(path string) (*domain.DecisionConfig, error) {
	if path == "" {
		return decision.DefaultConfig(), nil
	}
	return decision.LoadConfig(path)
}

// LoadRules resolves the rule snapshot:
//   - a snapshot file, saved to repo when Persist is set
//   - otherwise the stored snapshot named by Version (latest when empty)
//   - otherwise the embedded sample, when nothing is stored yet
//
// repo may be nil.
func LoadRules(ctx context.Context, cfg domain.RulesConfig, repo domain.Repository) (*rulestore.Store, error) {
	if cfg.SnapshotPath != "" {
		store, err := rulestore.LoadFile(cfg.SnapshotPath)
		if err != nil {
			return nil, err
		}
		if err := persist(ctx, cfg, repo, store); err != nil {
			return nil, err
		}
		return store, nil
	}

	if repo != nil {
		store, err := rulestore.FromRepository(ctx, repo, cfg.Version)
		switch {
		case err == nil:
			return store, nil
		case !errors.Is(err, domain.ErrNotFound) || cfg.Version != "":
			return nil, err
		}
		slog.Info("no stored rule snapshot, using embedded sample")
	}

	store, err := rulestore.Builtin()
	if err != nil {
		return nil, err
	}
	if err := persist(ctx, cfg, repo, store); err != nil {
		return nil, err
	}
	return store, nil
}

func persist(ctx context.Context, cfg domain.RulesConfig, repo domain.Repository, store *rulestore.Store) error {
	if repo == nil || !cfg.Persist {
		return nil
	}
	if err := repo.SaveRuleSnapshot(ctx, store.Snapshot()); err != nil {
		return fmt.Errorf("persist rule snapshot %s: %w", store.Version(), err)
	}
	slog.Info("rule snapshot stored", "version", store.Version(), "rules", store.Len())
	return nil
}
