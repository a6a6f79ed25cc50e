package rulestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

// LoadFile reads a snapshot from a JSON or YAML file.
// A snapshot without a version is versioned by the sha256 of its content.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigError("snapshot", "read %s: %v", path, err)
	}
	snap, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if snap.Source == "" {
		snap.Source = filepath.Base(path)
	}
	return New(snap)
}

// Parse decodes snapshot bytes. ext selects YAML for ".yaml" and ".yml";
// anything else is decoded as JSON.
func Parse(data []byte, ext string) (*domain.RuleSnapshot, error) {
	var snap domain.RuleSnapshot
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return nil, domain.NewConfigError("snapshot", "decode yaml: %v", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&snap); err != nil {
			return nil, domain.NewConfigError("snapshot", "decode json: %v", err)
		}
	}
	if snap.Version == "" {
		snap.Version = ContentVersion(data)
	}
	return &snap, nil
}

// ContentVersion derives a snapshot version from raw content.
func ContentVersion(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:8])
}

// FromRepository loads a persisted snapshot. An empty version loads the latest.
func FromRepository(ctx context.Context, repo domain.Repository, version string) (*Store, error) {
	snap, err := repo.LoadRuleSnapshot(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("load rule snapshot %q: %w", version, err)
	}
	return New(snap)
}

// WriteFile writes the store as indented JSON.
func (s *Store) WriteFile(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
