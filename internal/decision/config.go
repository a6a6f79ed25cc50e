package decision

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

// DefaultConfig returns the built-in decision configuration.
func DefaultConfig() *domain.DecisionConfig {
	return domain.DefaultDecisionConfig()
}

// LoadConfig reads a YAML decision configuration over the built-in defaults.
// ${VAR} references are expanded from the environment. Unknown keys and
// invalid values are ConfigurationErrors. Without an explicit version the
// config is versioned by the digest of the file.
func LoadConfig(path string) (*domain.DecisionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewConfigError("decision_config", "read %s: %v", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates YAML decision configuration bytes.
func ParseConfig(data []byte) (*domain.DecisionConfig, error) {
	cfg := domain.DefaultDecisionConfig()
	cfg.Version = ""

	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.NewConfigError("decision_config", "decode yaml: %v", err)
	}

	if cfg.Version == "" {
		sum := sha256.Sum256(data)
		cfg.Version = "sha256:" + hex.EncodeToString(sum[:8])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
