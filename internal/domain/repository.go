// Package domain defines the core types and interfaces of the claims auditor.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Claim operations
	SaveClaim(ctx context.Context, claim *ClaimRecord) error
	GetClaim(ctx context.Context, claimID string) (*ClaimRecord, error)

	// Decision results
	SaveDecision(ctx context.Context, result *DecisionResult) error
	GetDecision(ctx context.Context, decisionID string) (*DecisionResult, error)
	ListDecisionsByClaim(ctx context.Context, claimID string) ([]*DecisionResult, error)

	// Rule snapshot operations
	SaveRuleSnapshot(ctx context.Context, snapshot *RuleSnapshot) error
	LoadRuleSnapshot(ctx context.Context, version string) (*RuleSnapshot, error)
	ListSnapshotVersions(ctx context.Context) ([]SnapshotInfo, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SnapshotInfo describes a stored rule snapshot.
type SnapshotInfo struct {
	Version   string    `json:"version"`
	Source    string    `json:"source,omitempty"`
	RuleCount int       `json:"ruleCount"`
	CodeCount int       `json:"codeCount"`
	LoadedAt  time.Time `json:"loadedAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
