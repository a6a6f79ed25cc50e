package domain

import "time"

// Config holds the complete auditor service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are used by default
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Evaluation inputs
	Rules    RulesConfig    `json:"rules" mapstructure:"rules"`
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// DecisionConfigPath points at the scoring YAML; empty uses built-in defaults
	DecisionConfigPath string `json:"decisionConfigPath" mapstructure:"decision_config"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds

	// Per-client request rate limit; zero disables limiting
	RateLimitRPS   float64 `json:"rateLimitRps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `json:"rateLimitBurst" mapstructure:"rate_limit_burst"`
}

// RulesConfig locates the rule snapshot.
type RulesConfig struct {
	// SnapshotPath is a JSON or YAML snapshot file; empty uses the embedded sample
	SnapshotPath string `json:"snapshotPath" mapstructure:"snapshot_path"`

	// Version selects a stored snapshot when no file is given; empty means latest
	Version string `json:"version" mapstructure:"version"`

	// Persist stores a file snapshot in the repository on startup
	Persist bool `json:"persist" mapstructure:"persist"`
}

// PipelineConfig controls claim orchestration.
type PipelineConfig struct {
	Workers      int           `json:"workers" mapstructure:"workers"`
	ClaimTimeout time.Duration `json:"claimTimeout" mapstructure:"claim_timeout"`
	CacheTTL     time.Duration `json:"cacheTtl" mapstructure:"cache_ttl"`

	// PersistResults stores claims and decisions in the repository
	PersistResults bool `json:"persistResults" mapstructure:"persist_results"`

	// AsyncWorker subscribes to submitted claims on the event bus
	AsyncWorker bool `json:"asyncWorker" mapstructure:"async_worker"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + local LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./auditor.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rules: RulesConfig{
			Persist: true,
		},
		Pipeline: PipelineConfig{
			Workers:        8,
			ClaimTimeout:   5 * time.Second,
			CacheTTL:       time.Hour,
			PersistResults: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "medicare-claims-auditor",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "auditor",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Pipeline.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}
