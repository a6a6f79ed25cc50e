// Package config loads the service configuration from defaults, an
// optional YAML file and AUDITOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. AUDITOR_SERVER_PORT.
const EnvPrefix = "AUDITOR"

// Load builds the configuration. Priority, highest first:
//  1. AUDITOR_* environment variables
//  2. the YAML file at path, when path is not empty
//  3. the tier defaults (community, or pro when tier is "pro")
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range Keys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		cfg = domain.ProConfig()
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if os.Getenv(EnvPrefix+"_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Keys lists every dotted config key, derived from the mapstructure tags
// of domain.Config.
func Keys() []string {
	return keys(reflect.TypeOf(domain.Config{}), "")
}

func keys(t reflect.Type, prefix string) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			out = append(out, keys(f.Type, key+".")...)
			continue
		}
		out = append(out, key)
	}
	return out
}

// Validate checks the enumerated and ranged settings.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return domain.NewConfigError("tier", "unknown tier %q", cfg.Tier)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return domain.NewConfigError("server.port", "must be in 1..65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS < 0 || cfg.Server.RateLimitBurst < 0 {
		return domain.NewConfigError("server.rate_limit_rps", "rate limit must not be negative")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return domain.NewConfigError("repository.driver", "unsupported driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis", "none":
	default:
		return domain.NewConfigError("cache.type", "unsupported cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return domain.NewConfigError("eventbus.type", "unsupported event bus type %q", cfg.EventBus.Type)
	}
	if cfg.Pipeline.Workers < 0 {
		return domain.NewConfigError("pipeline.workers", "must not be negative")
	}
	if cfg.Pipeline.ClaimTimeout < 0 || cfg.Pipeline.CacheTTL < 0 {
		return domain.NewConfigError("pipeline", "durations must not be negative")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return domain.NewConfigError("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return domain.NewConfigError("logging.format", "unknown format %q", cfg.Logging.Format)
	}
	return nil
}
