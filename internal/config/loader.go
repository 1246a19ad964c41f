package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, applies defaults and
// environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	// Expand ${ENV_VAR} references before parsing so secrets can stay out
	// of the file.
	expanded := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})

	cfg := Defaults()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a config entirely from defaults plus environment overrides.
// Used when no config file is given.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments override the sensitive or per-site
// settings without touching the config file.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString(&cfg.Service.LogLevel, "OPSGATE_LOG_LEVEL")
	setString(&cfg.Storage.Path, "OPSGATE_DB_PATH")
	setString(&cfg.API.Listen, "OPSGATE_LISTEN")
	setString(&cfg.API.Auth.APIKey, "OPSGATE_API_KEY")
	setString(&cfg.Vault.Key, "OPSGATE_ENCRYPTION_KEY")
	setString(&cfg.Webhook.Secret, "OPSGATE_WEBHOOK_SECRET")
	setString(&cfg.Webhook.SignatureHeader, "OPSGATE_WEBHOOK_SIGNATURE_HEADER")
	setString(&cfg.Redis.Addr, "OPSGATE_REDIS_ADDR")
	setString(&cfg.Redis.Password, "OPSGATE_REDIS_PASSWORD")
	setDuration(&cfg.RateLimit.Window, "OPSGATE_RATE_LIMIT_WINDOW")
	setInt(&cfg.RateLimit.GlobalLimit, "OPSGATE_RATE_LIMIT_GLOBAL_MAX")
	setInt(&cfg.RateLimit.UserLimit, "OPSGATE_RATE_LIMIT_USER_MAX")
	setDuration(&cfg.Cache.Freshness, "OPSGATE_CACHE_FRESHNESS")
	setInt(&cfg.Retention.DefaultDays, "OPSGATE_RETENTION_DEFAULT_DAYS")
	setDuration(&cfg.Upstream.Timeout, "OPSGATE_UPSTREAM_TIMEOUT")

	if cfg.Redis.Addr != "" {
		cfg.Redis.Enabled = true
	}
}

// validate checks the loaded configuration for impossible values.
func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is empty")
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is empty")
	}
	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is empty")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.GlobalLimit <= 0 {
		return fmt.Errorf("rate_limit.global_limit must be positive, got %d", cfg.RateLimit.GlobalLimit)
	}
	if cfg.RateLimit.UserLimit <= 0 {
		return fmt.Errorf("rate_limit.user_limit must be positive, got %d", cfg.RateLimit.UserLimit)
	}
	if cfg.Cache.Freshness <= 0 {
		return fmt.Errorf("cache.freshness must be positive, got %s", cfg.Cache.Freshness)
	}
	if cfg.Retention.DefaultDays < 1 || cfg.Retention.DefaultDays > 365 {
		return fmt.Errorf("retention.default_days must be in [1,365], got %d", cfg.Retention.DefaultDays)
	}
	if cfg.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive, got %s", cfg.Upstream.Timeout)
	}
	if cfg.Jobs.HealthInterval <= 0 || cfg.Jobs.RetentionInterval <= 0 {
		return fmt.Errorf("job intervals must be positive")
	}
	for i, tok := range cfg.API.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d]: token is empty", i)
		}
		if tok.UserID == "" {
			return fmt.Errorf("api.auth.tokens[%d]: user_id is empty", i)
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.enabled requires redis.addr")
	}
	return nil
}
