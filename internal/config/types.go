package config

import "time"

// Config represents the complete opsgate configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	Retention RetentionConfig `yaml:"retention"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Vault     VaultConfig     `yaml:"vault"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StorageConfig defines the SQLite store location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen string        `yaml:"listen"`
	Auth   APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single admin bearer token.
	APIKey string `yaml:"api_key"`
	// Tokens are per-user bearer tokens.
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken binds a bearer token to a user identity.
type APIToken struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
}

// RateLimitConfig defines fixed-window rate limiting.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	GlobalLimit int           `yaml:"global_limit"`
	UserLimit   int           `yaml:"user_limit"`
}

// UpstreamConfig defines n8n client behavior.
type UpstreamConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig defines execution cache freshness.
type CacheConfig struct {
	Freshness time.Duration `yaml:"freshness"`
}

// RetentionConfig defines cache retention defaults.
type RetentionConfig struct {
	DefaultDays int `yaml:"default_days"`
}

// WebhookConfig defines inbound webhook verification.
type WebhookConfig struct {
	// Secret enables HMAC verification. Empty means open mode: signatures
	// are not checked. This is an explicit opt-out, logged at startup.
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
}

// VaultConfig defines credential encryption.
type VaultConfig struct {
	// Key is the hex-encoded 32-byte AES key.
	Key string `yaml:"key"`
}

// RedisConfig optionally backs the rate limiter with Redis so limits are
// shared across replicas. Disabled means in-memory buckets.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JobsConfig defines scheduled job intervals.
type JobsConfig struct {
	HealthInterval    time.Duration `yaml:"health_interval"`
	RetentionInterval time.Duration `yaml:"retention_interval"`
	WarmupInterval    time.Duration `yaml:"warmup_interval"`
	WarmupEnabled     bool          `yaml:"warmup_enabled"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "opsgate",
			LogLevel: "info",
		},
		Storage: StorageConfig{
			Path: "./data/opsgate.db",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		RateLimit: RateLimitConfig{
			Window:      time.Minute,
			GlobalLimit: 120,
			UserLimit:   60,
		},
		Upstream: UpstreamConfig{
			Timeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Freshness: 5 * time.Minute,
		},
		Retention: RetentionConfig{
			DefaultDays: 30,
		},
		Webhook: WebhookConfig{
			SignatureHeader: "x-n8n-signature",
		},
		Jobs: JobsConfig{
			HealthInterval:    15 * time.Minute,
			RetentionInterval: 24 * time.Hour,
			WarmupInterval:    time.Hour,
			WarmupEnabled:     false,
		},
	}
}
