// ABOUTME: Configuration loading and parsing for quotagate
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultInternalTokenTTL    = 24 * time.Hour
	DefaultKeyRefreshInterval  = 24 * time.Hour
	DefaultKeyFetchTimeout     = 10 * time.Second
	DefaultMissRefreshInterval = 5 * time.Second
	DefaultCredentialCacheTTL  = 5 * time.Minute
	DefaultCredentialCacheSize = 10000
	DefaultMonthlyUnitBudget   = 1_000_000
	DefaultEstimateMultiplier  = 3.0
	DefaultRequestTimeout      = 60 * time.Second

	// MaxCredentialCacheTTL caps how long a verified external credential is
	// trusted without another signature check.
	MaxCredentialCacheTTL = 5 * time.Minute
	MaxEstimateMultiplier = 1000.0

	UsageBackendSQLite = "sqlite"
	UsageBackendRedis  = "redis"
)

// minSecretLength is the shortest jwt_secret accepted for HS256 signing.
const minSecretLength = 32

// Config represents the complete quotagate configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Quota    QuotaConfig    `yaml:"quota" toml:"quota"`
	Usage    UsageConfig    `yaml:"usage" toml:"usage"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration for both trust domains.
type AuthConfig struct {
	JWTSecret        string                 `yaml:"jwt_secret" toml:"jwt_secret"`
	AdminPrincipalID string                 `yaml:"admin_principal_id" toml:"admin_principal_id"`
	IdentityProvider IdentityProviderConfig `yaml:"identity_provider" toml:"identity_provider"`

	InternalTokenTTL    time.Duration `yaml:"-" toml:"-"`
	InternalTokenTTLRaw string        `yaml:"internal_token_ttl" toml:"internal_token_ttl"`
}

// IdentityProviderConfig describes the external identity provider whose
// published keys sign external credentials.
type IdentityProviderConfig struct {
	IssuerURL             string `yaml:"issuer_url" toml:"issuer_url"`
	JWKSURL               string `yaml:"jwks_url" toml:"jwks_url"`
	Audience              string `yaml:"audience" toml:"audience"`
	AllowAudienceFallback bool   `yaml:"allow_audience_fallback" toml:"allow_audience_fallback"`
	CredentialCacheSize   int    `yaml:"credential_cache_size" toml:"credential_cache_size"`

	RefreshInterval     time.Duration `yaml:"-" toml:"-"`
	FetchTimeout        time.Duration `yaml:"-" toml:"-"`
	MissRefreshInterval time.Duration `yaml:"-" toml:"-"`
	CredentialCacheTTL  time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RefreshIntervalRaw     string `yaml:"refresh_interval" toml:"refresh_interval"`
	FetchTimeoutRaw        string `yaml:"fetch_timeout" toml:"fetch_timeout"`
	MissRefreshIntervalRaw string `yaml:"miss_refresh_interval" toml:"miss_refresh_interval"`
	CredentialCacheTTLRaw  string `yaml:"credential_cache_ttl" toml:"credential_cache_ttl"`
}

// Enabled reports whether an external identity provider is configured.
func (c IdentityProviderConfig) Enabled() bool {
	return c.IssuerURL != "" || c.JWKSURL != ""
}

// QuotaConfig holds admission control settings.
type QuotaConfig struct {
	// MonthlyUnitBudget seeds the global budget the first time the store is created.
	// Later changes go through the admin API and live in the store.
	MonthlyUnitBudget  int64   `yaml:"monthly_unit_budget" toml:"monthly_unit_budget"`
	EstimateMultiplier float64 `yaml:"estimate_multiplier" toml:"estimate_multiplier"`
	StrictReservations bool    `yaml:"strict_reservations" toml:"strict_reservations"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// UsageConfig selects where usage records are accumulated.
type UsageConfig struct {
	Backend       string `yaml:"backend" toml:"backend"` // "sqlite" or "redis"
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Auth.InternalTokenTTL == 0 {
		c.Auth.InternalTokenTTL = DefaultInternalTokenTTL
	}

	idp := &c.Auth.IdentityProvider
	if idp.RefreshInterval == 0 {
		idp.RefreshInterval = DefaultKeyRefreshInterval
	}
	if idp.FetchTimeout == 0 {
		idp.FetchTimeout = DefaultKeyFetchTimeout
	}
	if idp.MissRefreshInterval == 0 {
		idp.MissRefreshInterval = DefaultMissRefreshInterval
	}
	if idp.CredentialCacheTTL == 0 {
		idp.CredentialCacheTTL = DefaultCredentialCacheTTL
	}
	if idp.CredentialCacheSize == 0 {
		idp.CredentialCacheSize = DefaultCredentialCacheSize
	}

	if c.Quota.MonthlyUnitBudget == 0 {
		c.Quota.MonthlyUnitBudget = DefaultMonthlyUnitBudget
	}
	if c.Quota.EstimateMultiplier == 0 {
		c.Quota.EstimateMultiplier = DefaultEstimateMultiplier
	}
	if c.Quota.RequestTimeout == 0 {
		c.Quota.RequestTimeout = DefaultRequestTimeout
	}

	if c.Usage.Backend == "" {
		c.Usage.Backend = UsageBackendSQLite
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	if c.Auth.AdminPrincipalID == "" {
		return fmt.Errorf("auth.admin_principal_id is required")
	}

	idp := c.Auth.IdentityProvider
	if idp.Enabled() && idp.Audience == "" {
		return fmt.Errorf("auth.identity_provider.audience is required when an identity provider is configured")
	}
	if idp.JWKSURL == "" && idp.IssuerURL != "" && !strings.HasPrefix(idp.IssuerURL, "http") {
		return fmt.Errorf("auth.identity_provider.issuer_url must be an http(s) URL")
	}
	if idp.CredentialCacheTTL < 0 || idp.CredentialCacheTTL > MaxCredentialCacheTTL {
		return fmt.Errorf("auth.identity_provider.credential_cache_ttl must be between 0 and %s", MaxCredentialCacheTTL)
	}
	if idp.CredentialCacheSize < 0 {
		return fmt.Errorf("auth.identity_provider.credential_cache_size must not be negative")
	}

	if c.Quota.MonthlyUnitBudget <= 0 {
		return fmt.Errorf("quota.monthly_unit_budget must be positive")
	}
	if c.Quota.EstimateMultiplier < 1 || c.Quota.EstimateMultiplier > MaxEstimateMultiplier {
		return fmt.Errorf("quota.estimate_multiplier must be between 1 and %g", MaxEstimateMultiplier)
	}

	switch c.Usage.Backend {
	case UsageBackendSQLite:
	case UsageBackendRedis:
		if c.Usage.RedisAddr == "" {
			return fmt.Errorf("usage.redis_addr is required when usage.backend is redis")
		}
	default:
		return fmt.Errorf("usage.backend must be %q or %q, got %q", UsageBackendSQLite, UsageBackendRedis, c.Usage.Backend)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"internal_token_ttl", cfg.Auth.InternalTokenTTLRaw, &cfg.Auth.InternalTokenTTL},
		{"refresh_interval", cfg.Auth.IdentityProvider.RefreshIntervalRaw, &cfg.Auth.IdentityProvider.RefreshInterval},
		{"fetch_timeout", cfg.Auth.IdentityProvider.FetchTimeoutRaw, &cfg.Auth.IdentityProvider.FetchTimeout},
		{"miss_refresh_interval", cfg.Auth.IdentityProvider.MissRefreshIntervalRaw, &cfg.Auth.IdentityProvider.MissRefreshInterval},
		{"credential_cache_ttl", cfg.Auth.IdentityProvider.CredentialCacheTTLRaw, &cfg.Auth.IdentityProvider.CredentialCacheTTL},
		{"request_timeout", cfg.Quota.RequestTimeoutRaw, &cfg.Quota.RequestTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
