// Package config loads the gated service configuration from YAML, applying
// defaults and validating the security-relevant settings. Secrets may be
// supplied via environment variable instead of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig selects the persistent store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// KVConfig selects the shared key-value backend.
type KVConfig struct {
	// Backend is redis, leveldb, or memory.
	Backend   string        `yaml:"backend"`
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Path      string        `yaml:"path"`
	OpTimeout time.Duration `yaml:"opTimeout"`
}

// AuthConfig carries credential issuance policy.
type AuthConfig struct {
	SigningSecret    string        `yaml:"signingSecret"`
	SigningAlgorithm string        `yaml:"signingAlgorithm"`
	TokenLifetime    time.Duration `yaml:"tokenLifetime"`
	Issuer           string        `yaml:"issuer"`
}

// LockoutConfig carries the brute-force policy.
type LockoutConfig struct {
	Limit  int64         `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// BanConfig tunes ban enforcement.
type BanConfig struct {
	SweepInterval          time.Duration `yaml:"sweepInterval"`
	AddressRefreshInterval time.Duration `yaml:"addressRefreshInterval"`
	AccountCacheTTL        time.Duration `yaml:"accountCacheTTL"`
}

// RateLimitConfig throttles one route class.
type RateLimitConfig struct {
	ID            string  `yaml:"id"`
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

// ObservabilityConfig controls request logging and metric naming.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	LogRequests   bool   `yaml:"logRequests"`
}

// LoggingConfig controls optional rotated file output.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Config is the whole gated configuration.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Database      DatabaseConfig      `yaml:"database"`
	KV            KVConfig            `yaml:"kv"`
	Auth          AuthConfig          `yaml:"auth"`
	Lockout       LockoutConfig       `yaml:"lockout"`
	Bans          BanConfig           `yaml:"bans"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// EnvSigningSecret overrides auth.signingSecret when set, keeping the
// secret out of the config file.
const EnvSigningSecret = "SWARMGATE_SIGNING_SECRET"

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		raw, err := os.ReadFile(trimmed)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if secret := strings.TrimSpace(os.Getenv(EnvSigningSecret)); secret != "" {
		cfg.Auth.SigningSecret = secret
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		Database:      DatabaseConfig{Driver: "sqlite", DSN: "swarmgate.db"},
		KV:            KVConfig{Backend: "memory", OpTimeout: 2 * time.Second},
		Auth: AuthConfig{
			SigningAlgorithm: "HS256",
			TokenLifetime:    time.Hour,
			Issuer:           "swarmgate",
		},
		Lockout: LockoutConfig{Limit: 5, Window: 15 * time.Minute},
		Bans: BanConfig{
			SweepInterval:          5 * time.Minute,
			AddressRefreshInterval: 30 * time.Second,
			AccountCacheTTL:        30 * time.Second,
		},
		Observability: ObservabilityConfig{
			ServiceName:   "swarmgate",
			MetricsPrefix: "swarmgate",
			LogRequests:   true,
		},
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if c.KV.OpTimeout <= 0 {
		c.KV.OpTimeout = 2 * time.Second
	}
	if c.Auth.TokenLifetime <= 0 {
		c.Auth.TokenLifetime = time.Hour
	}
	if c.Lockout.Limit <= 0 {
		c.Lockout.Limit = 5
	}
	if c.Lockout.Window <= 0 {
		c.Lockout.Window = 15 * time.Minute
	}
	if c.Bans.SweepInterval <= 0 {
		c.Bans.SweepInterval = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signingSecret required (or set %s)", EnvSigningSecret)
	}
	switch strings.ToLower(strings.TrimSpace(c.KV.Backend)) {
	case "redis":
		if strings.TrimSpace(c.KV.Address) == "" {
			return errors.New("kv.address required for the redis backend")
		}
	case "leveldb":
		if strings.TrimSpace(c.KV.Path) == "" {
			return errors.New("kv.path required for the leveldb backend")
		}
	case "memory", "":
	default:
		return fmt.Errorf("unsupported kv.backend %q", c.KV.Backend)
	}
	for _, limit := range c.RateLimits {
		if strings.TrimSpace(limit.ID) == "" {
			return errors.New("rate limit entries need an id")
		}
		if limit.RatePerSecond <= 0 {
			return fmt.Errorf("rate limit %q needs a positive ratePerSecond", limit.ID)
		}
	}
	return nil
}
