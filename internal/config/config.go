// Package config loads service settings from an optional YAML file and
// TRULLO_* environment variables. Environment values win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trullo.app/internal/auth"
)

const (
	DefaultHTTPAddr  = ":8080"
	DefaultGRPCAddr  = ":9090"
	DefaultTokenTTL  = 24 * time.Hour
	DefaultRateRPS   = 20
	DefaultRateBurst = 40
)

// HTTPConfig configures the REST/GraphQL listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	RateRPS           float64       `yaml:"rate_rps"`
	RateBurst         int           `yaml:"rate_burst"`
}

// GRPCConfig configures the health-check listener. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// PostgresConfig selects the Postgres store. An empty DSN selects the in-memory store.
type PostgresConfig struct {
	DSN        string `yaml:"dsn"`
	InitSchema bool   `yaml:"init_schema"`
}

// RedisConfig selects Redis-backed token revocation. An empty Addr keeps revocations in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config holds all application configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Auth     AuthConfig     `yaml:"auth"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// Default returns a configuration with every default applied and no secret.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.HTTP.ReadHeaderTimeout == 0 {
		cfg.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.RateRPS == 0 {
		cfg.HTTP.RateRPS = DefaultRateRPS
	}
	if cfg.HTTP.RateBurst == 0 {
		cfg.HTTP.RateBurst = DefaultRateBurst
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
}

// Load reads path (when non-empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown keys.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from TRULLO_* variables found by lookup.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("TRULLO_HTTP_ADDR", &cfg.HTTP.Addr)
	str("TRULLO_GRPC_ADDR", &cfg.GRPC.Addr)
	str("TRULLO_JWT_SECRET", &cfg.Auth.JWTSecret)
	str("TRULLO_PG_DSN", &cfg.Postgres.DSN)
	str("TRULLO_REDIS_ADDR", &cfg.Redis.Addr)
	str("TRULLO_REDIS_PASSWORD", &cfg.Redis.Password)

	if v, ok := lookup("TRULLO_CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.HTTP.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.HTTP.AllowedOrigins = append(cfg.HTTP.AllowedOrigins, o)
			}
		}
	}
	if v, ok := lookup("TRULLO_TOKEN_TTL"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRULLO_TOKEN_TTL: %w", err)
		}
		cfg.Auth.TokenTTL = d
	}
	if v, ok := lookup("TRULLO_COOKIE_SECURE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRULLO_COOKIE_SECURE: %w", err)
		}
		cfg.Auth.CookieSecure = b
	}
	if v, ok := lookup("TRULLO_PG_INIT"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRULLO_PG_INIT: %w", err)
		}
		cfg.Postgres.InitSchema = b
	}
	if v, ok := lookup("TRULLO_RATE_RPS"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("TRULLO_RATE_RPS: %w", err)
		}
		cfg.HTTP.RateRPS = f
	}
	if v, ok := lookup("TRULLO_RATE_BURST"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRULLO_RATE_BURST: %w", err)
		}
		cfg.HTTP.RateBurst = n
	}
	if v, ok := lookup("TRULLO_REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TRULLO_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return auth.ErrMissingSecret
	}
	if cfg.Auth.TokenTTL < 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	if cfg.HTTP.RateRPS < 0 || cfg.HTTP.RateBurst < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	return nil
}
