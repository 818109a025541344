// Package config loads service configuration with viper and hot-reloads the
// extraction vocabulary.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kumbuk/orchestrator/internal/storage"
	"github.com/kumbuk/orchestrator/internal/tracing"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "./config/kumbuk.yaml"

// Backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AdminPort       int           `mapstructure:"admin_port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// AuthConfig controls bearer-token auth. When disabled every request runs
// as DefaultUserID.
type AuthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	DefaultUserID string        `mapstructure:"default_user_id"`
}

// RateLimitConfig is a per-user token bucket. RequestsPerSecond 0 disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type AnalyzerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	HistorySize int           `mapstructure:"history_size"`
}

type StorageConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// Driver maps the backend name to its database/sql driver.
func (s StorageConfig) Driver() string {
	switch s.Backend {
	case BackendSQLite:
		return "sqlite3"
	case BackendPostgres:
		return "postgres"
	default:
		return ""
	}
}

type SessionConfig struct {
	Backend       string        `mapstructure:"backend"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type StreamingConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type VocabularyConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// ProfileSeed is a user profile loaded into the profile table at startup.
type ProfileSeed struct {
	UserID   string `mapstructure:"user_id"`
	Role     string `mapstructure:"role"`
	Name     string `mapstructure:"name"`
	Location string `mapstructure:"location"`
}

type ProfilesConfig struct {
	Default storage.Profile `mapstructure:"default"`
	Seed    []ProfileSeed   `mapstructure:"seed"`
}

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig     `mapstructure:"server"`
	Logging       LoggingConfig    `mapstructure:"logging"`
	Auth          AuthConfig       `mapstructure:"auth"`
	RateLimit     RateLimitConfig  `mapstructure:"rate_limit"`
	Analyzer      AnalyzerConfig   `mapstructure:"analyzer"`
	Storage       StorageConfig    `mapstructure:"storage"`
	Session       SessionConfig    `mapstructure:"session"`
	Streaming     StreamingConfig  `mapstructure:"streaming"`
	Vocabulary    VocabularyConfig `mapstructure:"vocabulary"`
	Profiles      ProfilesConfig   `mapstructure:"profiles"`
	Tracing       tracing.Config   `mapstructure:"tracing"`
	VerboseErrors bool             `mapstructure:"verbose_errors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.admin_port", 8081)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.default_user_id", "test_user_123")

	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("analyzer.enabled", true)
	v.SetDefault("analyzer.endpoint", "")
	v.SetDefault("analyzer.model", "")
	v.SetDefault("analyzer.timeout", 3*time.Second)
	v.SetDefault("analyzer.history_size", 3)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.max_connections", 25)
	v.SetDefault("storage.idle_connections", 5)
	v.SetDefault("storage.max_lifetime", 5*time.Minute)

	v.SetDefault("session.backend", BackendMemory)
	v.SetDefault("session.max_sessions", 10000)
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)
	v.SetDefault("session.ttl", 24*time.Hour)

	v.SetDefault("streaming.capacity", 256)

	v.SetDefault("vocabulary.path", "")
	v.SetDefault("vocabulary.watch", true)

	v.SetDefault("profiles.default.role", "consumer")
	v.SetDefault("profiles.default.name", "Demo User")
	v.SetDefault("profiles.default.location", "Colombo")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "kumbuk-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("verbose_errors", false)
}

// Load reads path, or CONFIG_PATH, or DefaultPath. A missing file is not an
// error; defaults and KUMBUK_* environment variables still apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KUMBUK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Session.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}
