// Package config loads the sessiond configuration from the environment and
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/bluescreen10/tablesession"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Session backends selectable with SESSION_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendAzure  = "azure"
)

type SessionConfig struct {
	Backend        string
	Table          string
	DefaultTTL     time.Duration
	SweepSchedule  string
	ReadRetries    uint
	ReadRetryDelay time.Duration
	Lifetime       time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MySQLConfig struct {
	DSN string
}

type SQLiteConfig struct {
	Path string
}

type AzureConfig struct {
	ConnectionString string
	Account          string
	AccessKey        string
	TableURL         string
}

type Config struct {
	Port      string
	LogLevel  zerolog.Level
	LogFormat string

	Session SessionConfig
	Redis   RedisConfig
	MySQL   MySQLConfig
	SQLite  SQLiteConfig
	Azure   AzureConfig
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the environment alone.
func FromEnv() (*Config, error) {
	l := NewLoader()

	cfg := &Config{
		Port:      l.str("PORT", "8080"),
		LogFormat: l.str("LOG_FORMAT", "json"),
		Session: SessionConfig{
			Backend:        l.str("SESSION_BACKEND", BackendMemory),
			Table:          l.str("SESSION_TABLE", tablesession.DefaultTableName),
			DefaultTTL:     parsed(l, "MAX_SESSION", "minutes", 0, parseMinutes),
			SweepSchedule:  l.str("SESSION_SWEEP_SCHEDULE", tablesession.DefaultSweepSchedule),
			ReadRetries:    parsed(l, "SESSION_READ_RETRIES", "uint", 1, parseUint),
			ReadRetryDelay: parsed(l, "SESSION_READ_RETRY_DELAY", "duration", 0, time.ParseDuration),
			Lifetime:       parsed(l, "SESSION_LIFETIME", "duration", 24*time.Hour, time.ParseDuration),
		},
	}

	level, err := zerolog.ParseLevel(l.str("LOG_LEVEL", "info"))
	if err != nil {
		l.fail(err)
	}
	cfg.LogLevel = level

	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		l.fail(errors.New("invalid LOG_FORMAT: " + cfg.LogFormat))
	}

	if _, err := tablesession.ParseSchedule(cfg.Session.SweepSchedule); err != nil {
		l.fail(err)
	}

	switch cfg.Session.Backend {
	case BackendMemory:
	case BackendRedis:
		cfg.Redis = RedisConfig{
			Addr:     l.require("REDIS_ADDR"),
			Password: l.str("REDIS_PASSWORD", ""),
			DB:       parsed(l, "REDIS_DB", "int", 0, strconv.Atoi),
		}
	case BackendSQLite:
		cfg.SQLite.Path = l.str("SQLITE_PATH", "sessions.db")
	case BackendMySQL:
		cfg.MySQL.DSN = l.require("MYSQL_DSN")
	case BackendAzure:
		cfg.Azure = AzureConfig{
			ConnectionString: l.str("AZURE_STORAGE_CONNECTION_STRING", ""),
			Account:          l.str("AZURE_STORAGE_ACCOUNT", ""),
			AccessKey:        l.str("AZURE_STORAGE_ACCESS_KEY", ""),
			TableURL:         l.str("AZURE_TABLE_URL", ""),
		}
		if cfg.Azure.ConnectionString == "" {
			l.require("AZURE_STORAGE_ACCOUNT")
			l.require("AZURE_STORAGE_ACCESS_KEY")
		}
	default:
		l.fail(errors.New("invalid SESSION_BACKEND: " + cfg.Session.Backend))
	}

	if err := l.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StoreOptions translates the session settings into store options.
func (c *Config) StoreOptions() []tablesession.Option {
	opts := []tablesession.Option{
		tablesession.WithTableName(c.Session.Table),
		tablesession.WithSweepSchedule(c.Session.SweepSchedule),
		tablesession.WithReadRetries(c.Session.ReadRetries),
		tablesession.WithReadRetryDelay(c.Session.ReadRetryDelay),
	}
	if c.Session.DefaultTTL > 0 {
		opts = append(opts, tablesession.WithDefaultTTL(c.Session.DefaultTTL), tablesession.WithSweepOnStart())
	}
	return opts
}
