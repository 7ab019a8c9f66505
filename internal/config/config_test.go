package config

import (
	"testing"
	"time"

	"github.com/bluescreen10/tablesession"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	config, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", config.Port)
	assert.Equal(t, zerolog.InfoLevel, config.LogLevel)
	assert.Equal(t, BackendMemory, config.Session.Backend)
	assert.Equal(t, tablesession.DefaultTableName, config.Session.Table)
	assert.Equal(t, tablesession.DefaultSweepSchedule, config.Session.SweepSchedule)
	assert.Equal(t, uint(1), config.Session.ReadRetries)
	assert.Equal(t, time.Duration(0), config.Session.DefaultTTL)
	assert.Equal(t, 24*time.Hour, config.Session.Lifetime)
}

func TestFromEnv_Success(t *testing.T) {
	envVars := map[string]string{
		"PORT":                     "9000",
		"LOG_LEVEL":                "debug",
		"LOG_FORMAT":               "console",
		"SESSION_BACKEND":          "redis",
		"SESSION_TABLE":            "AppSessions",
		"MAX_SESSION":              "30",
		"SESSION_SWEEP_SCHEDULE":   "@every 5m",
		"SESSION_READ_RETRIES":     "3",
		"SESSION_READ_RETRY_DELAY": "200ms",
		"REDIS_ADDR":               "localhost:6379",
		"REDIS_DB":                 "2",
	}

	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9000", config.Port)
	assert.Equal(t, zerolog.DebugLevel, config.LogLevel)
	assert.Equal(t, "console", config.LogFormat)
	assert.Equal(t, "AppSessions", config.Session.Table)
	assert.Equal(t, 30*time.Minute, config.Session.DefaultTTL)
	assert.Equal(t, "@every 5m", config.Session.SweepSchedule)
	assert.Equal(t, uint(3), config.Session.ReadRetries)
	assert.Equal(t, 200*time.Millisecond, config.Session.ReadRetryDelay)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 2, config.Redis.DB)

	assert.Len(t, config.StoreOptions(), 6)
}

func TestFromEnv_MissingRequiredEnv(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "mysql")

	config, err := FromEnv()
	assert.Nil(t, config)
	assert.ErrorContains(t, err, "missing env: MYSQL_DSN")
}

func TestFromEnv_AzureNeedsCredentials(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "azure")

	_, err := FromEnv()
	require.Error(t, err)
	assert.ErrorContains(t, err, "AZURE_STORAGE_ACCOUNT")
	assert.ErrorContains(t, err, "AZURE_STORAGE_ACCESS_KEY")

	t.Setenv("AZURE_STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	_, err = FromEnv()
	assert.NoError(t, err)
}

func TestFromEnv_CollectsAllErrors(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "cassandra")
	t.Setenv("MAX_SESSION", "soon")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("SESSION_SWEEP_SCHEDULE", "whenever")

	_, err := FromEnv()
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid SESSION_BACKEND: cassandra")
	assert.ErrorContains(t, err, "invalid minutes for MAX_SESSION: soon")
	assert.ErrorContains(t, err, "invalid LOG_FORMAT: xml")
	assert.ErrorContains(t, err, "invalid sweep schedule")
}
