package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(lookupMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.ProjectorWorkers)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Minute, cfg.SummaryCacheTTL)
	assert.Error(t, cfg.ValidateAPI())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(lookupMap(map[string]string{
		"HTTP_ADDR":         ":9000",
		"KAFKA_BROKERS":     " k1:9092, ,k2:9092 ",
		"STORE":             "Memory",
		"SEED_FILE":         "catalog.json",
		"JWT_SECRET":        "s3cret",
		"JWT_ISSUER":        "auth",
		"PROJECTOR_WORKERS": "3",
		"REQUEST_TIMEOUT":   "750ms",
		"SUMMARY_CACHE_TTL": "30s",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "catalog.json", cfg.SeedFile)
	assert.Equal(t, "auth", cfg.JWTIssuer)
	assert.Equal(t, 3, cfg.ProjectorWorkers)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.SummaryCacheTTL)
	assert.NoError(t, cfg.ValidateAPI())
}

func TestLoadRejectsBadValues(t *testing.T) {
	for key, val := range map[string]string{
		"STORE":             "sqlite",
		"PROJECTOR_WORKERS": "0",
		"REQUEST_TIMEOUT":   "soon",
		"SUMMARY_CACHE_TTL": "-",
	} {
		t.Run(key, func(t *testing.T) {
			_, err := LoadFrom(lookupMap(map[string]string{key: val}))
			assert.Error(t, err)
		})
	}
}
