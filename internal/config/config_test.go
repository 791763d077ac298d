package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, _, err := Load("testdata/missing.env")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, []int{429, 502, 503, 504}, cfg.ProxyRetryStatuses)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.EncryptionKey)
	assert.False(t, cfg.RefreshDistributedLock)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/connections")
	t.Setenv("REFRESH_TIMEOUT", "5s")
	t.Setenv("PROXY_RETRY_STATUSES", "429,503")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, _, err := Load("testdata/missing.env")
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, []int{429, 503}, cfg.ProxyRetryStatuses)
	assert.Len(t, cfg.CORSAllowedOrigins, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "sqlite" }, "unknown STORE_DRIVER"},
		{"postgres without dsn", func(c *Config) { c.StoreDriver = StorePostgres }, "POSTGRES_DSN"},
		{"lock without redis", func(c *Config) { c.RefreshDistributedLock = true }, "REDIS_URL"},
		{"lock ttl too short", func(c *Config) {
			c.RefreshDistributedLock = true
			c.RedisURL = "redis://localhost:6379"
			c.RefreshLockTTL = c.RefreshTimeout
		}, "REFRESH_LOCK_TTL"},
		{"too many retries", func(c *Config) { c.ProxyMaxRetries = 11 }, "PROXY_MAX_RETRIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{StoreDriver: StoreMemory, RefreshTimeout: 30 * time.Second, RefreshLockTTL: 45 * time.Second}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	valid := &Config{StoreDriver: StoreMemory, RefreshTimeout: time.Second}
	assert.NoError(t, valid.Validate())
}
