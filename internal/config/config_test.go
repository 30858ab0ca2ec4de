package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/restock")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SHOPIFY_API_SECRET", "shpss_test")
	t.Setenv("MAIL_DRIVER", "log")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 8, cfg.NumWorkers)
	assert.Equal(t, 24*time.Hour, cfg.WebhookDedupTTL)
	assert.Equal(t, 10, cfg.Mail.SendConcurrency)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "restock.yaml")
	yamlDoc := `
port: "9000"
num_workers: 3
public_base_url: https://alerts.example.com
mail:
  send_timeout: 5s
  send_rate_per_second: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))
	t.Setenv("NUM_WORKERS", "12")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 12, cfg.NumWorkers, "env overrides yaml")
	assert.Equal(t, "https://alerts.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 5*time.Second, cfg.Mail.SendTimeout)
	assert.Equal(t, 2, cfg.Mail.SendRatePerSecond)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"database", "DATABASE_URL", "DATABASE_URL is required"},
		{"redis", "REDIS_URL", "REDIS_URL is required"},
		{"secret", "SHOPIFY_API_SECRET", "SHOPIFY_API_SECRET is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_SMTPRequiresHost(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAIL_DRIVER", "smtp")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP_HOST")
}

func TestLoad_MemoryDriverNeedsNoDatabase(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
}
