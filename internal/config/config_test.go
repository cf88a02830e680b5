package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "smartsavvy.db", cfg.DBPath)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, "UTC", cfg.Clock.Loc.String())
	assert.Equal(t, "Digistore", cfg.DigistoreUserAgent)
	assert.Empty(t, cfg.Products)
	assert.Empty(t, cfg.OriginPatterns)
	assert.False(t, cfg.Backup.Enabled())
	assert.Equal(t, "us-east-1", cfg.Backup.S3.Region)
	assert.Equal(t, 24*time.Hour, cfg.Backup.Interval)
	assert.Equal(t, 30*24*time.Hour, cfg.Backup.Retention)
	assert.Len(t, cfg.Warnings(), 4)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"SMARTSAVVY_PORT":       "9000",
		"SMARTSAVVY_BASE_URL":   "https://smartsavvy.example/",
		"SMARTSAVVY_LOG_FORMAT": "JSON",
		"REDIS_DB":              "2",
		"STATS_TIMEZONE":        "Europe/Berlin",
		"COPECART_SECRET":       "s3cret",
		"POSTMARK_TOKEN":        "tok",
		"FROM_EMAIL":            "hi@smartsavvy.example",
		"ADMIN_TOKEN_HASH":      "$2a$10$abcdefghijklmnopqrstuu",
		"PRODUCT_MAP":           "cc-123=label-plan, ds-9=course:mixing",
		"WS_ORIGIN_PATTERNS":    "dash.smartsavvy.example, *.preview.example,",
		"BACKUP_S3_BUCKET":      "backups",
		"BACKUP_S3_ACCESS_KEY":  "ak",
		"BACKUP_S3_SECRET_KEY":  "sk",
		"BACKUP_PASSPHRASE":     "pp",
		"BACKUP_INTERVAL":       "6h",
		"BACKUP_RETENTION_DAYS": "7",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "https://smartsavvy.example", cfg.BaseURL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "Europe/Berlin", cfg.Clock.Loc.String())
	assert.Equal(t, map[string]string{"cc-123": "label-plan", "ds-9": "course:mixing"}, cfg.Products)
	assert.Equal(t, []string{"dash.smartsavvy.example", "*.preview.example"}, cfg.OriginPatterns)
	assert.True(t, cfg.Backup.Enabled())
	assert.Equal(t, 6*time.Hour, cfg.Backup.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.Backup.Retention)
	assert.Empty(t, cfg.Warnings())
}

func TestFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "SMARTSAVVY_PORT", "http"},
		{"log format", "SMARTSAVVY_LOG_FORMAT", "xml"},
		{"redis db", "REDIS_DB", "-1"},
		{"timezone", "STATS_TIMEZONE", "Mars/Olympus"},
		{"product map", "PRODUCT_MAP", "no-equals-sign"},
		{"admin hash", "ADMIN_TOKEN_HASH", "plaintext"},
		{"backup interval", "BACKUP_INTERVAL", "daily"},
		{"backup retention", "BACKUP_RETENTION_DAYS", "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envMap(map[string]string{tt.key: tt.val}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestFromEnvJoinsErrors(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"REDIS_DB":       "x",
		"STATS_TIMEZONE": "Nowhere/None",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_DB")
	assert.Contains(t, err.Error(), "STATS_TIMEZONE")
}
