package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-secret"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "data/identity.db", cfg.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.SessionPersistentTTL)
	assert.Equal(t, 24*time.Hour, cfg.ConfirmationTokenTTL)
	assert.Equal(t, testSecret, cfg.ConfirmationSecret, "confirmation secret falls back to the session secret")
	assert.Equal(t, "http://localhost:8080/Account/ExternalLoginCallback", cfg.GoogleCallbackURL)
	assert.Equal(t, "@daily", cfg.NotifierCron)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.True(t, cfg.EmailConfirmationEnabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.False(t, cfg.GoogleEnabled())
	assert.False(t, cfg.SMTPEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://id.example.com/")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("GOOGLE_CLIENT_ID", "cid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "csecret")
	t.Setenv("NOTIFIER_CRON", "* * * * *")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://id.example.com", cfg.BaseURL)
	assert.Equal(t, "https://id.example.com/Account/ExternalLoginCallback", cfg.GoogleCallbackURL)
	assert.Equal(t, 465, cfg.SMTP.Port)
	assert.Equal(t, "no-reply@smtp.example.com", cfg.SMTP.From)
	assert.True(t, cfg.GoogleEnabled())
	assert.True(t, cfg.SMTPEnabled())
	assert.Equal(t, "* * * * *", cfg.NotifierCron)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "SESSION_SECRET"},
		{"bad cron", map[string]string{"SESSION_SECRET": testSecret, "NOTIFIER_CRON": "sometimes"}, "NOTIFIER_CRON"},
		{"half google", map[string]string{"SESSION_SECRET": testSecret, "GOOGLE_CLIENT_ID": "cid"}, "GOOGLE_CLIENT_ID"},
		{"bad level", map[string]string{"SESSION_SECRET": testSecret, "LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"bad cost", map[string]string{"SESSION_SECRET": testSecret, "BCRYPT_COST": "2"}, "BCRYPT_COST"},
		{"unparseable port", map[string]string{"SESSION_SECRET": testSecret, "PORT": "eighty"}, "parse env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SESSION_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}
