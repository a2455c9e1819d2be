// Package config loads the server configuration from environment variables.
//
// Every setting has a default except SESSION_SECRET, so `SESSION_SECRET=...
// go run ./cmd/server` is enough for local development. Google login and
// SMTP delivery switch on when their variables are set.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

// Config is the full server configuration.
type Config struct {
	Port     int    `env:"PORT"      envDefault:"8080"`
	BaseURL  string `env:"BASE_URL"`
	DBPath   string `env:"DB_PATH"   envDefault:"data/identity.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	SessionSecret        string        `env:"SESSION_SECRET"`
	SessionTTL           time.Duration `env:"SESSION_TTL"            envDefault:"12h"`
	SessionPersistentTTL time.Duration `env:"SESSION_PERSISTENT_TTL" envDefault:"336h"`
	CookieSecure         bool          `env:"COOKIE_SECURE"          envDefault:"false"`

	ConfirmationSecret       string        `env:"CONFIRMATION_SECRET"`
	ConfirmationTokenTTL     time.Duration `env:"CONFIRMATION_TOKEN_TTL"     envDefault:"24h"`
	EmailConfirmationEnabled bool          `env:"EMAIL_CONFIRMATION_ENABLED" envDefault:"true"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"GOOGLE_CALLBACK_URL"`

	SMTP SMTP `envPrefix:"SMTP_"`

	NotifierCron       string `env:"NOTIFIER_CRON"         envDefault:"@daily"`
	LoginRatePerMinute int    `env:"LOGIN_RATE_PER_MINUTE" envDefault:"10"`
	LoginRateBurst     int    `env:"LOGIN_RATE_BURST"      envDefault:"5"`
	MetricsEnabled     bool   `env:"METRICS_ENABLED"       envDefault:"true"`
	BcryptCost         int    `env:"BCRYPT_COST"           envDefault:"12"`

	// TrustProxyHeaders takes the client IP from X-Forwarded-For and friends.
	// Only turn it on behind a reverse proxy that overwrites those headers.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
}

// SMTP holds the outgoing mail settings. Host empty means "log emails instead".
type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT"     envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
	FromName string `env:"FROM_NAME" envDefault:"Identity"`
}

// Load parses the environment, fills derived defaults and validates.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills values that depend on other values.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.ConfirmationSecret == "" {
		c.ConfirmationSecret = c.SessionSecret
	}
	if c.GoogleCallbackURL == "" {
		c.GoogleCallbackURL = c.BaseURL + "/Account/ExternalLoginCallback"
	}
	if c.SMTP.From == "" && c.SMTP.Host != "" {
		c.SMTP.From = "no-reply@" + c.SMTP.Host
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("SESSION_SECRET must be set and at least 16 characters"))
	}
	if len(c.ConfirmationSecret) < 16 {
		errs = append(errs, errors.New("CONFIRMATION_SECRET must be at least 16 characters"))
	}
	if c.SessionTTL <= 0 || c.SessionPersistentTTL <= 0 || c.ConfirmationTokenTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL, SESSION_PERSISTENT_TTL and CONFIRMATION_TOKEN_TTL must be positive"))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"))
	}
	if _, err := cron.ParseStandard(c.NotifierCron); err != nil {
		errs = append(errs, fmt.Errorf("NOTIFIER_CRON %q is invalid: %w", c.NotifierCron, err))
	}
	if c.LoginRatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("LOGIN_RATE_PER_MINUTE must be positive, got %d", c.LoginRatePerMinute))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SMTPEnabled reports whether emails are really sent.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != ""
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is invalid (want debug, info, warn or error)", s)
	}
	return level, nil
}
