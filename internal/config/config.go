// Package config loads process configuration from the environment. Required
// credentials are validated at startup; a ConfigurationError is fatal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"multicam-live/internal/auth/oauth"
)

// ConfigurationError reports required settings that are absent or malformed.
// Nothing recovers from it; the process exits.
type ConfigurationError struct {
	Missing []string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing configuration: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// Config holds every setting the server consumes.
type Config struct {
	Addr            string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Streaming provider
	WowzaBaseURL string
	WowzaToken   string

	// Session registry poll policy
	SessionPollInterval time.Duration
	SessionPollAttempts int

	// Identity provider
	OAuth oauth.Config

	// Refresh-token vault
	VaultSecret        string
	TokenDSN           string
	TokenPurgeInterval time.Duration

	// Optional session mirror
	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Load reads an optional .env file, then the environment, and validates the
// result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:                envOr("MULTICAM_ADDR", ":8080"),
		LogLevel:            envOr("MULTICAM_LOG_LEVEL", "info"),
		LogFormat:           envOr("MULTICAM_LOG_FORMAT", "json"),
		ShutdownTimeout:     10 * time.Second,
		WowzaBaseURL:        strings.TrimSpace(os.Getenv("MULTICAM_WOWZA_API")),
		WowzaToken:          strings.TrimSpace(os.Getenv("MULTICAM_WOWZA_TOKEN")),
		SessionPollInterval: 2 * time.Second,
		SessionPollAttempts: 10,
		OAuth: oauth.Config{
			ClientID:     strings.TrimSpace(os.Getenv("MULTICAM_OAUTH_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("MULTICAM_OAUTH_CLIENT_SECRET")),
			RedirectURL:  strings.TrimSpace(os.Getenv("MULTICAM_OAUTH_REDIRECT_URL")),
			AuthorizeURL: strings.TrimSpace(os.Getenv("MULTICAM_OAUTH_AUTHORIZE_URL")),
			TokenURL:     strings.TrimSpace(os.Getenv("MULTICAM_OAUTH_TOKEN_URL")),
		},
		VaultSecret:        strings.TrimSpace(os.Getenv("MULTICAM_VAULT_SECRET")),
		TokenDSN:           strings.TrimSpace(os.Getenv("MULTICAM_TOKEN_DB_DSN")),
		TokenPurgeInterval: time.Hour,
		RedisAddr:          strings.TrimSpace(os.Getenv("MULTICAM_REDIS_ADDR")),
		RedisUsername:      strings.TrimSpace(os.Getenv("MULTICAM_REDIS_USERNAME")),
		RedisPassword:      os.Getenv("MULTICAM_REDIS_PASSWORD"),
	}

	if scopes := strings.TrimSpace(os.Getenv("MULTICAM_OAUTH_SCOPES")); scopes != "" {
		cfg.OAuth.Scopes = oauth.ParseScopes(scopes)
	} else {
		cfg.OAuth.Scopes = []string{
			"user:read:email",
			"user:read:broadcast",
			"moderator:read:followers",
			"user:read:follows",
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MULTICAM_REDIS_DB")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigurationError{Reason: fmt.Sprintf("parse MULTICAM_REDIS_DB: %v", err)}
		}
		cfg.RedisDB = parsed
	}

	if raw := strings.TrimSpace(os.Getenv("MULTICAM_SESSION_POLL_INTERVAL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, &ConfigurationError{Reason: fmt.Sprintf("parse MULTICAM_SESSION_POLL_INTERVAL: %v", err)}
		}
		if parsed > 0 {
			cfg.SessionPollInterval = parsed
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MULTICAM_SESSION_POLL_ATTEMPTS")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigurationError{Reason: fmt.Sprintf("parse MULTICAM_SESSION_POLL_ATTEMPTS: %v", err)}
		}
		if parsed > 0 {
			cfg.SessionPollAttempts = parsed
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MULTICAM_TOKEN_PURGE_INTERVAL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, &ConfigurationError{Reason: fmt.Sprintf("parse MULTICAM_TOKEN_PURGE_INTERVAL: %v", err)}
		}
		if parsed > 0 {
			cfg.TokenPurgeInterval = parsed
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MULTICAM_SHUTDOWN_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, &ConfigurationError{Reason: fmt.Sprintf("parse MULTICAM_SHUTDOWN_TIMEOUT: %v", err)}
		}
		if parsed > 0 {
			cfg.ShutdownTimeout = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures every required credential is present.
func (c *Config) Validate() error {
	var missing []string
	if c.WowzaToken == "" {
		missing = append(missing, "MULTICAM_WOWZA_TOKEN")
	}
	if c.OAuth.ClientID == "" {
		missing = append(missing, "MULTICAM_OAUTH_CLIENT_ID")
	}
	if c.OAuth.ClientSecret == "" {
		missing = append(missing, "MULTICAM_OAUTH_CLIENT_SECRET")
	}
	if c.OAuth.RedirectURL == "" {
		missing = append(missing, "MULTICAM_OAUTH_REDIRECT_URL")
	}
	if c.VaultSecret == "" {
		missing = append(missing, "MULTICAM_VAULT_SECRET")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}
