package config

import (
	"errors"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MULTICAM_WOWZA_TOKEN", "wowza-token")
	t.Setenv("MULTICAM_OAUTH_CLIENT_ID", "client-1")
	t.Setenv("MULTICAM_OAUTH_CLIENT_SECRET", "secret-1")
	t.Setenv("MULTICAM_OAUTH_REDIRECT_URL", "https://multicam.example.com/callback")
	t.Setenv("MULTICAM_VAULT_SECRET", "vault-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.SessionPollInterval != 2*time.Second || cfg.SessionPollAttempts != 10 {
		t.Fatalf("unexpected poll policy %v/%d", cfg.SessionPollInterval, cfg.SessionPollAttempts)
	}
	if len(cfg.OAuth.Scopes) != 4 {
		t.Fatalf("expected default scopes, got %v", cfg.OAuth.Scopes)
	}
	if cfg.TokenPurgeInterval != time.Hour {
		t.Fatalf("expected hourly token purge, got %v", cfg.TokenPurgeInterval)
	}
}

func TestLoadReportsAllMissingSettings(t *testing.T) {
	t.Setenv("MULTICAM_WOWZA_TOKEN", "")
	t.Setenv("MULTICAM_OAUTH_CLIENT_ID", "")
	t.Setenv("MULTICAM_OAUTH_CLIENT_SECRET", "")
	t.Setenv("MULTICAM_OAUTH_REDIRECT_URL", "")
	t.Setenv("MULTICAM_VAULT_SECRET", "")

	_, err := Load()
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(confErr.Missing) != 5 {
		t.Fatalf("expected 5 missing settings, got %v", confErr.Missing)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MULTICAM_SESSION_POLL_INTERVAL", "250ms")
	t.Setenv("MULTICAM_SESSION_POLL_ATTEMPTS", "4")
	t.Setenv("MULTICAM_OAUTH_SCOPES", "user:read:email chat:read")
	t.Setenv("MULTICAM_REDIS_DB", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.SessionPollInterval != 250*time.Millisecond || cfg.SessionPollAttempts != 4 {
		t.Fatalf("unexpected poll policy %v/%d", cfg.SessionPollInterval, cfg.SessionPollAttempts)
	}
	if len(cfg.OAuth.Scopes) != 2 || cfg.OAuth.Scopes[1] != "chat:read" {
		t.Fatalf("unexpected scopes %v", cfg.OAuth.Scopes)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.RedisDB)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MULTICAM_SESSION_POLL_INTERVAL", "soon")

	_, err := Load()
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}
