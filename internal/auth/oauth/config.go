package oauth

import (
	"errors"
	"fmt"
	"strings"
)

// Default identity provider endpoints.
const (
	DefaultAuthorizeURL = "https://id.twitch.tv/oauth2/authorize"
	DefaultTokenURL     = "https://id.twitch.tv/oauth2/token"
)

// Config describes the identity provider application this process exchanges
// codes against. Client credentials are process-wide, not per-flow.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthorizeURL string
	TokenURL     string
	Scopes       []string
}

// Validate ensures the required fields are present and applies endpoint
// defaults. Missing credentials are a startup failure.
func (cfg *Config) Validate() error {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)
	cfg.AuthorizeURL = strings.TrimSpace(cfg.AuthorizeURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)

	if cfg.ClientID == "" {
		return errors.New("oauth client id is required")
	}
	if cfg.ClientSecret == "" {
		return errors.New("oauth client secret is required")
	}
	if cfg.RedirectURL == "" {
		return errors.New("oauth redirect url is required")
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	scopes := make([]string, 0, len(cfg.Scopes))
	for _, scope := range cfg.Scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed == "" {
			continue
		}
		scopes = append(scopes, trimmed)
	}
	cfg.Scopes = scopes
	return nil
}

// ParseScopes splits a whitespace- or comma-separated scope list.
func ParseScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	scopes := make([]string, 0, len(fields))
	for _, field := range fields {
		if field != "" {
			scopes = append(scopes, field)
		}
	}
	return scopes
}

func (cfg Config) String() string {
	return fmt.Sprintf("oauth config client_id=%s redirect=%s scopes=%s", cfg.ClientID, cfg.RedirectURL, strings.Join(cfg.Scopes, " "))
}
