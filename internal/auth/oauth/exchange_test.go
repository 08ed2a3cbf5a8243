package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func testConfig(tokenURL string) Config {
	return Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://multicam.example.com/callback",
		AuthorizeURL: "https://id.example.com/oauth2/authorize",
		TokenURL:     tokenURL,
		Scopes:       []string{"user:read:email", "user:read:broadcast"},
	}
}

func TestConfigValidateRequiresCredentials(t *testing.T) {
	cfg := Config{ClientSecret: "s", RedirectURL: "r"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing client id to fail validation")
	}
	cfg = Config{ClientID: "c", RedirectURL: "r"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing client secret to fail validation")
	}
	cfg = Config{ClientID: "c", ClientSecret: "s"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing redirect url to fail validation")
	}
}

func TestConfigValidateAppliesEndpointDefaults(t *testing.T) {
	cfg := Config{ClientID: "c", ClientSecret: "s", RedirectURL: "r"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if cfg.AuthorizeURL != DefaultAuthorizeURL || cfg.TokenURL != DefaultTokenURL {
		t.Fatalf("expected endpoint defaults, got %s / %s", cfg.AuthorizeURL, cfg.TokenURL)
	}
}

func TestAuthorizeLinkComposition(t *testing.T) {
	exchange, err := NewExchange(testConfig("https://id.example.com/oauth2/token"))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}

	begin, err := exchange.AuthorizeLink("alice", "/streamer")
	if err != nil {
		t.Fatalf("AuthorizeLink returned error: %v", err)
	}
	if begin.State == "" {
		t.Fatal("expected a fresh state value")
	}

	parsed, err := url.Parse(begin.URL)
	if err != nil {
		t.Fatalf("parse authorize link: %v", err)
	}
	query := parsed.Query()
	if query.Get("response_type") != "code" {
		t.Fatalf("expected response_type code, got %q", query.Get("response_type"))
	}
	if query.Get("client_id") != "client-1" {
		t.Fatalf("unexpected client_id %q", query.Get("client_id"))
	}
	if query.Get("scope") != "user:read:email user:read:broadcast" {
		t.Fatalf("expected space-joined scopes, got %q", query.Get("scope"))
	}
	if query.Get("state") != begin.State {
		t.Fatalf("state mismatch: %q vs %q", query.Get("state"), begin.State)
	}

	// Every link carries a fresh state.
	again, err := exchange.AuthorizeLink("alice", "")
	if err != nil {
		t.Fatalf("second AuthorizeLink returned error: %v", err)
	}
	if again.State == begin.State {
		t.Fatal("expected fresh state per authorize link")
	}
}

func TestHandleCallbackExchangesCode(t *testing.T) {
	tokenCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse token form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "authorization_code" {
			t.Fatalf("expected authorization_code grant, got %q", got)
		}
		if got := r.Form.Get("code"); got != "abc" {
			t.Fatalf("expected code abc, got %q", got)
		}
		if got := r.Form.Get("client_secret"); got != "secret-1" {
			t.Fatalf("expected client secret forwarded, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "T",
			"refresh_token": "R",
			"expires_in":    14124,
			"scope":         []string{"user:read:email"},
		})
	}))
	defer server.Close()

	exchange, err := NewExchange(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}
	begin, err := exchange.AuthorizeLink("alice", "/streamer")
	if err != nil {
		t.Fatalf("AuthorizeLink returned error: %v", err)
	}

	grant, err := exchange.HandleCallback(context.Background(), url.Values{
		"code":  {"abc"},
		"state": {begin.State},
	})
	if err != nil {
		t.Fatalf("HandleCallback returned error: %v", err)
	}
	if grant.Token.AccessToken != "T" || grant.Token.RefreshToken != "R" {
		t.Fatalf("unexpected token pair %+v", grant.Token)
	}
	if grant.Token.ExpiresIn != 14124 {
		t.Fatalf("expected expires_in 14124, got %d", grant.Token.ExpiresIn)
	}
	if grant.ReturnTo != "/streamer" {
		t.Fatalf("expected return target /streamer, got %q", grant.ReturnTo)
	}
	if grant.OwnerID != "alice" {
		t.Fatalf("expected owner alice, got %q", grant.OwnerID)
	}
	if tokenCalls != 1 {
		t.Fatalf("expected one token POST, got %d", tokenCalls)
	}
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	tokenCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exchange, err := NewExchange(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}

	_, err = exchange.HandleCallback(context.Background(), url.Values{
		"code":  {"abc"},
		"state": {"never-issued"},
	})
	if !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected ErrStateInvalid, got %v", err)
	}
	if tokenCalls != 0 {
		t.Fatalf("expected no token POST for bad state, got %d", tokenCalls)
	}
}

func TestStateIsSingleUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "T"})
	}))
	defer server.Close()

	exchange, err := NewExchange(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}
	begin, err := exchange.AuthorizeLink("alice", "")
	if err != nil {
		t.Fatalf("AuthorizeLink returned error: %v", err)
	}

	params := url.Values{"code": {"abc"}, "state": {begin.State}}
	if _, err := exchange.HandleCallback(context.Background(), params); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}
	if _, err := exchange.HandleCallback(context.Background(), params); !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected replayed state to fail, got %v", err)
	}
}

func TestStateExpires(t *testing.T) {
	exchange, err := NewExchange(testConfig("https://id.example.com/token"), WithStateTTL(time.Millisecond))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}
	begin, err := exchange.AuthorizeLink("alice", "")
	if err != nil {
		t.Fatalf("AuthorizeLink returned error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err = exchange.HandleCallback(context.Background(), url.Values{"code": {"abc"}, "state": {begin.State}})
	if !errors.Is(err, ErrStateInvalid) {
		t.Fatalf("expected expired state to fail, got %v", err)
	}
}

func TestHandleCallbackProviderDenial(t *testing.T) {
	tokenCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
	}))
	defer server.Close()

	exchange, err := NewExchange(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}

	_, err = exchange.HandleCallback(context.Background(), url.Values{
		"error":             {"access_denied"},
		"error_description": {"user cancelled"},
	})
	var denial *AuthorizationError
	if !errors.As(err, &denial) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if denial.Code != "access_denied" || denial.Description != "user cancelled" {
		t.Fatalf("unexpected denial %+v", denial)
	}
	if tokenCalls != 0 {
		t.Fatalf("expected no token POST on denial, got %d", tokenCalls)
	}
}

func TestHandleCallbackEmptyParams(t *testing.T) {
	exchange, err := NewExchange(testConfig("https://id.example.com/token"))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}
	if _, err := exchange.HandleCallback(context.Background(), url.Values{}); !errors.Is(err, ErrInvalidCallback) {
		t.Fatalf("expected ErrInvalidCallback, got %v", err)
	}
}

func TestTokenExchangeErrorOnNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":400,"message":"Invalid authorization code"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	exchange, err := NewExchange(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}
	begin, _ := exchange.AuthorizeLink("alice", "")

	_, err = exchange.HandleCallback(context.Background(), url.Values{"code": {"bad"}, "state": {begin.State}})
	var exchangeErr *TokenExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("expected TokenExchangeError, got %v", err)
	}
	if exchangeErr.Status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", exchangeErr.Status)
	}
}

func TestTokenExchangeErrorOnMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	exchange, err := NewExchange(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}
	begin, _ := exchange.AuthorizeLink("alice", "")

	_, err = exchange.HandleCallback(context.Background(), url.Values{"code": {"abc"}, "state": {begin.State}})
	var exchangeErr *TokenExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("expected TokenExchangeError, got %v", err)
	}
}

func TestRefreshGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse refresh form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Fatalf("expected refresh_token grant, got %q", got)
		}
		if got := r.Form.Get("refresh_token"); got != "R-old" {
			t.Fatalf("expected stored refresh token, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "T-new",
			"refresh_token": "R-new",
			"scope":         "user:read:email",
		})
	}))
	defer server.Close()

	exchange, err := NewExchange(testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}

	pair, err := exchange.Refresh(context.Background(), "R-old")
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if pair.AccessToken != "T-new" || pair.RefreshToken != "R-new" {
		t.Fatalf("unexpected refreshed pair %+v", pair)
	}
	if len(pair.Scopes) != 1 || pair.Scopes[0] != "user:read:email" {
		t.Fatalf("unexpected scopes %v", pair.Scopes)
	}
}

func TestRefreshRequiresToken(t *testing.T) {
	exchange, err := NewExchange(testConfig("https://id.example.com/token"))
	if err != nil {
		t.Fatalf("NewExchange returned error: %v", err)
	}
	var exchangeErr *TokenExchangeError
	if _, err := exchange.Refresh(context.Background(), "  "); !errors.As(err, &exchangeErr) {
		t.Fatalf("expected TokenExchangeError, got %v", err)
	}
}
