// Package oauth implements the authorization-code flow against the identity
// provider: authorize link construction, callback handling with state
// correlation, the code-for-token exchange and token refresh.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidCallback is returned when the provider redirect carries neither a
// code nor an error.
var ErrInvalidCallback = errors.New("oauth callback carries neither code nor error")

// ErrStateInvalid is returned when the echoed state value is missing, expired
// or was never issued. The source flow skipped this correlation check; it is
// enforced here.
var ErrStateInvalid = errors.New("oauth state invalid or expired")

// AuthorizationError carries the provider's structured denial from the
// callback. No token call is attempted when it occurs.
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authorization failed: %s", e.Code)
	}
	return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
}

// TokenExchangeError reports a failed token POST: non-200 status or a
// malformed body. The exchange never retries.
type TokenExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Body)
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// TokenPair is the credential pair minted by a successful exchange or
// refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Scopes       []string
	Raw          map[string]any
}

// Begin is returned when an authorize link is constructed.
type Begin struct {
	URL   string
	State string
}

// Grant is the outcome of a handled callback.
type Grant struct {
	Token    TokenPair
	OwnerID  string
	ReturnTo string
}

// Option customises the exchange.
type Option func(*Exchange)

// WithStateStore injects a custom state store.
func WithStateStore(store StateStore) Option {
	return func(e *Exchange) {
		if store != nil {
			e.state = store
		}
	}
}

// WithHTTPClient overrides the HTTP client used for token POSTs.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Exchange) {
		if client != nil {
			e.client = client
		}
	}
}

// WithStateTTL adjusts how long issued state values remain redeemable.
func WithStateTTL(ttl time.Duration) Option {
	return func(e *Exchange) {
		if ttl > 0 {
			e.stateTTL = ttl
		}
	}
}

// WithLogger overrides the exchange logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Exchange drives the authorization-code flow. It holds no per-flow state
// beyond the outstanding state values; each callback is handled
// independently.
type Exchange struct {
	cfg      Config
	state    StateStore
	client   *http.Client
	logger   *slog.Logger
	stateTTL time.Duration
}

// NewExchange validates the configuration and constructs an Exchange.
func NewExchange(cfg Config, opts ...Option) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	exchange := &Exchange{
		cfg:      cfg,
		state:    NewMemoryStateStore(),
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default(),
		stateTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(exchange)
		}
	}
	return exchange, nil
}

// AuthorizeLink composes the browser redirect URL with a fresh state value
// recorded for later correlation. The owner id travels in the server-side
// state record, never in the provider round trip. No network call is made.
func (e *Exchange) AuthorizeLink(ownerID, returnTo string) (Begin, error) {
	state, err := GenerateState()
	if err != nil {
		return Begin{}, err
	}
	if err := e.state.Put(state, StateData{OwnerID: ownerID, ReturnTo: returnTo}, e.stateTTL); err != nil {
		return Begin{}, err
	}
	parsed, err := url.Parse(e.cfg.AuthorizeURL)
	if err != nil {
		return Begin{}, fmt.Errorf("parse authorize url: %w", err)
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", e.cfg.ClientID)
	query.Set("redirect_uri", e.cfg.RedirectURL)
	if len(e.cfg.Scopes) > 0 {
		query.Set("scope", strings.Join(e.cfg.Scopes, " "))
	}
	query.Set("state", state)
	parsed.RawQuery = query.Encode()
	return Begin{URL: parsed.String(), State: state}, nil
}

// HandleCallback branches on the provider's redirect parameters. A code is
// exchanged for tokens after the state value is verified; an error parameter
// becomes a structured failure without a token call; anything else is an
// invalid callback.
func (e *Exchange) HandleCallback(ctx context.Context, params url.Values) (Grant, error) {
	code := strings.TrimSpace(params.Get("code"))
	providerError := strings.TrimSpace(params.Get("error"))

	switch {
	case code != "":
		data, err := e.redeemState(params.Get("state"))
		if err != nil {
			return Grant{}, err
		}
		token, err := e.exchangeCode(ctx, code)
		if err != nil {
			return Grant{OwnerID: data.OwnerID, ReturnTo: data.ReturnTo}, err
		}
		return Grant{Token: token, OwnerID: data.OwnerID, ReturnTo: data.ReturnTo}, nil
	case providerError != "":
		grant := Grant{}
		if data, ok := e.state.Take(strings.TrimSpace(params.Get("state"))); ok {
			grant.OwnerID = data.OwnerID
			grant.ReturnTo = data.ReturnTo
		}
		return grant, &AuthorizationError{
			Code:        providerError,
			Description: strings.TrimSpace(params.Get("error_description")),
		}
	default:
		return Grant{}, ErrInvalidCallback
	}
}

func (e *Exchange) redeemState(state string) (StateData, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return StateData{}, ErrStateInvalid
	}
	data, ok := e.state.Take(state)
	if !ok {
		return StateData{}, ErrStateInvalid
	}
	return data, nil
}

func (e *Exchange) exchangeCode(ctx context.Context, code string) (TokenPair, error) {
	payload := url.Values{}
	payload.Set("grant_type", "authorization_code")
	payload.Set("code", code)
	payload.Set("redirect_uri", e.cfg.RedirectURL)
	payload.Set("client_id", e.cfg.ClientID)
	payload.Set("client_secret", e.cfg.ClientSecret)
	return e.postToken(ctx, payload)
}

// Refresh exchanges a stored refresh token for a fresh pair. Single attempt,
// same POST shape as the code exchange.
func (e *Exchange) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, &TokenExchangeError{Err: errors.New("refresh token is required")}
	}
	payload := url.Values{}
	payload.Set("grant_type", "refresh_token")
	payload.Set("refresh_token", refreshToken)
	payload.Set("client_id", e.cfg.ClientID)
	payload.Set("client_secret", e.cfg.ClientSecret)
	return e.postToken(ctx, payload)
}

func (e *Exchange) postToken(ctx context.Context, payload url.Values) (TokenPair, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TokenURL, strings.NewReader(payload.Encode()))
	if err != nil {
		return TokenPair{}, &TokenExchangeError{Err: fmt.Errorf("create token request: %w", err)}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	response, err := e.client.Do(request)
	if err != nil {
		return TokenPair{}, &TokenExchangeError{Err: err}
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return TokenPair{}, &TokenExchangeError{Err: fmt.Errorf("read token response: %w", err)}
	}
	if response.StatusCode != http.StatusOK {
		return TokenPair{}, &TokenExchangeError{Status: response.StatusCode, Body: snippet(body)}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return TokenPair{}, &TokenExchangeError{Status: response.StatusCode, Body: snippet(body), Err: fmt.Errorf("decode token response: %w", err)}
	}
	token := TokenPair{Raw: raw}
	token.AccessToken, _ = raw["access_token"].(string)
	token.RefreshToken, _ = raw["refresh_token"].(string)
	if expires, ok := raw["expires_in"].(float64); ok {
		token.ExpiresIn = int(expires)
	}
	token.Scopes = scopesFromRaw(raw["scope"])
	if token.AccessToken == "" {
		return TokenPair{}, &TokenExchangeError{Status: response.StatusCode, Body: snippet(body), Err: errors.New("token response missing access_token")}
	}
	e.logger.Debug("token exchange completed", "grant_type", payload.Get("grant_type"))
	return token, nil
}

// scopesFromRaw tolerates both the string and array scope encodings providers
// use.
func scopesFromRaw(value any) []string {
	switch typed := value.(type) {
	case string:
		return strings.Fields(typed)
	case []any:
		scopes := make([]string, 0, len(typed))
		for _, item := range typed {
			if scope, ok := item.(string); ok && scope != "" {
				scopes = append(scopes, scope)
			}
		}
		return scopes
	default:
		return nil
	}
}

func snippet(body []byte) string {
	trimmed := string(bytes.TrimSpace(body))
	if len(trimmed) > 512 {
		trimmed = trimmed[:512]
	}
	return trimmed
}
