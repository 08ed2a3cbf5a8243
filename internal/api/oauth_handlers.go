package api

import (
	"errors"
	"net/http"
	"strings"

	"multicam-live/internal/auth/oauth"
	"multicam-live/internal/observability/logging"
	"multicam-live/internal/observability/metrics"
)

type tokenResponse struct {
	OwnerID      string   `json:"ownerId,omitempty"`
	AccessToken  string   `json:"accessToken"`
	ExpiresIn    int      `json:"expiresIn,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	RefreshSaved bool     `json:"refreshSaved"`
	ReturnTo     string   `json:"returnTo,omitempty"`
}

// OAuthLogin redirects the browser to the provider's authorize page. The
// owner id rides in the server-side state record so the callback can file
// the refresh token without trusting redirect parameters.
func (h *Handler) OAuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, errors.New("owner query parameter is required"))
		return
	}
	begin, err := h.OAuth.AuthorizeLink(owner, r.URL.Query().Get("return_to"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	http.Redirect(w, r, begin.URL, http.StatusFound)
}

// OAuthCallback completes the authorization code flow. On success the
// refresh token is sealed into the vault keyed by the owner recorded at
// login time; the access token is returned to the caller.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	grant, err := h.OAuth.HandleCallback(r.Context(), r.URL.Query())
	if err != nil {
		metrics.ObserveOAuth("exchange_failure")
		h.writeOAuthError(w, err)
		return
	}
	metrics.ObserveOAuth("exchange")

	resp := tokenResponse{
		OwnerID:     grant.OwnerID,
		AccessToken: grant.Token.AccessToken,
		ExpiresIn:   grant.Token.ExpiresIn,
		Scopes:      grant.Token.Scopes,
		ReturnTo:    grant.ReturnTo,
	}
	if grant.Token.RefreshToken != "" && h.Tokens != nil {
		ctx := logging.ContextWithOwnerID(r.Context(), grant.OwnerID)
		if err := h.Tokens.Save(ctx, grant.OwnerID, grant.Token.RefreshToken); err != nil {
			logging.WithContext(ctx, h.Logger).Error("failed to store refresh token", "error", err)
		} else {
			resp.RefreshSaved = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// OAuthRefresh mints a fresh access token from the vaulted refresh token.
// Providers may rotate the refresh token on use, so a returned one replaces
// the stored value.
func (h *Handler) OAuthRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req struct {
		OwnerID string `json:"ownerId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner := strings.TrimSpace(req.OwnerID)
	if owner == "" {
		writeError(w, http.StatusBadRequest, errors.New("ownerId is required"))
		return
	}
	if h.Tokens == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("token vault not configured"))
		return
	}

	ctx := logging.ContextWithOwnerID(r.Context(), owner)
	refresh, ok, err := h.Tokens.Load(ctx, owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no refresh token on file"))
		return
	}

	pair, err := h.OAuth.Refresh(ctx, refresh)
	if err != nil {
		metrics.ObserveOAuth("refresh_failure")
		h.writeOAuthError(w, err)
		return
	}
	metrics.ObserveOAuth("refresh")

	resp := tokenResponse{
		OwnerID:     owner,
		AccessToken: pair.AccessToken,
		ExpiresIn:   pair.ExpiresIn,
		Scopes:      pair.Scopes,
	}
	if pair.RefreshToken != "" && pair.RefreshToken != refresh {
		if err := h.Tokens.Save(ctx, owner, pair.RefreshToken); err != nil {
			logging.WithContext(ctx, h.Logger).Error("failed to rotate refresh token", "error", err)
		} else {
			resp.RefreshSaved = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	var denial *oauth.AuthorizationError
	var exchangeErr *oauth.TokenExchangeError
	switch {
	case errors.Is(err, oauth.ErrStateInvalid):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, oauth.ErrInvalidCallback):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &denial):
		writeError(w, http.StatusUnauthorized, err)
	case errors.As(err, &exchangeErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
