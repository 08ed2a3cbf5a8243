// Package api exposes the session orchestration core over HTTP as thin JSON
// handlers. Handlers translate requests into registry and exchange calls and
// map domain errors onto status codes; they hold no orchestration logic of
// their own.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"multicam-live/internal/auth"
	"multicam-live/internal/auth/oauth"
	"multicam-live/internal/observability/logging"
	"multicam-live/internal/observability/metrics"
	"multicam-live/internal/session"
	"multicam-live/internal/wowza"
)

type Handler struct {
	Sessions *session.Registry
	OAuth    *oauth.Exchange
	Tokens   *auth.TokenManager
	Logger   *slog.Logger
}

func NewHandler(sessions *session.Registry, exchange *oauth.Exchange, tokens *auth.TokenManager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Sessions: sessions, OAuth: exchange, Tokens: tokens, Logger: logger}
}

// Routes assembles the full route table wrapped in the request id and
// request logging middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Health)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/sessions", h.SessionsRoot)
	mux.HandleFunc("/api/sessions/listen", h.Listen)
	mux.HandleFunc("/api/sessions/stop", h.Stop)
	mux.HandleFunc("/api/streams/owners", h.Owners)
	mux.HandleFunc("/api/streams/live", h.LiveOwners)
	mux.HandleFunc("/api/oauth/login", h.OAuthLogin)
	mux.HandleFunc("/api/oauth/callback", h.OAuthCallback)
	mux.HandleFunc("/api/oauth/refresh", h.OAuthRefresh)

	chain := requestIDMiddleware(http.Handler(mux))
	chain = metrics.HTTPMiddleware(nil, chain)
	chain = logging.RequestLogger(h.Logger)(chain)
	return chain
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// writeSessionError maps registry and provider failures onto HTTP statuses.
func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	var notConfirmed *session.NotConfirmedError
	var transport *wowza.TransportError
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, session.ErrProvisioningTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	case errors.As(err, &notConfirmed):
		writeError(w, http.StatusBadGateway, err)
	case errors.As(err, &transport):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}
