package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"multicam-live/internal/observability/logging"
	"multicam-live/internal/session"
)

type sessionRequest struct {
	OwnerID  string `json:"ownerId"`
	CameraID string `json:"cameraId"`
	CamAngle string `json:"camAngle,omitempty"`
	CamLabel string `json:"camLabel,omitempty"`
}

func (req *sessionRequest) key() session.Key {
	return session.Key{
		OwnerID:  strings.TrimSpace(req.OwnerID),
		CameraID: strings.TrimSpace(req.CameraID),
	}
}

// SessionsRoot dispatches /api/sessions by method: POST provisions, GET
// lists an owner's sessions, DELETE tears one down.
func (h *Handler) SessionsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.initializeSession(w, r)
	case http.MethodGet:
		h.listSessions(w, r)
	case http.MethodDelete:
		h.deleteSession(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// initializeSession provisions (or returns) the session for an owner/camera
// pair. A request without a camera id registers a new camera and mints its
// identifier server-side.
func (h *Handler) initializeSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := req.key()
	minted := false
	if key.CameraID == "" {
		key.CameraID = uuid.NewString()
		minted = true
	}

	ctx := logging.ContextWithOwnerID(r.Context(), key.OwnerID)
	sess, err := h.Sessions.GetOrCreate(ctx, key, strings.TrimSpace(req.CamAngle), strings.TrimSpace(req.CamLabel))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	status := http.StatusOK
	if minted {
		status = http.StatusCreated
	}
	writeJSON(w, status, sess.Snapshot())
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, errors.New("owner query parameter is required"))
		return
	}
	sessions := h.Sessions.ListByOwner(owner)
	snapshots := make([]session.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snapshots = append(snapshots, sess.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ownerId":  owner,
		"sessions": snapshots,
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.Sessions.Delete(logging.ContextWithOwnerID(r.Context(), req.OwnerID), req.key())
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":        result.Deleted,
		"alreadyDeleted": result.AlreadyDeleted,
		"streamId":       result.StreamID,
	})
}

// Listen transitions a ready or stopped session into active listening.
func (h *Handler) Listen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Sessions.StartListening)
}

// Stop halts an actively listening session without tearing it down.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Sessions.StopListening)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, key session.Key) (session.State, error)) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key := req.key()
	state, err := apply(logging.ContextWithOwnerID(r.Context(), key.OwnerID), key)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ownerId":  key.OwnerID,
		"cameraId": key.CameraID,
		"state":    state,
	})
}

// Owners reports every owner with at least one registered session.
func (h *Handler) Owners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owners": h.Sessions.UniqueOwners()})
}

// LiveOwners reports owners with at least one session currently listening,
// the discovery feed viewers poll.
func (h *Handler) LiveOwners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owners": h.Sessions.OwnersWithLiveSessions()})
}
