// Package session owns the set of active remote streaming sessions. The
// registry guarantees at most one live session per (owner, camera) key,
// drives each session through its remote provisioning lifecycle and answers
// the discovery queries the viewer surface needs.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Key identifies a session by its owner and camera.
type Key struct {
	OwnerID  string
	CameraID string
}

// Validate ensures both key components are present.
func (k Key) Validate() error {
	if strings.TrimSpace(k.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if strings.TrimSpace(k.CameraID) == "" {
		return errors.New("camera id is required")
	}
	return nil
}

func (k Key) String() string {
	return k.OwnerID + "/" + k.CameraID
}

// State captures a session's position in the provisioning lifecycle. States
// only advance; deletion removes the session from the registry entirely.
type State string

const (
	StateUnprovisioned State = "unprovisioned"
	StateCreating      State = "creating"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateListening     State = "listening"
	StateStopped       State = "stopped"
	StateDeleted       State = "deleted"
)

// Credentials are the username/password pair the encoder uses to publish to
// the provider's ingest endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session represents one remote live-stream resource. All mutation happens
// through the registry; the per-session mutex serializes state transitions
// independently of the registry's structural lock.
type Session struct {
	mu sync.Mutex

	key         Key
	streamID    string
	displayName string
	state       State
	credentials Credentials

	embedCode     string
	playbackURL   string
	primaryServer string
	streamName    string

	camAngle  string
	camLabel  string
	createdAt time.Time
}

// Key returns the session's registry key.
func (s *Session) Key() Key {
	return s.key
}

// StreamID returns the remote identifier assigned at creation. It never
// changes for the lifetime of the session.
func (s *Session) StreamID() string {
	return s.streamID
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session's observable fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		OwnerID:       s.key.OwnerID,
		CameraID:      s.key.CameraID,
		StreamID:      s.streamID,
		DisplayName:   s.displayName,
		State:         s.state,
		Credentials:   s.credentials,
		EmbedCode:     s.embedCode,
		PlaybackURL:   s.playbackURL,
		PrimaryServer: s.primaryServer,
		StreamName:    s.streamName,
		CamAngle:      s.camAngle,
		CamLabel:      s.camLabel,
		CreatedAt:     s.createdAt,
	}
}

// Snapshot is the flattened, serializable view of a session used by the
// mirror and the HTTP surface.
type Snapshot struct {
	OwnerID       string      `json:"ownerId"`
	CameraID      string      `json:"cameraId"`
	StreamID      string      `json:"streamId"`
	DisplayName   string      `json:"displayName"`
	State         State       `json:"state"`
	Credentials   Credentials `json:"credentials"`
	EmbedCode     string      `json:"embedCode,omitempty"`
	PlaybackURL   string      `json:"playbackUrl,omitempty"`
	PrimaryServer string      `json:"primaryServer,omitempty"`
	StreamName    string      `json:"streamName,omitempty"`
	CamAngle      string      `json:"camAngle,omitempty"`
	CamLabel      string      `json:"camLabel,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// advanceLocked moves the session forward in the lifecycle. Callers must hold
// s.mu. Transitions never move backwards except the listening/stopped cycle.
func (s *Session) advanceLocked(to State) error {
	if !transitionAllowed(s.state, to) {
		return fmt.Errorf("invalid transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

func transitionAllowed(from, to State) bool {
	switch from {
	case StateUnprovisioned:
		return to == StateCreating
	case StateCreating:
		return to == StateInitializing
	case StateInitializing:
		return to == StateReady
	case StateReady, StateStopped:
		return to == StateListening || to == StateDeleted
	case StateListening:
		return to == StateStopped || to == StateDeleted
	default:
		return false
	}
}
