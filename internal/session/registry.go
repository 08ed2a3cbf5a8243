package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"multicam-live/internal/observability/metrics"
	"multicam-live/internal/wowza"
)

// ErrNotFound is returned when an operation references a key absent from the
// registry.
var ErrNotFound = errors.New("session not found")

// ErrProvisioningTimeout is returned when the provider keeps reporting "still
// provisioning" past the poll cap.
var ErrProvisioningTimeout = errors.New("session provisioning timed out")

// NotConfirmedError reports a start or stop call the provider answered
// without the expected state sentinel. The session is left unchanged.
type NotConfirmedError struct {
	Op       string
	Reported string
}

func (e *NotConfirmedError) Error() string {
	return fmt.Sprintf("%s not confirmed by provider: state %q", e.Op, e.Reported)
}

// Provider is the slice of the transport client the registry drives. The
// registry owns retry policy; implementations issue a single round trip per
// call.
type Provider interface {
	Create(ctx context.Context, name string) (wowza.Record, error)
	Initialize(ctx context.Context, streamID string) (wowza.Record, error)
	Start(ctx context.Context, streamID string) (wowza.Record, error)
	Stop(ctx context.Context, streamID string) (wowza.Record, error)
}

const (
	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 10
)

// Config assembles the registry's collaborators.
type Config struct {
	Provider     Provider
	Mirror       Mirror
	Logger       *slog.Logger
	PollInterval time.Duration
	PollAttempts int
}

// Registry is the single source of truth for active remote streaming
// sessions. Structural map access is guarded by one mutex; provisioning and
// state transitions never hold it.
type Registry struct {
	provider     Provider
	mirror       Mirror
	logger       *slog.Logger
	pollInterval time.Duration
	pollAttempts int

	mu       sync.Mutex
	sessions map[Key]*Session
	order    []Key

	provisioning singleflight.Group
}

// NewRegistry constructs a Registry. The provider is required; the mirror
// defaults to a no-op and the poll policy to 10 attempts 2 seconds apart.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session provider is required")
	}
	mirror := cfg.Mirror
	if mirror == nil {
		mirror = NopMirror{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	return &Registry{
		provider:     cfg.Provider,
		mirror:       mirror,
		logger:       logger,
		pollInterval: interval,
		pollAttempts: attempts,
		sessions:     make(map[Key]*Session),
	}, nil
}

// GetOrCreate returns the session registered for the key, provisioning a new
// remote stream when none exists. A second call with a different angle or
// label returns the existing session unchanged. Concurrent calls for the
// same key share one provisioning sequence.
func (r *Registry) GetOrCreate(ctx context.Context, key Key, camAngle, camLabel string) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if existing := r.lookup(key); existing != nil {
		return existing, nil
	}
	value, err, _ := r.provisioning.Do(key.String(), func() (any, error) {
		if existing := r.lookup(key); existing != nil {
			return existing, nil
		}
		return r.provision(ctx, key, camAngle, camLabel)
	})
	if err != nil {
		return nil, err
	}
	return value.(*Session), nil
}

func (r *Registry) lookup(key Key) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

func (r *Registry) provision(ctx context.Context, key Key, camAngle, camLabel string) (*Session, error) {
	name := camLabel
	if name == "" {
		name = "My streaming"
	}
	record, err := r.provider.Create(ctx, name)
	if err != nil {
		metrics.ObserveProvision("failed")
		return nil, fmt.Errorf("create live stream: %w", err)
	}

	sess := &Session{
		key:           key,
		streamID:      record.ID,
		displayName:   record.Name,
		state:         StateCreating,
		credentials:   Credentials{Username: record.Username, Password: record.Password},
		primaryServer: record.PrimaryServer,
		streamName:    record.StreamName,
		camAngle:      camAngle,
		camLabel:      camLabel,
		createdAt:     time.Now().UTC(),
	}
	// The mirror row is written before polling so an abandoned provision
	// stays observable for diagnostics even though the registry never saw it.
	r.mirrorPut(ctx, sess)

	sess.mu.Lock()
	_ = sess.advanceLocked(StateInitializing)
	sess.mu.Unlock()
	r.mirrorPut(ctx, sess)

	ready, err := r.pollUntilReady(ctx, record.ID)
	if err != nil {
		if errors.Is(err, ErrProvisioningTimeout) {
			metrics.ObserveProvision("timeout")
		} else {
			metrics.ObserveProvision("failed")
		}
		return nil, err
	}

	sess.mu.Lock()
	sess.embedCode = ready.EmbedCode
	sess.playbackURL = ready.PlaybackURL
	if sess.primaryServer == "" {
		sess.primaryServer = ready.PrimaryServer
	}
	if sess.streamName == "" {
		sess.streamName = ready.StreamName
	}
	_ = sess.advanceLocked(StateReady)
	sess.mu.Unlock()

	r.mu.Lock()
	r.sessions[key] = sess
	r.order = append(r.order, key)
	r.mu.Unlock()

	r.mirrorPut(ctx, sess)
	metrics.ObserveProvision("ready")
	r.logger.Info("session provisioned", "key", key.String(), "stream_id", sess.streamID)
	return sess, nil
}

// pollUntilReady issues up to pollAttempts initialize calls with a fixed
// delay between them, honoring context cancellation while waiting.
func (r *Registry) pollUntilReady(ctx context.Context, streamID string) (wowza.Record, error) {
	for attempt := 1; attempt <= r.pollAttempts; attempt++ {
		record, err := r.provider.Initialize(ctx, streamID)
		if err != nil {
			return wowza.Record{}, fmt.Errorf("initialize live stream: %w", err)
		}
		if record.Ready() {
			return record, nil
		}
		if attempt == r.pollAttempts {
			break
		}
		r.logger.Debug("stream still provisioning", "stream_id", streamID, "attempt", attempt)
		select {
		case <-ctx.Done():
			return wowza.Record{}, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
	return wowza.Record{}, ErrProvisioningTimeout
}

// StartListening asks the provider to begin broadcasting. Only the provider's
// started sentinel flips the session to listening.
func (r *Registry) StartListening(ctx context.Context, key Key) (State, error) {
	sess := r.lookup(key)
	if sess == nil {
		return "", ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	record, err := r.provider.Start(ctx, sess.streamID)
	if err != nil {
		return sess.state, fmt.Errorf("start live stream: %w", err)
	}
	if !record.Started() {
		return sess.state, &NotConfirmedError{Op: "start", Reported: record.State}
	}
	if err := sess.advanceLocked(StateListening); err != nil {
		return sess.state, err
	}
	r.mirrorPutLocked(ctx, sess)
	metrics.SessionListening()
	return sess.state, nil
}

// StopListening is symmetric to StartListening; only the stopped sentinel
// flips the session to stopped.
func (r *Registry) StopListening(ctx context.Context, key Key) (State, error) {
	sess := r.lookup(key)
	if sess == nil {
		return "", ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	record, err := r.provider.Stop(ctx, sess.streamID)
	if err != nil {
		return sess.state, fmt.Errorf("stop live stream: %w", err)
	}
	if !record.Stopped() {
		return sess.state, &NotConfirmedError{Op: "stop", Reported: record.State}
	}
	if err := sess.advanceLocked(StateStopped); err != nil {
		return sess.state, err
	}
	r.mirrorPutLocked(ctx, sess)
	metrics.SessionStopped()
	return sess.state, nil
}

// DeletionResult reports the outcome of a Delete call.
type DeletionResult struct {
	Deleted        bool   `json:"deleted"`
	AlreadyDeleted bool   `json:"alreadyDeleted"`
	StreamID       string `json:"streamId,omitempty"`
}

// Delete removes the session from the registry. Removal is the authoritative
// outcome; the remote stop is best-effort and its failure only gets logged.
// Deleting an absent key reports already-deleted rather than failing.
func (r *Registry) Delete(ctx context.Context, key Key) (DeletionResult, error) {
	r.mu.Lock()
	sess, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
		for i, k := range r.order {
			if k == key {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return DeletionResult{AlreadyDeleted: true}, nil
	}

	sess.mu.Lock()
	if _, err := r.provider.Stop(ctx, sess.streamID); err != nil {
		r.logger.Warn("best-effort stop before delete failed", "key", key.String(), "stream_id", sess.streamID, "error", err)
	}
	if sess.state == StateListening {
		metrics.SessionStopped()
	}
	sess.state = StateDeleted
	streamID := sess.streamID
	sess.mu.Unlock()

	if err := r.mirror.Delete(ctx, key); err != nil {
		r.logger.Warn("mirror delete failed", "key", key.String(), "error", err)
	}
	metrics.SessionDeleted()
	r.logger.Info("session deleted", "key", key.String(), "stream_id", streamID)
	return DeletionResult{Deleted: true, StreamID: streamID}, nil
}

// ListByOwner returns the owner's sessions in registry insertion order.
func (r *Registry) ListByOwner(ownerID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*Session
	for _, key := range r.order {
		if key.OwnerID != ownerID {
			continue
		}
		if sess, ok := r.sessions[key]; ok {
			result = append(result, sess)
		}
	}
	return result
}

// UniqueOwners returns the sorted set of owners with at least one session.
func (r *Registry) UniqueOwners() []string {
	r.mu.Lock()
	owners := make(map[string]struct{}, len(r.sessions))
	for key := range r.sessions {
		owners[key.OwnerID] = struct{}{}
	}
	r.mu.Unlock()
	return sortedKeys(owners)
}

// OwnersWithLiveSessions returns the sorted set of owners with at least one
// session currently listening.
func (r *Registry) OwnersWithLiveSessions() []string {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	owners := make(map[string]struct{})
	for _, sess := range sessions {
		if sess.State() == StateListening {
			owners[sess.Key().OwnerID] = struct{}{}
		}
	}
	return sortedKeys(owners)
}

func sortedKeys(set map[string]struct{}) []string {
	result := make([]string, 0, len(set))
	for owner := range set {
		result = append(result, owner)
	}
	sort.Strings(result)
	return result
}

func (r *Registry) mirrorPut(ctx context.Context, sess *Session) {
	if err := r.mirror.Put(ctx, sess.Snapshot()); err != nil {
		r.logger.Warn("mirror write failed", "key", sess.Key().String(), "error", err)
	}
}

// mirrorPutLocked mirrors a session whose mutex the caller already holds.
func (r *Registry) mirrorPutLocked(ctx context.Context, sess *Session) {
	snapshot := Snapshot{
		OwnerID:       sess.key.OwnerID,
		CameraID:      sess.key.CameraID,
		StreamID:      sess.streamID,
		DisplayName:   sess.displayName,
		State:         sess.state,
		Credentials:   sess.credentials,
		EmbedCode:     sess.embedCode,
		PlaybackURL:   sess.playbackURL,
		PrimaryServer: sess.primaryServer,
		StreamName:    sess.streamName,
		CamAngle:      sess.camAngle,
		CamLabel:      sess.camLabel,
		CreatedAt:     sess.createdAt,
	}
	if err := r.mirror.Put(ctx, snapshot); err != nil {
		r.logger.Warn("mirror write failed", "key", sess.key.String(), "error", err)
	}
}
