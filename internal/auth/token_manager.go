package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOwnerID is returned when a vault operation is attempted without
// an owner identifier.
var ErrInvalidOwnerID = errors.New("owner id is required")

// TokenOption configures a TokenManager instance.
type TokenOption func(*TokenManager)

// WithTokenStore injects a custom TokenStore implementation.
func WithTokenStore(store TokenStore) TokenOption {
	return func(m *TokenManager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithTokenTTL bounds how long a stored refresh token remains loadable.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// TokenManager coordinates sealing and persistence of refresh tokens. It
// defaults to a 30-day TTL and an in-memory store for local development.
type TokenManager struct {
	store  TokenStore
	cipher *tokenCipher
	ttl    time.Duration
}

// NewTokenManager derives the sealing key from the vault secret and applies
// options. A missing secret is a startup failure.
func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	cipher, err := newTokenCipher(secret)
	if err != nil {
		return nil, err
	}
	manager := &TokenManager{
		cipher: cipher,
		ttl:    30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemoryTokenStore()
	}
	return manager, nil
}

// Save seals and stores the owner's refresh token, replacing any previous
// one.
func (m *TokenManager) Save(ctx context.Context, ownerID, refreshToken string) error {
	if ownerID == "" {
		return ErrInvalidOwnerID
	}
	if refreshToken == "" {
		return errors.New("refresh token is required")
	}
	sealed, err := m.cipher.Seal(refreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	now := time.Now().UTC()
	return m.store.Save(ctx, TokenRecord{
		OwnerID:   ownerID,
		Sealed:    sealed,
		ExpiresAt: now.Add(m.ttl),
		UpdatedAt: now,
	})
}

// Load opens the owner's stored refresh token. Absent or expired records
// report not-found without error.
func (m *TokenManager) Load(ctx context.Context, ownerID string) (string, bool, error) {
	if ownerID == "" {
		return "", false, ErrInvalidOwnerID
	}
	record, ok, err := m.store.Get(ctx, ownerID)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	if !record.ExpiresAt.IsZero() && time.Now().After(record.ExpiresAt) {
		_ = m.store.Delete(ctx, ownerID)
		return "", false, nil
	}
	token, err := m.cipher.Open(record.Sealed)
	if err != nil {
		return "", false, fmt.Errorf("open refresh token: %w", err)
	}
	return token, true, nil
}

// Revoke removes the owner's token from the vault.
func (m *TokenManager) Revoke(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return nil
	}
	return m.store.Delete(ctx, ownerID)
}

// PurgeExpired removes expired tokens from the backing store.
func (m *TokenManager) PurgeExpired(ctx context.Context) error {
	return m.store.PurgeExpired(ctx, time.Now())
}

// Ping verifies the backing store is reachable when it exposes a ping
// method.
func (m *TokenManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
