// Package auth persists the refresh tokens minted by the authorization
// exchange so a caller identity can be resumed without a fresh consent
// round trip. Tokens are sealed before they reach the backing store.
package auth

import (
	"context"
	"sync"
	"time"
)

// TokenRecord is one owner's sealed refresh credential.
type TokenRecord struct {
	OwnerID   string
	Sealed    []byte
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// TokenStore defines the persistence contract for sealed refresh tokens.
type TokenStore interface {
	Save(ctx context.Context, record TokenRecord) error
	Get(ctx context.Context, ownerID string) (TokenRecord, bool, error)
	Delete(ctx context.Context, ownerID string) error
	PurgeExpired(ctx context.Context, now time.Time) error
}

// MemoryTokenStore keeps sealed tokens in memory. Safe for concurrent use;
// intended for development and single-instance deployments.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	records map[string]TokenRecord
}

// NewMemoryTokenStore constructs the in-memory store implementation.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{records: make(map[string]TokenRecord)}
}

// Save records the sealed token for the owner.
func (s *MemoryTokenStore) Save(ctx context.Context, record TokenRecord) error {
	s.mu.Lock()
	s.records[record.OwnerID] = record
	s.mu.Unlock()
	return nil
}

// Get retrieves the sealed token for the owner.
func (s *MemoryTokenStore) Get(ctx context.Context, ownerID string) (TokenRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.records[ownerID]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete removes the owner's token from the store.
func (s *MemoryTokenStore) Delete(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	delete(s.records, ownerID)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes any expired tokens from the store.
func (s *MemoryTokenStore) PurgeExpired(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	for ownerID, record := range s.records {
		if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
			delete(s.records, ownerID)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory store.
func (s *MemoryTokenStore) Ping(context.Context) error {
	return nil
}
