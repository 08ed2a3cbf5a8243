package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTokenStore persists sealed refresh tokens to a Postgres table,
// allowing multiple API replicas to share the vault.
type PostgresTokenStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTokenStore opens a Postgres-backed token store using the
// provided DSN.
func NewPostgresTokenStore(ctx context.Context, dsn string) (*PostgresTokenStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres token dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres token config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres token pool: %w", err)
	}
	return &PostgresTokenStore{pool: pool}, nil
}

// Migrate creates the vault table when it does not exist yet.
func (s *PostgresTokenStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
    owner_id   TEXT PRIMARY KEY,
    sealed     BYTEA NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)
`)
	return err
}

// Close releases the Postgres connection pool resources.
func (s *PostgresTokenStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Save stores or replaces the owner's sealed token.
func (s *PostgresTokenStore) Save(ctx context.Context, record TokenRecord) error {
	if s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO oauth_refresh_tokens (owner_id, sealed, expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id) DO UPDATE
SET sealed = EXCLUDED.sealed, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
`, record.OwnerID, record.Sealed, record.ExpiresAt.UTC(), record.UpdatedAt.UTC())
	return err
}

// Get fetches the owner's sealed token.
func (s *PostgresTokenStore) Get(ctx context.Context, ownerID string) (TokenRecord, bool, error) {
	if s.pool == nil {
		return TokenRecord{}, false, fmt.Errorf("postgres token pool not configured")
	}
	row := s.pool.QueryRow(ctx, `
SELECT sealed, expires_at, updated_at
FROM oauth_refresh_tokens
WHERE owner_id = $1
`, ownerID)
	record := TokenRecord{OwnerID: ownerID}
	if err := row.Scan(&record.Sealed, &record.ExpiresAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenRecord{}, false, nil
		}
		return TokenRecord{}, false, err
	}
	return record, true, nil
}

// Delete removes the owner's token.
func (s *PostgresTokenStore) Delete(ctx context.Context, ownerID string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM oauth_refresh_tokens WHERE owner_id = $1`, ownerID)
	return err
}

// PurgeExpired deletes expired tokens from the table.
func (s *PostgresTokenStore) PurgeExpired(ctx context.Context, now time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM oauth_refresh_tokens WHERE expires_at <= $1`, now.UTC())
	return err
}

// Ping verifies the pool can reach the database.
func (s *PostgresTokenStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres token pool not configured")
	}
	return s.pool.Ping(ctx)
}
