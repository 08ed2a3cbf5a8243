package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Mirror receives best-effort copies of session metadata for display and
// diagnostics. The registry remains the liveness authority; mirror failures
// are logged by the caller and never change an operation's outcome.
type Mirror interface {
	Put(ctx context.Context, snapshot Snapshot) error
	Delete(ctx context.Context, key Key) error
}

// NopMirror discards all writes. Used when no mirror backend is configured.
type NopMirror struct{}

func (NopMirror) Put(context.Context, Snapshot) error { return nil }
func (NopMirror) Delete(context.Context, Key) error   { return nil }

// RedisMirrorConfig configures the Redis-backed session mirror.
type RedisMirrorConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// RedisMirror stores one JSON document per session plus a set index of
// occupied keys, so operators can inspect abandoned provisions after the
// registry has given up on them.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(ctx context.Context, cfg RedisMirrorConfig) (*RedisMirror, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "multicam"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisMirror{client: client, prefix: prefix}, nil
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}

func (m *RedisMirror) sessionKey(key Key) string {
	return fmt.Sprintf("%s:session:%s:%s", m.prefix, key.OwnerID, key.CameraID)
}

func (m *RedisMirror) indexKey() string {
	return m.prefix + ":sessions"
}

// Put stores the snapshot document and records the key in the index set.
func (m *RedisMirror) Put(ctx context.Context, snapshot Snapshot) error {
	key := Key{OwnerID: snapshot.OwnerID, CameraID: snapshot.CameraID}
	document, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.sessionKey(key), document, 0)
	pipe.SAdd(ctx, m.indexKey(), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write session mirror: %w", err)
	}
	return nil
}

// Delete removes the snapshot document and its index entry.
func (m *RedisMirror) Delete(ctx context.Context, key Key) error {
	pipe := m.client.TxPipeline()
	pipe.Del(ctx, m.sessionKey(key))
	pipe.SRem(ctx, m.indexKey(), key.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session mirror: %w", err)
	}
	return nil
}

// Get fetches a mirrored snapshot, reporting absence without error.
func (m *RedisMirror) Get(ctx context.Context, key Key) (Snapshot, bool, error) {
	document, err := m.client.Get(ctx, m.sessionKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read session mirror: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(document, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode session mirror: %w", err)
	}
	return snapshot, true, nil
}

// Keys lists the mirrored session keys, including rows left behind by
// abandoned provisions.
func (m *RedisMirror) Keys(ctx context.Context) ([]string, error) {
	members, err := m.client.SMembers(ctx, m.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list session mirror keys: %w", err)
	}
	return members, nil
}
