package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestMirror(t *testing.T) *RedisMirror {
	t.Helper()
	server := miniredis.RunT(t)
	mirror, err := NewRedisMirror(context.Background(), RedisMirrorConfig{Addr: server.Addr()})
	if err != nil {
		t.Fatalf("NewRedisMirror returned error: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close() })
	return mirror
}

func TestRedisMirrorRoundTrip(t *testing.T) {
	mirror := newTestMirror(t)
	ctx := context.Background()
	key := Key{OwnerID: "alice", CameraID: "cam-1"}

	snapshot := Snapshot{
		OwnerID:     "alice",
		CameraID:    "cam-1",
		StreamID:    "ls-1",
		State:       StateReady,
		Credentials: Credentials{Username: "u", Password: "p"},
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := mirror.Put(ctx, snapshot); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, ok, err := mirror.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get returned %v ok=%v", err, ok)
	}
	if got.StreamID != "ls-1" || got.State != StateReady {
		t.Fatalf("unexpected snapshot %+v", got)
	}

	keys, err := mirror.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "alice/cam-1" {
		t.Fatalf("unexpected index %v (%v)", keys, err)
	}

	if err := mirror.Delete(ctx, key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok, _ := mirror.Get(ctx, key); ok {
		t.Fatal("expected snapshot removed")
	}
	if keys, _ := mirror.Keys(ctx); len(keys) != 0 {
		t.Fatalf("expected empty index, got %v", keys)
	}
}

func TestMirrorKeepsRowAfterProvisioningTimeout(t *testing.T) {
	mirror := newTestMirror(t)
	provider := newFakeProvider()
	provider.readyAfter = 0 // never ready
	registry, err := NewRegistry(Config{
		Provider:     provider,
		Mirror:       mirror,
		PollInterval: time.Millisecond,
		PollAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	ctx := context.Background()
	key := Key{OwnerID: "alice", CameraID: "cam-1"}
	if _, err := registry.GetOrCreate(ctx, key, "", ""); err == nil {
		t.Fatal("expected provisioning timeout")
	}

	// The registry never exposes the session, but the mirror row stays
	// behind for diagnostics.
	if sessions := registry.ListByOwner("alice"); len(sessions) != 0 {
		t.Fatal("expected no registry entry")
	}
	got, ok, err := mirror.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected mirror row to survive, got ok=%v err=%v", ok, err)
	}
	if got.State != StateInitializing {
		t.Fatalf("expected initializing mirror row, got %s", got.State)
	}
}

func TestMirrorFollowsLifecycle(t *testing.T) {
	mirror := newTestMirror(t)
	provider := newFakeProvider()
	registry, err := NewRegistry(Config{Provider: provider, Mirror: mirror, PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	ctx := context.Background()
	key := Key{OwnerID: "alice", CameraID: "cam-1"}
	if _, err := registry.GetOrCreate(ctx, key, "", ""); err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if got, _, _ := mirror.Get(ctx, key); got.State != StateReady {
		t.Fatalf("expected ready mirror row, got %s", got.State)
	}

	if _, err := registry.StartListening(ctx, key); err != nil {
		t.Fatalf("StartListening returned error: %v", err)
	}
	if got, _, _ := mirror.Get(ctx, key); got.State != StateListening {
		t.Fatalf("expected listening mirror row, got %s", got.State)
	}

	if _, err := registry.Delete(ctx, key); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok, _ := mirror.Get(ctx, key); ok {
		t.Fatal("expected mirror row removed after delete")
	}
}
