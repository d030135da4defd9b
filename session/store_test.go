package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, "ncs"), mr
}

func testSession(id, userID string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		UserID:     userID,
		RememberMe: true,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", "user-1", time.Hour)
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "s1" || got.UserID != "user-1" || !got.RememberMe {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CreatedAt != sess.CreatedAt || got.ExpiresAt != sess.ExpiresAt {
		t.Fatalf("timestamps did not round-trip: %+v", got)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetExpiredRow(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", "user-1", time.Hour)
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Embedded deadline wins over the redis TTL.
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stale row, got %v", err)
	}

	n, err := store.ActiveSessionCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("stale row must be purged, got %d", n)
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("s1", "user-1", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	existed, err := store.Delete(ctx, "user-1", "s1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !existed {
		t.Fatal("expected first delete to report an existing row")
	}

	existed, err = store.Delete(ctx, "user-1", "s1")
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if existed {
		t.Fatal("second delete must be a no-op")
	}
}

func TestStoreDeleteAllForUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, testSession(id, "user-1", time.Hour), time.Hour); err != nil {
			t.Fatalf("Save %s failed: %v", id, err)
		}
	}
	if err := store.Save(ctx, testSession("other", "user-2", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save other failed: %v", err)
	}

	if err := store.DeleteAllForUser(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteAllForUser failed: %v", err)
	}

	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %s must be gone, got %v", id, err)
		}
	}
	// Unrelated accounts are untouched.
	if _, err := store.Get(ctx, "other"); err != nil {
		t.Fatalf("user-2 session must survive: %v", err)
	}
}

func TestStoreActiveSessionCount(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("s1", "user-1", time.Hour), time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, testSession("s2", "user-1", time.Minute), time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, err := store.ActiveSessionCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 live sessions, got %d", n)
	}

	// Let the short row's redis TTL fire; the index entry goes stale but the
	// count only reports rows that still exist.
	mr.FastForward(2 * time.Minute)

	n, err = store.ActiveSessionCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveSessionCount failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 live session after expiry, got %d", n)
	}
}

func TestEncodeDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("s1", nil); err == nil {
		t.Fatal("empty payload must fail")
	}
	if _, err := Decode("s1", []byte{0xFF, 0x01}); err == nil {
		t.Fatal("unknown version must fail")
	}
}
