// README: Session store tests (Redis case skipped unless RIDEHAIL_TEST_REDIS is set).
package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "session-test:missing"); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "session-test:k", "v1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "session-test:k", "v2", time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, ok, err := s.Get(ctx, "session-test:k"); !ok || err != nil || v != "v2" {
		t.Fatalf("get = %q %v %v", v, ok, err)
	}
	if err := s.Delete(ctx, "session-test:k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "session-test:k"); ok {
		t.Fatal("key still present after delete")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "short", "x", time.Minute)
	_ = s.Set(ctx, "forever", "y", 0)

	now = now.Add(59 * time.Second)
	if _, ok, _ := s.Get(ctx, "short"); !ok {
		t.Fatal("expired too early")
	}
	now = now.Add(time.Second)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Fatal("expected key to expire at its deadline")
	}
	now = now.Add(24 * time.Hour)
	if v, ok, _ := s.Get(ctx, "forever"); !ok || v != "y" {
		t.Fatal("key without ttl expired")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("RIDEHAIL_TEST_REDIS")
	if addr == "" {
		t.Skip("RIDEHAIL_TEST_REDIS not set; skipping Redis session test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	exerciseStore(t, NewRedisStore(client))
}
