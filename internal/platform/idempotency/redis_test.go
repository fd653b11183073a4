package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	store, err := NewRedisStore(client)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	store.prefix = fmt.Sprintf("test:%d:", time.Now().UnixNano())
	return store
}

func TestRedisStoreLifecycle(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	res, err := store.Reserve(ctx, "k1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("first reserve: state=%v err=%v", res.State, err)
	}
	res, err = store.Reserve(ctx, "k1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("second reserve: state=%v err=%v", res.State, err)
	}
	if _, err := store.Reserve(ctx, "k1", "other", now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"id":"ord_1"}`)}
	if err := store.SaveResponse(ctx, "k1", "other", resp, now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected save by other fingerprint to fail, got %v", err)
	}
	if err := store.SaveResponse(ctx, "k1", "fp", resp, now, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err = store.Reserve(ctx, "k1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got state=%v err=%v", res.State, err)
	}
	if string(res.Record.ResponseBody) != `{"id":"ord_1"}` || res.Record.ResponseStatus != http.StatusCreated {
		t.Fatalf("unexpected stored record %#v", res.Record)
	}

	if err := store.Release(ctx, "k1", "fp"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	res, err = store.Reserve(ctx, "k1", "fp", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected key free after release, got state=%v err=%v", res.State, err)
	}
	_ = store.Release(ctx, "k1", "fp")
}
