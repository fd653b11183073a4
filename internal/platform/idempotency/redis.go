package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

// saveIfOwner overwrites the record only while the stored fingerprint matches ARGV[1].
var saveIfOwner = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if raw then
  local current = cjson.decode(raw)
  if current["fingerprint"] ~= ARGV[1] then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

var releaseIfOwner = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local current = cjson.decode(raw)
if current["fingerprint"] == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares idempotency records across instances. Expiry is delegated to Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a store on client.
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client, prefix: defaultRedisPrefix}, nil
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	record := pendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	redisKey := s.redisKey(key)
	created, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load record: %w", err)
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return existingReservation(existing, fingerprint)
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), effectiveTTL(ttl)
	record := completedRecord(Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}, resp, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	saved, err := saveIfOwner.Run(ctx, s.client, []string{s.redisKey(key)}, fingerprint, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	if saved == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	if err := releaseIfOwner.Run(ctx, s.client, []string{s.redisKey(key)}, fingerprint).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + storageKey(key)
}
