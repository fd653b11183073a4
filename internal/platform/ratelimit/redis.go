package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ratelimit:"

// incrWindow bumps the counter and starts the window on the first hit, atomically.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Redis is a fixed-window limiter shared by every instance pointing at the same server.
type Redis struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

// RedisOption customises the Redis limiter.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces limiter keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis allows limit attempts per key in each window.
func NewRedis(client redis.Scripter, limit int, window time.Duration, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	r := &Redis{
		client: client,
		prefix: defaultRedisPrefix,
		limit:  limit,
		window: window,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	n, err := incrWindow.Run(ctx, r.client, []string{r.prefix + normalizeKey(key)}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return n <= int64(r.limit), nil
}
