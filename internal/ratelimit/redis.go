package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript mirrors the actor counter: start a window at 1, refuse without
// counting once the limit is reached, else increment.
var checkScript = redis.NewScript(`
local count = redis.call('GET', KEYS[1])
if not count then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
  return 0
end
if tonumber(count) >= tonumber(ARGV[1]) then
  return 1
end
redis.call('INCR', KEYS[1])
return 0
`)

// RedisLimiter shares counters between replicas through Redis. Window expiry
// is delegated to the key TTL.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter stores counters under "ratelimit:<key>".
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := checkScript.Run(ctx, l.client, []string{l.prefix + key}, limit, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check %q: %w", key, err)
	}
	return res == 1, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset %q: %w", key, err)
	}
	return nil
}
