package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript opens, advances or rejects a window atomically. A rejected
// request leaves the counter untouched.
var takeScript = redis.NewScript(`
local c = redis.call('GET', KEYS[1])
if not c then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
  return {1, 0}
end
if tonumber(c) < tonumber(ARGV[1]) then
  redis.call('INCR', KEYS[1])
  return {1, 0}
end
return {0, redis.call('PTTL', KEYS[1])}
`)

// RedisStore shares windows between processes. The key's TTL is the window.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "hotline:rl"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, win time.Duration, _ time.Time) (Decision, error) {
	ms := win.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + ":" + key}, limit, ms).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis window: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis window: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	retry := time.Duration(res[1]) * time.Millisecond
	if retry < 0 {
		retry = win
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}
