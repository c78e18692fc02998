package guest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	countKeyPrefix = "guest:count:"
	seenKeyPrefix  = "guest:seen:"
)

// hitScript applies one lookup atomically.
// KEYS[1] count key, KEYS[2] seen set. ARGV: url, limit, window ms.
// Returns {allowed, repeat, count, pttl}.
var hitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return {1, 1, count, redis.call('PTTL', KEYS[1])}
end
if count >= tonumber(ARGV[2]) then
  return {0, 0, count, redis.call('PTTL', KEYS[1])}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
redis.call('SADD', KEYS[2], ARGV[1])
if redis.call('PTTL', KEYS[2]) < 0 then
  redis.call('PEXPIRE', KEYS[2], ARGV[3])
end
return {1, 0, count, redis.call('PTTL', KEYS[1])}
`)

// RedisStore shares guest quotas across replicas. Windows are driven by
// key expiry on the server, so the now argument is ignored.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key, url string, limit int, window time.Duration, _ time.Time) (Result, error) {
	keys := []string{countKeyPrefix + key, seenKeyPrefix + key}
	vals, err := hitScript.Run(ctx, s.client, keys, url, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("guest hit %s: %w", key, err)
	}
	if len(vals) != 4 {
		return Result{}, fmt.Errorf("guest hit %s: unexpected reply length %d", key, len(vals))
	}
	return Result{
		Allowed:   vals[0] == 1,
		Repeat:    vals[1] == 1,
		Remaining: max(limit-int(vals[2]), 0),
		Limit:     limit,
		ResetIn:   pttl(vals[3]),
	}, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string, limit int, _ time.Time) (Result, error) {
	countKey := countKeyPrefix + key
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, countKey)
	ttl := pipe.PTTL(ctx, countKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Result{}, fmt.Errorf("guest peek %s: %w", key, err)
	}
	count, err := get.Int()
	if err != nil && err != redis.Nil {
		return Result{}, fmt.Errorf("guest peek %s: %w", key, err)
	}
	remaining := max(limit-count, 0)
	return Result{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Limit:     limit,
		ResetIn:   ttl.Val(),
	}, nil
}

func pttl(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
