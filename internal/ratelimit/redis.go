package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// randomSuffix keeps sorted-set members unique when two requests land
// on the same microsecond.
func randomSuffix() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// slidingWindowScript performs prune-count-append atomically on a
// sorted set whose scores are microsecond timestamps. Returns
// {count, oldestScore, allowed}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if limit <= 0 or count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, math.ceil(window / 1000))
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
	oldestScore = tonumber(oldest[2])
end
return {count, tostring(oldestScore), allowed}
`)

// RedisStore is a CounterStore shared across instances. Atomicity of
// the prune-count-append sequence comes from the Lua script executing
// as one unit on the server.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisStore) Add(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Result, error) {
	nowMicro := now.UnixMicro()
	member := fmt.Sprintf("%d-%s", nowMicro, randomSuffix())

	raw, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		nowMicro, window.Microseconds(), limit, member).Result()
	if err != nil {
		return Result{}, fmt.Errorf("sliding window script: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{}, fmt.Errorf("unexpected script result %v", raw)
	}

	count, _ := values[0].(int64)
	allowed, _ := values[2].(int64)
	res := Result{Count: int(count), Allowed: allowed == 1}
	if scoreStr, ok := values[1].(string); ok {
		var score int64
		if _, err := fmt.Sscanf(scoreStr, "%d", &score); err == nil && score > 0 {
			res.Oldest = time.UnixMicro(score)
		}
	}
	return res, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
