package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter shares the fixed window across instances. The first INCR
// of a window sets its expiry; redis failures admit the send.
type RedisRateLimiter struct {
	client   *redis.Client
	capacity int
	prefix   string
	log      *slog.Logger
}

func NewRedisRateLimiter(client *redis.Client, capacity int, prefix string, log *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:   client,
		capacity: capacity,
		prefix:   prefix,
		log:      log.With("component", "ratelimit"),
	}
}

var admitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

func (rl *RedisRateLimiter) Admit(ctx context.Context, senderID string) Decision {
	key := rl.prefix + ":ratelimit:" + senderID
	res, err := admitScript.Run(ctx, rl.client, []string{key}, Window.Milliseconds()).Slice()
	if err != nil || len(res) != 2 {
		rl.log.Warn("rate limit check failed, admitting", "sender_id", senderID, "error", err)
		return Decision{Allowed: true}
	}
	count, _ := res[0].(int64)
	ttl, _ := res[1].(int64)

	if int(count) <= rl.capacity {
		return Decision{Allowed: true}
	}
	if ttl < 0 {
		ttl = Window.Milliseconds()
	}
	return Decision{Allowed: false, RetryAfterSeconds: retryAfter(time.Duration(ttl) * time.Millisecond)}
}

// Close is a no-op; the client is owned by the caller.
func (rl *RedisRateLimiter) Close() {}
