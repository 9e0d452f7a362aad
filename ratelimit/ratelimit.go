package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window admission gate. Allow reports whether the
// request identified by key may proceed in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// fixedWindowScript checks, increments and sets the window expiry in one
// atomic step. Rejected requests never touch the counter, and the counter
// can never exist without a TTL.
const fixedWindowSrc = `
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[2]) then
	return 0
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return 1
`

var fixedWindowScript = redis.NewScript(fixedWindowSrc)

// RedisLimiter counts requests in Redis so the budget holds across
// concurrently running server instances.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: max, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := fixedWindowScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key},
		l.window.Milliseconds(), l.max,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps buckets in process memory. It does not survive
// restarts or span multiple instances; it is the fallback when Redis is not
// configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		l.buckets[key] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true, nil
	}
	if b.count >= l.max {
		// Over budget; the counter stays put until the window elapses.
		return false, nil
	}
	b.count++
	return true, nil
}
