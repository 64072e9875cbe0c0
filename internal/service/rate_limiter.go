package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PostRateLimiter acota cuántos mensajes puede enviar un usuario por ventana.
type PostRateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

const redisPostAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// redisPostRateLimiter comparte la ventana entre instancias del api.
type redisPostRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

func NewRedisPostRateLimiter(client *redis.Client, window time.Duration, max int) PostRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	if max <= 0 {
		max = 1
	}
	return &redisPostRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "msg:rl:",
	}
}

// Allow falla abierto: un Redis caído no bloquea el chat.
func (l *redisPostRateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 10
	}
	count, err := l.client.Eval(ctx, redisPostAllowScript, []string{l.prefix + normalizedKey}, seconds).Int()
	if err != nil {
		return true
	}
	return count <= l.max
}

type memoryPostRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewMemoryPostRateLimiter crea un rate limiter en memoria, por proceso.
func NewMemoryPostRateLimiter(window time.Duration, max int) PostRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &memoryPostRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *memoryPostRateLimiter) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	l.hits[key] = append(kept, now)
	return true
}
