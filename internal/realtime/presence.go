package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence es el registro explícito usuario -> conexiones vivas.
// IsOnline es O(1) y refleja un instante; no hay garantía de que siga vigente.
type Presence interface {
	Connect(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// LocalPresence cuenta conexiones dentro del proceso.
type LocalPresence struct {
	mu    sync.RWMutex
	conns map[string]int
}

func NewLocalPresence() *LocalPresence {
	return &LocalPresence{conns: make(map[string]int)}
}

func (p *LocalPresence) Connect(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID]++
	return nil
}

func (p *LocalPresence) Disconnect(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.conns[userID] - 1; n > 0 {
		p.conns[userID] = n
	} else {
		delete(p.conns, userID)
	}
	return nil
}

func (p *LocalPresence) Refresh(context.Context, string) error { return nil }

func (p *LocalPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[userID] > 0, nil
}

const redisPresenceConnectScript = `
local current = redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[1])
return current
`

const redisPresenceDisconnectScript = `
local current = redis.call("DECR", KEYS[1])
if current <= 0 then
  redis.call("DEL", KEYS[1])
  return 0
end
return current
`

type redisPresenceClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisPresence comparte el contador entre procesos. El TTL limpia contadores
// de instancias que murieron sin desconectar; el pong de cada socket lo renueva.
type RedisPresence struct {
	client redisPresenceClient
	ttl    time.Duration
	prefix string
}

func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisPresence{client: client, ttl: ttl, prefix: "presence:conn:"}
}

func (p *RedisPresence) key(userID string) string {
	return p.prefix + strings.TrimSpace(userID)
}

func (p *RedisPresence) Connect(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	seconds := int(p.ttl.Seconds())
	if seconds <= 0 {
		seconds = 90
	}
	return p.client.Eval(ctx, redisPresenceConnectScript, []string{p.key(userID)}, seconds).Err()
}

func (p *RedisPresence) Disconnect(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return p.client.Eval(ctx, redisPresenceDisconnectScript, []string{p.key(userID)}).Err()
}

func (p *RedisPresence) Refresh(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return p.client.Expire(ctx, p.key(userID), p.ttl).Err()
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	n, err := p.client.Get(ctx, p.key(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
