package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ypeikes18/kalshi-screener/internal/hashutil"
)

// Lua delete-if-token-matches so one holder cannot release another's lock.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// PollLock guards against overlapping poll cycles across processes.
// Implementations are nil-safe: a nil lock always acquires.
type PollLock interface {
	// TryAcquire returns a release func, or false if another poll holds the lock.
	TryAcquire(ctx context.Context) (func(), bool, error)
	Close() error
}

type redisPollLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	unlock *redis.Script
}

// NewRedisPollLock builds a SETNX+TTL lock. The TTL caps how long a crashed
// poll can block the next one.
func NewRedisPollLock(addr, password string, db int, key string, ttl time.Duration) (PollLock, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if key == "" {
		key = "screener:poll_lock"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisPollLock{
		client: client,
		key:    key,
		ttl:    ttl,
		unlock: redis.NewScript(unlockScript),
	}, nil
}

func (l *redisPollLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	if l == nil || l.client == nil {
		return func() {}, true, nil
	}
	token := hashutil.OwnerToken()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire poll lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Unlock with a fresh context so release works even after cancellation.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlock.Run(releaseCtx, l.client, []string{l.key}, token).Err()
	}
	return release, true, nil
}

func (l *redisPollLock) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
