package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker guards against concurrent cycles for the same model. TryLock
// returns false without blocking when another cycle holds the model.
type Locker interface {
	TryLock(ctx context.Context, modelID string) (release func(), acquired bool, err error)
}

// ProcessLocker serializes cycles per model within one process.
type ProcessLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewProcessLocker creates an in-process locker.
func NewProcessLocker() *ProcessLocker {
	return &ProcessLocker{held: make(map[string]bool)}
}

func (l *ProcessLocker) TryLock(ctx context.Context, modelID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[modelID] {
		return nil, false, nil
	}
	l.held[modelID] = true
	release := func() {
		l.mu.Lock()
		delete(l.held, modelID)
		l.mu.Unlock()
	}
	return release, true, nil
}

// RedisLocker extends exclusion across processes with a SETNX lease.
// It is best-effort: a Redis outage falls back to in-process exclusion
// only, matching the engine's cross-process dedup guarantee.
type RedisLocker struct {
	inner  *ProcessLocker
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker wraps the process locker with a Redis lease.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		inner:  NewProcessLocker(),
		client: client,
		ttl:    ttl,
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, modelID string) (func(), bool, error) {
	release, acquired, err := l.inner.TryLock(ctx, modelID)
	if err != nil || !acquired {
		return nil, acquired, err
	}

	key := fmt.Sprintf("drift:cycle-lock:%s", modelID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		// Redis unavailable; keep the in-process lock and proceed.
		return release, true, nil
	}
	if !ok {
		release()
		return nil, false, nil
	}

	return func() {
		l.client.Del(context.Background(), key)
		release()
	}, true, nil
}
