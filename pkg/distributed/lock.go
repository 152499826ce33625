package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only when this holder still owns it.
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// DistributedLock provides distributed locking using Redis. Each lock value
// is unique per holder so a lock can only be released by its owner.
type DistributedLock struct {
	client    *redis.Client
	key       string
	value     string
	ttl       time.Duration
	stopRenew chan struct{}
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client:    client,
		key:       key,
		value:     generateLockValue(),
		ttl:       ttl,
		stopRenew: make(chan struct{}),
	}
}

func generateLockValue() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Lock acquires the lock, blocking up to 30 seconds.
func (l *DistributedLock) Lock(ctx context.Context) error {
	return l.LockWithTimeout(ctx, 30*time.Second)
}

// LockWithTimeout acquires the lock, retrying until timeout elapses.
func (l *DistributedLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if acquired {
			go l.renewLock(ctx)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("lock acquisition timeout")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// TryLock attempts to acquire the lock without blocking.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to try lock: %w", err)
	}
	if acquired {
		go l.renewLock(ctx)
	}
	return acquired, nil
}

// Unlock releases the lock if this holder still owns it.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	close(l.stopRenew)

	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if result.(int64) == 0 {
		return fmt.Errorf("lock was not held by this instance")
	}
	return nil
}

// renewLock extends the TTL at half-interval while the lock is held.
func (l *DistributedLock) renewLock(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			currentValue, err := l.client.Get(ctx, l.key).Result()
			if err != nil {
				return
			}
			if currentValue != l.value {
				return
			}
			l.client.Expire(ctx, l.key, l.ttl)

		case <-l.stopRenew:
			return
		case <-ctx.Done():
			return
		}
	}
}

// IsLocked checks if the lock is currently held by anyone.
func (l *DistributedLock) IsLocked(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// LockManager creates locks under a shared key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
}

// NewLockManager creates a new lock manager
func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

// AcquireLock creates a lock handle for the given key.
func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(lm.client, lm.prefix+key, ttl)
}
