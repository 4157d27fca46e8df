package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/donegogov/tradingbot-coinbase-allcoins-abovecertianliquidity/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only while the caller's token still holds
// it, so a lock lost to expiry is never resurrected under another holder.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager provides a distributed lock via Redis SETNX with a TTL, a
// keepalive that refreshes the TTL while the lock is held, and a Lua-based
// conditional unlock. The engine acquires one lock per state directory so
// two instances never write the same persisted state.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns an unlock function that must be called
// to release the lock. The unlock function is safe to call multiple times.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop)

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true
		close(stop)

		// Use a background context so unlock succeeds even if the caller's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}

// keepAlive refreshes the lock's TTL until unlock closes stop, so a holder
// that outlives the TTL keeps the single-instance guarantee.
func (lm *LockManager) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(refreshInterval(ttl))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = lm.refreshSc.Run(ctx, lm.rdb, []string{key}, token, ttl.Milliseconds()).Err()
			cancel()
		}
	}
}

// refreshInterval spaces keepalives at a third of the TTL so two consecutive
// refresh failures still leave the lock alive.
func refreshInterval(ttl time.Duration) time.Duration {
	iv := ttl / 3
	if iv < time.Second {
		iv = time.Second
	}
	return iv
}
