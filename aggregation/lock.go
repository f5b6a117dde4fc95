// aggregation/lock.go
package aggregation

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/partyround/backbone/logger"
)

// Locker serializes scheduler ticks across instances. Acquire returns a
// release function only when this caller won the tick; losers skip the tick
// entirely.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context), acquired bool, err error)
}

const schedulerLockKey = "lock:aggregationScheduler"

// releaseLockScript deletes the lock only if this holder still owns it, so
// a holder that outlived its TTL cannot release a successor's lock.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// holdLockScript shortens the lock's remaining TTL without deleting it,
// again only for the current owner.
var holdLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease lock with a floor and a ceiling on the hold time.
// The ceiling (maxHold) is the lease TTL and bounds how long a crashed
// holder blocks the others; the floor (minHold) keeps a fast tick from
// releasing so quickly that clock-skewed peers re-run the same tick.
type RedisLocker struct {
	client  *redis.Client
	minHold time.Duration
	maxHold time.Duration
}

func NewRedisLocker(client *redis.Client, minHold, maxHold time.Duration) *RedisLocker {
	return &RedisLocker{client: client, minHold: minHold, maxHold: maxHold}
}

func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context), bool, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, schedulerLockKey, token, l.maxHold).Result()
	if err != nil || !acquired {
		return nil, false, err
	}

	lockedAt := time.Now()
	release := func(ctx context.Context) {
		held := time.Since(lockedAt)
		if held >= l.minHold {
			if err := releaseLockScript.Run(ctx, l.client, []string{schedulerLockKey}, token).Err(); err != nil {
				logger.Log.Warnf("[Scheduler] lock release failed: %v", err)
			}
			return
		}
		// Keep the lock alive for the rest of the floor instead of
		// releasing early.
		remaining := l.minHold - held
		if err := holdLockScript.Run(ctx, l.client, []string{schedulerLockKey}, token, remaining.Milliseconds()).Err(); err != nil {
			logger.Log.Warnf("[Scheduler] lock hold adjust failed: %v", err)
		}
	}
	return release, true, nil
}

// NoopLocker always grants the lock. It backs single-process deployments
// where the in-memory store is the backend and no peer exists.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}
