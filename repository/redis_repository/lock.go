package redis_repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const refreshLockKey = "snooze:refresh:lock"

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRefreshLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRefreshLock(client *redis.Client, ttl time.Duration) *redisRefreshLock {
	return &redisRefreshLock{client: client, ttl: ttl}
}

// TryAcquire takes the lock if it is free. The returned release func is a no-op
// when acquired is false.
func (l *redisRefreshLock) TryAcquire(ctx context.Context) (release func(), acquired bool, err error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, refreshLockKey, owner, l.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		// the caller's ctx may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{refreshLockKey}, owner).Err()
	}, true, nil
}
