package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the owner may release.
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var ErrLockNotHeld = errors.New("lock not held")

// JobLock keeps periodic worker jobs to one instance at a time.
type JobLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func NewJobLock(client *redis.Client, job string, ttl time.Duration) *JobLock {
	return &JobLock{
		client: client,
		key:    "bookingpay:lock:" + job,
		owner:  uuid.NewString(),
		ttl:    ttl,
	}
}

func (l *JobLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *JobLock) Release(ctx context.Context) error {
	n, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Run calls fn only if the lock could be taken. It reports whether fn ran.
func (l *JobLock) Run(ctx context.Context, fn func(context.Context) error) (bool, error) {
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer l.Release(context.WithoutCancel(ctx))
	return true, fn(ctx)
}
