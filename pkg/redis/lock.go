package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
)

var (
	// ErrLockNotAcquired is returned when a lock cannot be acquired
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockNotHeld is returned when trying to release a lock not held
	ErrLockNotHeld = errors.New("lock not held")
)

const (
	DefaultLockPrefix = "sage:lock:record:"
	DefaultLockTTL    = time.Minute
	DefaultLockWait   = 10 * time.Second
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Lock is a held distributed lock
type Lock struct {
	client *Client
	key    string
	value  string
}

// Locker hands out per-record locks shared by every sage instance
type Locker struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
}

// NewLocker creates a Locker. The ttl must outlast a record's processing
// timeout; wait bounds how long Lock polls for a busy key.
func NewLocker(client *Client, keyPrefix string, ttl, wait time.Duration) *Locker {
	if keyPrefix == "" {
		keyPrefix = DefaultLockPrefix
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &Locker{client: client, keyPrefix: keyPrefix, ttl: ttl, wait: wait}
}

// Acquire takes the lock once with SET NX
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lockKey := l.keyPrefix + key
	lockValue := uuid.New().String()

	ok, err := l.client.rdb.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return &Lock{client: l.client, key: lockKey, value: lockValue}, nil
}

// TryAcquire polls for the lock with capped exponential backoff until timeout
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := 10 * time.Millisecond

	for {
		lock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 500*time.Millisecond {
				backoff = 500 * time.Millisecond
			}
		}
	}
}

// Lock implements the pipeline's record lock. A busy key or an unreachable
// Redis is reported as a transient error so the record is retried.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.TryAcquire(ctx, key, l.ttl, l.wait)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, mdmerror.Transient("record %s is locked by another worker", key)
		}
		return nil, mdmerror.Transient("failed to lock record %s: %v", key, err)
	}

	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.client.logger.WithContext(ctx).WithError(err).Warnf("Failed to release lock: %s", key)
		}
	}, nil
}

// Release deletes the lock if this holder still owns it
func (lock *Lock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}

	lock.client.logger.WithContext(ctx).Debugf("Released lock: %s", lock.key)
	return nil
}

// Extend resets the lock's TTL if this holder still owns it
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}
