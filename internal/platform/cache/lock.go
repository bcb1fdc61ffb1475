package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("platform/cache: lock held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Locker hands out short-lived exclusive keys backed by SET NX PX.
type Locker struct {
	client redis.UniversalClient
}

// NewLocker wraps a redis client. A nil client yields a locker that always succeeds.
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// Lock is a held key; Release is safe to call more than once.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes key for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	if l == nil || l.client == nil {
		return &Lock{key: key, token: token}, nil
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{locker: l, key: key, token: token}, nil
}

// Release drops the key if it is still owned by this lock.
func (k *Lock) Release(ctx context.Context) error {
	if k == nil || k.locker == nil || k.locker.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, k.locker.client, []string{k.key}, k.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("platform/cache: release %s: %w", k.key, err)
	}
	return nil
}

// Extend resets the key's ttl if it is still owned by this lock.
func (k *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if k == nil || k.locker == nil || k.locker.client == nil {
		return nil
	}
	n, err := extendScript.Run(ctx, k.locker.client, []string{k.key}, k.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("platform/cache: extend %s: %w", k.key, err)
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}
