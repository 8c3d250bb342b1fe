package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/ccbench"
)

// LockKey pairs a key name with the lock token a holder must present on
// unlock, and whether this process won that lock.
type LockKey struct {
	Key         string
	LockID      ccbench.UUID
	IsLockOwner bool
}

// Locker serializes access to AbKeys across threads and processes, the
// pessimistic concurrency primitive the TPL protocol's distributed mode
// uses on top of Redis.
type Locker struct {
	client *redis.Client
}

// NewLocker wraps client for use as a distributed lock backend.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// FormatLockKey prefixes k so it occupies a distinct namespace from
// ordinary cache entries stored on the same Redis database.
func (l *Locker) FormatLockKey(k string) string {
	return fmt.Sprintf("L%s", k)
}

// CreateLockKeys builds a LockKey, one per name, each with a fresh lock ID.
func (l *Locker) CreateLockKeys(keys ...string) []*LockKey {
	lockKeys := make([]*LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &LockKey{
			Key:    l.FormatLockKey(keys[i]),
			LockID: ccbench.NewUUID(),
		}
	}
	return lockKeys
}

func (l *Locker) keyNotFound(err error) bool {
	return err == redis.Nil
}

// Lock attempts to acquire every key in lockKeys, each expiring after
// duration if never explicitly unlocked. It returns false (with no error)
// if any key is already held by someone else; acquisition is not
// transactional across keys, so callers racing on overlapping key sets
// should sort keys to a stable order to avoid deadlock.
func (l *Locker) Lock(ctx context.Context, duration time.Duration, lockKeys ...*LockKey) (bool, error) {
	for _, lk := range lockKeys {
		ok, err := l.client.SetNX(ctx, lk.Key, lk.LockID.String(), duration).Result()
		if err != nil {
			return false, err
		}
		if ok {
			lk.IsLockOwner = true
			continue
		}
		// Key already present; it is only "our" lock if we're retrying with
		// the same LockID (e.g. a renewed held lock).
		held, err := l.client.Get(ctx, lk.Key).Result()
		if err != nil {
			if l.keyNotFound(err) {
				// Raced with the key's own expiry; try once more.
				ok, err := l.client.SetNX(ctx, lk.Key, lk.LockID.String(), duration).Result()
				if err != nil {
					return false, err
				}
				if ok {
					lk.IsLockOwner = true
					continue
				}
				return false, nil
			}
			return false, err
		}
		if held != lk.LockID.String() {
			return false, nil
		}
		lk.IsLockOwner = true
	}
	return true, nil
}

// IsLocked reports whether every key in lockKeys is currently held by its
// recorded LockID (i.e. still held by this locker's earlier Lock call).
func (l *Locker) IsLocked(ctx context.Context, lockKeys ...*LockKey) (bool, error) {
	for _, lk := range lockKeys {
		held, err := l.client.Get(ctx, lk.Key).Result()
		if err != nil {
			if l.keyNotFound(err) {
				return false, nil
			}
			return false, err
		}
		if held != lk.LockID.String() {
			return false, nil
		}
	}
	return true, nil
}

// IsLockedByOthers reports whether every named key is currently held by
// anyone, regardless of LockID. Used to detect contention before
// attempting a Lock.
func (l *Locker) IsLockedByOthers(ctx context.Context, lockKeyNames ...string) (bool, error) {
	if len(lockKeyNames) == 0 {
		return false, nil
	}
	for _, name := range lockKeyNames {
		_, err := l.client.Get(ctx, l.FormatLockKey(name)).Result()
		if err != nil {
			if l.keyNotFound(err) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// Unlock releases every key in lockKeys that this locker owns. Keys not
// owned are left untouched: unlocking a key you never won would release
// someone else's lock.
func (l *Locker) Unlock(ctx context.Context, lockKeys ...*LockKey) error {
	var lastErr error
	for _, lk := range lockKeys {
		if !lk.IsLockOwner {
			continue
		}
		if err := l.client.Del(ctx, lk.Key).Err(); err != nil {
			lastErr = err
			continue
		}
		lk.IsLockOwner = false
	}
	return lastErr
}
