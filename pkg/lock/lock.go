// Package lock provides per-key mutual exclusion, in process or across
// nodes through redis.
package lock

import (
	"context"
	"errors"
)

var (
	ErrEmptyKey      = errors.New("lock_key_empty")
	ErrNotConfigured = errors.New("lock_not_configured")
)

// Locker serializes work per key. The returned release function must be
// called exactly once.
type Locker interface {
	// Lock blocks until the key is acquired or ctx is done.
	Lock(ctx context.Context, key string) (release func(), err error)
	// TryLock acquires the key without waiting.
	TryLock(ctx context.Context, key string) (release func(), ok bool, err error)
}
