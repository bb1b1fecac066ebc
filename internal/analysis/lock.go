package analysis

import (
	"context"
	"fmt"
)

// Locker provides a cross-process mutex, such as a Postgres advisory lock.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error)
}

// WithLock runs fn while holding the advisory lock. ran is false when another
// process holds the lock. A nil locker or a zero key runs fn unguarded.
func WithLock(ctx context.Context, locker Locker, key int64, fn func(context.Context) error) (ran bool, err error) {
	unlock, proceed, err := acquireLock(ctx, locker, key)
	if err != nil {
		return false, err
	}
	if !proceed {
		return false, nil
	}
	if unlock != nil {
		defer unlock()
	}
	return true, fn(ctx)
}

func acquireLock(ctx context.Context, locker Locker, key int64) (func(), bool, error) {
	if key == 0 || locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
