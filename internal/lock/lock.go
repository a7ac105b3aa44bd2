// Package lock grants mutual exclusion keyed by an arbitrary string, either
// inside one process or across processes through Redis.
package lock

import (
	"context"
	"errors"
)

var (
	// ErrNotAcquired is returned when the key stays held for the whole wait.
	ErrNotAcquired = errors.New("lock not acquired within wait timeout")
	// ErrLeaseLost is returned by Unlock when the lease expired and the key
	// may already belong to another holder.
	ErrLeaseLost = errors.New("lock lease lost before release")
)

type Locker interface {
	// Lock blocks until key is held, the wait timeout passes (ErrNotAcquired)
	// or ctx is done.
	Lock(ctx context.Context, key string) (Lease, error)
}

// Lease is one successful acquisition. Unlock is safe to call more than once.
type Lease interface {
	Unlock(ctx context.Context) error
}
