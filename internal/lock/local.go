package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLocker serializes holders of the same key within this process.
// Each key gets a one-slot channel that is dropped once nobody holds or
// waits for it.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		wait:  wait,
		slots: make(map[string]*slot),
	}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Lease, error) {
	s := l.acquireSlot(key)

	select {
	case s.ch <- struct{}{}:
		return &localLease{l: l, key: key, s: s}, nil
	default:
	}

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return &localLease{l: l, key: key, s: s}, nil
	case <-timer.C:
		l.releaseSlot(key, s)
		return nil, ErrNotAcquired
	case <-ctx.Done():
		l.releaseSlot(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type localLease struct {
	l    *LocalLocker
	key  string
	s    *slot
	once sync.Once
}

func (lease *localLease) Unlock(context.Context) error {
	lease.once.Do(func() {
		<-lease.s.ch
		lease.l.releaseSlot(lease.key, lease.s)
	})
	return nil
}
