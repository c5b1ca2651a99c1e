package reaction

import (
	"context"
	"sync"
)

// targetLocks serializes toggle work per target. Counter updates for a target
// must happen one at a time (the sum invariant depends on it), while work on
// distinct targets stays fully concurrent. Each target gets a 1-buffered
// channel used as a mutex so acquisition can respect context cancellation.
type targetLocks struct {
	mu    sync.Mutex
	locks map[TargetRef]*targetLock
}

type targetLock struct {
	ch   chan struct{}
	refs int
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[TargetRef]*targetLock)}
}

// acquire blocks until the lock for target is held or ctx is done. On
// success the returned release function must be called exactly once.
func (t *targetLocks) acquire(ctx context.Context, target TargetRef) (release func(), err error) {
	t.mu.Lock()
	l, ok := t.locks[target]
	if !ok {
		l = &targetLock{ch: make(chan struct{}, 1)}
		t.locks[target] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			t.put(target, l)
		}, nil
	case <-ctx.Done():
		t.put(target, l)
		return nil, ctx.Err()
	}
}

// put drops one reference and evicts the lock entry once nobody holds or
// waits on it, so the map does not grow with every target ever toggled.
func (t *targetLocks) put(target TargetRef, l *targetLock) {
	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, target)
	}
	t.mu.Unlock()
}
