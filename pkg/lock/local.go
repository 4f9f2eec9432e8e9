package lock

import (
	"context"
	"sync"
)

// Local is an in-process Locker. Each key gets its own channel mutex, so
// holding one key never blocks another.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*keyLock)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	kl := l.acquireRef(key)
	select {
	case kl.ch <- struct{}{}:
		return l.releaseFunc(key, kl), nil
	case <-ctx.Done():
		l.dropRef(key, kl)
		return nil, ctx.Err()
	}
}

func (l *Local) TryLock(_ context.Context, key string) (func(), bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	kl := l.acquireRef(key)
	select {
	case kl.ch <- struct{}{}:
		return l.releaseFunc(key, kl), true, nil
	default:
		l.dropRef(key, kl)
		return nil, false, nil
	}
}

func (l *Local) acquireRef(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *Local) dropRef(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *Local) releaseFunc(key string, kl *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.dropRef(key, kl)
		})
	}
}

func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
