package tasks

import (
	"context"
	"sync"
)

// KeyedLock serializes writers per task id. Acquire returns a one-shot
// release func; WaitForUnlock lets readers wait out an in-flight writer
// without taking the lock themselves. Locks for distinct ids never contend.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]chan struct{})}
}

// Acquire blocks until the caller holds exclusive access to key, then
// returns the release func. Release is idempotent.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		current, taken := l.held[key]
		if !taken {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					l.mu.Lock()
					if l.held[key] == done {
						delete(l.held, key)
					}
					l.mu.Unlock()
					close(done)
				})
			}
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-current:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitForUnlock returns once no writer holds key. It does not acquire.
func (l *KeyedLock) WaitForUnlock(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		current, taken := l.held[key]
		l.mu.Unlock()
		if !taken {
			return nil
		}
		select {
		case <-current:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Locked reports whether key is currently held. Intended for tests.
func (l *KeyedLock) Locked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, taken := l.held[key]
	return taken
}
