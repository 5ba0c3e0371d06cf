// Package locks provides the per-entity advisory locks the engine holds
// while it writes. Local serializes writers inside one process; Redis
// serializes them across processes sharing a Redis server.
package locks

import (
	"context"
	"sync"

	"github.com/agentstation/fieldsync/pkg/engine"
)

// Local is an in-process Locker. Waiters block until the key is released or
// their context ends.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

var _ engine.Locker = (*Local)(nil)

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

// Acquire implements engine.Locker.
func (l *Local) Acquire(ctx context.Context, key string) (engine.Release, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Held reports whether key is currently locked.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
