package fieldsync

import (
	"context"
	"sync"

	"github.com/agentstation/fieldsync/pkg/constants"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/logging"
)

// EventHook is called with a sync run's audit event.
type EventHook func(ev engine.Event)

// hooks dispatches audit events to registered callbacks. It is the first
// sink the engine emits to.
type hooks struct {
	mu          sync.RWMutex
	onStarted   []EventHook
	onCompleted []EventHook
	onFailed    []EventHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

// OnSyncStarted registers a callback for run start events
func (c *client) OnSyncStarted(fn EventHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onStarted = append(c.hooks.onStarted, fn)
}

// OnSyncCompleted registers a callback for completed runs
func (c *client) OnSyncCompleted(fn EventHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onCompleted = append(c.hooks.onCompleted, fn)
}

// OnSyncFailed registers a callback for failed and cancelled runs
func (c *client) OnSyncFailed(fn EventHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onFailed = append(c.hooks.onFailed, fn)
}

// Emit implements engine.EventSink. A panicking hook is logged and does not
// reach the run.
func (h *hooks) Emit(ctx context.Context, ev engine.Event) {
	h.mu.RLock()
	var fns []EventHook
	switch ev.Type {
	case constants.EventSyncStarted:
		fns = h.onStarted
	case constants.EventSyncCompleted:
		fns = h.onCompleted
	case constants.EventSyncFailed:
		fns = h.onFailed
	}
	fns = append([]EventHook(nil), fns...)
	h.mu.RUnlock()

	for _, fn := range fns {
		call(ctx, fn, ev)
	}
}

func call(ctx context.Context, fn EventHook, ev engine.Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error().Interface("panic", r).Str("event", ev.Type).Msg("Sync hook panicked")
		}
	}()
	fn(ev)
}
