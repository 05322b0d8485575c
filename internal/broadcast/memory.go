package broadcast

import (
	"context"
	"sync"
)

// MemoryBus fans events out to in-process subscribers. Used by tests to
// model several tabs inside one process; delivery is synchronous, which
// keeps tests deterministic without changing the contract (handlers still
// re-derive state from storage rather than trusting the event).
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []*memorySub
}

type memorySub struct {
	ctx     context.Context
	handler Handler
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish delivers ev to every live subscriber, including the publisher's
// own tab; callers filter by ClientID.
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	subs := make([]*memorySub, len(b.handlers))
	copy(subs, b.handlers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		sub.handler(ev)
	}
	return nil
}

// Subscribe registers handler until ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, &memorySub{ctx: ctx, handler: handler})
	return nil
}

// Close drops all subscribers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = nil
	return nil
}
