// Package trigger provides trigger-event sources: a programmatic fan-out for
// in-process use and an HTTP endpoint for external click forwarding.
package trigger

import (
	"context"
	"sync"

	"webinject/internal/domain"
)

// Func is a programmatic trigger source: subscribers receive every fired
// event. It is the building block for the HTTP source and for tests.
type Func struct {
	mu       sync.RWMutex
	handlers []domain.TriggerHandler
}

// Subscribe registers a handler for future events.
func (f *Func) Subscribe(h domain.TriggerHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// Fire delivers one trigger event to every subscriber, synchronously and in
// subscription order.
func (f *Func) Fire(ctx context.Context, target domain.TargetDescriptor) {
	f.mu.RLock()
	handlers := make([]domain.TriggerHandler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, target)
	}
}
