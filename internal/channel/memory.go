// Package channel provides the message transports the activation protocol
// runs over: an in-process router for same-process controller/agent pairs
// and a websocket transport for agents living in other processes.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"webinject/internal/domain"
)

// Router is the in-process channel. It implements both sides: controllers
// call Request, agents call Attach. A request is offered to each listener of
// the target in registration order; the first one that answers wins, and if
// none does the request fails with ErrNoListener, indistinguishable on
// purpose from no listener being registered at all.
type Router struct {
	mu        sync.RWMutex
	listeners map[string][]routedListener
	closed    bool
	logger    *slog.Logger
}

type routedListener struct {
	id string
	fn domain.Listener
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		listeners: make(map[string][]routedListener),
		logger:    logger,
	}
}

// Attach registers a listener for the target. The returned detach function
// removes exactly this registration.
func (r *Router) Attach(targetID string, l domain.Listener) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, domain.ErrChannelClosed
	}

	id := uuid.NewString()
	r.listeners[targetID] = append(r.listeners[targetID], routedListener{id: id, fn: l})
	r.logger.Debug("listener attached", "target", targetID, "listeners", len(r.listeners[targetID]))

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		ls := r.listeners[targetID]
		for i, rl := range ls {
			if rl.id == id {
				r.listeners[targetID] = append(ls[:i], ls[i+1:]...)
				r.logger.Debug("listener detached", "target", targetID)
				return
			}
		}
	}, nil
}

// Request delivers the payload to the target's listeners and returns the
// first answer. Listeners run synchronously on the caller's goroutine.
func (r *Router) Request(ctx context.Context, targetID string, payload json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, domain.ErrChannelClosed
	}
	ls := make([]routedListener, len(r.listeners[targetID]))
	copy(ls, r.listeners[targetID])
	r.mu.RUnlock()

	for _, rl := range ls {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if reply, ok := rl.fn(ctx, payload); ok {
			return reply, nil
		}
	}

	r.logger.Debug("request unanswered", "target", targetID, "listeners", len(ls))
	return nil, domain.ErrNoListener
}

// Close rejects all further requests and attachments.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.listeners = make(map[string][]routedListener)
	}
}
