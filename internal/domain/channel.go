package domain

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoListener is returned by RequestChannel.Request when no listener for
// the target answered within the channel's own timeout. Callers that use the
// probe pattern treat it as "not yet active", never as a hard failure.
var ErrNoListener = errors.New("channel: no listener answered")

// ErrChannelClosed is returned once a channel has been shut down.
var ErrChannelClosed = errors.New("channel: closed")

// RequestChannel is the requesting side of the message channel: one
// request/response round trip keyed by a target identifier. Implementations
// apply their own delivery timeout; an unanswered request fails with
// ErrNoListener (or a context error), it never blocks forever.
type RequestChannel interface {
	Request(ctx context.Context, targetID string, payload json.RawMessage) (json.RawMessage, error)
}

// Listener handles one delivered payload. Returning ok=false means the
// listener ignores the payload entirely: no response is sent, and the
// requester eventually fails with ErrNoListener.
type Listener func(ctx context.Context, payload json.RawMessage) (reply json.RawMessage, ok bool)

// ListenerChannel is the answering side of the message channel. Attach
// registers a listener for payloads addressed to the given target and
// returns a detach function that unregisters it.
type ListenerChannel interface {
	Attach(targetID string, l Listener) (detach func(), err error)
}
