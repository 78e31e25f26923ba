// Package protocol defines the two wire messages of the activation exchange
// and the predicates that narrow untyped channel payloads to them. The kind
// values are namespaced so the messages can share a channel with unrelated
// application traffic without collision.
package protocol

import (
	"encoding/json"

	"webinject/internal/domain"
)

const (
	// KindActivationRequest discriminates a controller→agent activation probe.
	KindActivationRequest = "webinject/request-activation"
	// KindActivationSuccess discriminates the agent's answer to a matched probe.
	KindActivationSuccess = "webinject/activation-success"
)

// ActivationContext travels inside an activation request. It is constructed
// fresh per trigger event and discarded afterwards.
type ActivationContext struct {
	TargetID   string                  `json:"targetId"`
	Descriptor domain.TargetDescriptor `json:"descriptor"`
}

// ActivationRequest is the probe message. It doubles as the activation
// delivery: an agent that matches it invokes its callback before answering.
type ActivationRequest struct {
	Kind        string            `json:"kind"`
	Context     ActivationContext `json:"context"`
	InstanceTag *string           `json:"instanceTag,omitempty"`
}

// ActivationSuccess is the agent's answer to a matched request. It carries
// the agent's own instance tag so the requester can verify it spoke to the
// pair it configured, not to a different agent sharing the channel.
type ActivationSuccess struct {
	Kind        string  `json:"kind"`
	InstanceTag *string `json:"instanceTag,omitempty"`
}

// NewActivationRequest builds a request for the given context and tag.
func NewActivationRequest(actx ActivationContext, tag *string) ActivationRequest {
	return ActivationRequest{Kind: KindActivationRequest, Context: actx, InstanceTag: tag}
}

// NewActivationSuccess builds a success answer carrying the given tag.
func NewActivationSuccess(tag *string) ActivationSuccess {
	return ActivationSuccess{Kind: KindActivationSuccess, InstanceTag: tag}
}

// DecodeActivationRequest narrows a raw payload to an ActivationRequest.
// Malformed JSON and foreign kinds yield ok=false, never an error: unrelated
// traffic on the channel is expected, not exceptional.
func DecodeActivationRequest(raw json.RawMessage) (ActivationRequest, bool) {
	var req ActivationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return ActivationRequest{}, false
	}
	if req.Kind != KindActivationRequest {
		return ActivationRequest{}, false
	}
	return req, true
}

// DecodeActivationSuccess narrows a raw payload to an ActivationSuccess.
func DecodeActivationSuccess(raw json.RawMessage) (ActivationSuccess, bool) {
	var resp ActivationSuccess
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ActivationSuccess{}, false
	}
	if resp.Kind != KindActivationSuccess {
		return ActivationSuccess{}, false
	}
	return resp, true
}

// TagsEqual reports strict instance-tag equality. An absent tag is a value
// of its own: nil matches only nil, a set tag matches only the identical
// string. A tagged message therefore never matches an untagged peer.
func TagsEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Tag is a convenience for building an instance tag pointer in one expression.
func Tag(s string) *string { return &s }
