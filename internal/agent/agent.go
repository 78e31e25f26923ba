// Package agent implements the target-side half of the activation exchange:
// a single persistent listener that answers matching activation probes and
// runs a caller-supplied callback once per matched request.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"webinject/internal/domain"
	"webinject/internal/protocol"
)

// Callback runs once per matched activation request, for the liveness probe
// and the post-injection delivery probe alike. That is how activation fires
// on every trigger, including the one that caused injection.
type Callback func(ctx context.Context, actx protocol.ActivationContext, tag *string)

// Config configures one listener. Call Listen once per loaded context.
type Config struct {
	Channel     domain.ListenerChannel
	TargetID    string
	Callback    Callback // optional
	InstanceTag *string  // optional; absence is the default instance
	Logger      *slog.Logger
}

// Subscription is the registered listener. It holds no mutable state beyond
// the configuration closed over at Listen time.
type Subscription struct {
	detach func()
	once   sync.Once
}

// Close unregisters the listener. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.detach)
}

// Listen registers exactly one listener for the target context. Payloads
// that are not well-formed activation requests, or whose instance tag does
// not strictly equal the configured one, are ignored without a response;
// the unanswered probe is what tells the controller to inject.
func Listen(cfg Config) (*Subscription, error) {
	if cfg.Channel == nil {
		return nil, errors.New("agent: channel is required")
	}
	if cfg.TargetID == "" {
		return nil, errors.New("agent: target id is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	detach, err := cfg.Channel.Attach(cfg.TargetID, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, bool) {
		req, ok := protocol.DecodeActivationRequest(payload)
		if !ok {
			return nil, false
		}
		if !protocol.TagsEqual(req.InstanceTag, cfg.InstanceTag) {
			logger.Debug("activation request for different instance, ignoring",
				"target", cfg.TargetID)
			return nil, false
		}

		if cfg.Callback != nil {
			cfg.Callback(ctx, req.Context, req.InstanceTag)
		}

		reply, err := json.Marshal(protocol.NewActivationSuccess(cfg.InstanceTag))
		if err != nil {
			logger.Error("cannot encode activation success", "err", err)
			return nil, false
		}
		return reply, true
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("agent listening", "target", cfg.TargetID)
	return &Subscription{detach: detach}, nil
}
