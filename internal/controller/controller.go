// Package controller owns the activation decision logic: probe the target
// for a live agent, inject the configured payloads exactly once if none
// answers, then probe again so the freshly injected agent receives this
// trigger's activation signal.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"webinject/internal/domain"
	"webinject/internal/inject"
	"webinject/internal/metrics"
	"webinject/internal/protocol"
)

// Options configures one controller.
type Options struct {
	// Channel carries the activation probes. Required.
	Channel domain.RequestChannel

	// Injector applies payloads to a cold target. Required unless Inject
	// is empty.
	Injector domain.Injector

	// Inject holds the payload sources and the before/after hooks.
	Inject inject.Spec

	// FilterTarget skips trigger events whose descriptor it rejects.
	FilterTarget func(domain.TargetDescriptor) bool

	// InstanceTag disambiguates controller/agent pairs sharing one channel.
	// Absent means the default instance; matching is strict either way.
	InstanceTag *string

	// Trigger, when set, is subscribed at setup so each of its events runs
	// one activation sequence. ManualOnly suppresses the subscription; the
	// caller then drives activation through Activate.
	Trigger    domain.TriggerSource
	ManualOnly bool

	Logger *slog.Logger
}

// Controller runs the per-trigger activation sequence. It holds only the
// configuration closed over at setup time; concurrent triggers are not
// serialized, so overlapping triggers on a cold target may both inject.
// Callers needing single-flight injection must serialize trigger events.
type Controller struct {
	channel  domain.RequestChannel
	injector domain.Injector
	spec     inject.Spec
	filter   func(domain.TargetDescriptor) bool
	tag      *string
	logger   *slog.Logger
}

// Setup validates the options and, unless ManualOnly is set, binds the
// controller to the trigger source. The returned controller's Activate
// method is the invocable activation function for explicit targets.
func Setup(opts Options) (*Controller, error) {
	if opts.Channel == nil {
		return nil, errors.New("controller: channel is required")
	}
	if opts.Injector == nil && !opts.Inject.Empty() {
		return nil, errors.New("controller: injector is required when payload sources are configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		channel:  opts.Channel,
		injector: opts.Injector,
		spec:     opts.Inject,
		filter:   opts.FilterTarget,
		tag:      opts.InstanceTag,
		logger:   logger,
	}

	if opts.Trigger != nil && !opts.ManualOnly {
		opts.Trigger.Subscribe(func(ctx context.Context, target domain.TargetDescriptor) {
			if err := c.Activate(ctx, target); err != nil {
				c.logger.Error("activation failed", "target", target.TargetID, "err", err)
			}
		})
	}

	return c, nil
}

// Activate runs one full activation sequence against the target. Channel
// failures are swallowed as "not yet injected"; injection dispatch and hook
// failures surface to the caller. There are no retries: each trigger event
// is attempted exactly once end to end.
func (c *Controller) Activate(ctx context.Context, target domain.TargetDescriptor) error {
	if target.TargetID == "" {
		metrics.TriggersFiltered.Inc()
		c.logger.Debug("trigger without resolvable target, ignoring")
		return nil
	}
	if c.filter != nil && !c.filter(target) {
		metrics.TriggersFiltered.Inc()
		c.logger.Debug("trigger rejected by filter", "target", target.TargetID, "url", target.URL)
		return nil
	}
	metrics.TriggerEvents.Inc()

	actx := protocol.ActivationContext{TargetID: target.TargetID, Descriptor: target}

	if c.probe(ctx, actx) {
		// A live agent answered; its reply round trip already delivered
		// this trigger's activation signal.
		return nil
	}

	if err := c.dispatchInjection(ctx, actx); err != nil {
		metrics.InjectionFailures.Inc()
		return err
	}
	metrics.Injections.Inc()

	// Delivery probe for the freshly injected agent. The result is
	// discarded; a failure here is swallowed like any channel failure.
	c.probe(ctx, actx)
	return nil
}

// probe sends one activation request and reports whether a live agent of the
// configured instance answered. Any channel failure or malformed response
// means "not yet injected".
func (c *Controller) probe(ctx context.Context, actx protocol.ActivationContext) bool {
	payload, err := json.Marshal(protocol.NewActivationRequest(actx, c.tag))
	if err != nil {
		c.logger.Error("cannot encode activation request", "err", err)
		return false
	}

	resp, err := c.channel.Request(ctx, actx.TargetID, payload)
	if err != nil {
		metrics.ProbesUnanswered.Inc()
		c.logger.Debug("probe unanswered", "target", actx.TargetID, "err", err)
		return false
	}

	success, ok := protocol.DecodeActivationSuccess(resp)
	if !ok {
		metrics.ProbesUnanswered.Inc()
		c.logger.Debug("probe answered with foreign payload", "target", actx.TargetID)
		return false
	}
	if !protocol.TagsEqual(success.InstanceTag, c.tag) {
		metrics.ProbesUnanswered.Inc()
		c.logger.Debug("probe answered by different instance", "target", actx.TargetID)
		return false
	}

	metrics.ProbesAnswered.Inc()
	return true
}

// dispatchInjection applies all configured sources to the target: the raw
// file references of each list merged into one dispatch, every structured
// options object as its own dispatch, scripts and styles concurrently.
func (c *Controller) dispatchInjection(ctx context.Context, actx protocol.ActivationContext) error {
	info := inject.HookInfo{Target: actx.Descriptor, TargetID: actx.TargetID}

	if hook := c.spec.BeforeInjection; hook != nil {
		if err := hook(ctx, info); err != nil {
			return fmt.Errorf("before-injection hook: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	scriptFiles, scriptOpts := inject.Partition(c.spec.Scripts)
	if len(scriptFiles) > 0 {
		g.Go(func() error {
			return c.injector.InjectScript(gctx, actx.TargetID, domain.ScriptOptions{Files: scriptFiles})
		})
	}
	for _, o := range scriptOpts {
		g.Go(func() error {
			return c.injector.InjectScript(gctx, actx.TargetID, o.Script())
		})
	}

	styleFiles, styleOpts := inject.Partition(c.spec.Styles)
	if len(styleFiles) > 0 {
		g.Go(func() error {
			return c.injector.InjectStyle(gctx, actx.TargetID, domain.StyleOptions{Files: styleFiles})
		})
	}
	for _, o := range styleOpts {
		g.Go(func() error {
			return c.injector.InjectStyle(gctx, actx.TargetID, o.Style())
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("injection dispatch: %w", err)
	}

	if hook := c.spec.AfterInjection; hook != nil {
		if err := hook(ctx, info); err != nil {
			return fmt.Errorf("after-injection hook: %w", err)
		}
	}

	c.logger.Info("payloads injected", "target", actx.TargetID,
		"scripts", len(c.spec.Scripts), "styles", len(c.spec.Styles))
	return nil
}
