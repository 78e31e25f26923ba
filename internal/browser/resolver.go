package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"webinject/internal/domain"
)

// Resolver maps between trigger-supplied descriptors and live tabs.
type Resolver struct {
	bridge *Bridge
}

// NewResolver creates a resolver over the bridge.
func NewResolver(bridge *Bridge) *Resolver {
	return &Resolver{bridge: bridge}
}

// List returns a descriptor for every open page target.
func (r *Resolver) List(ctx context.Context) ([]domain.TargetDescriptor, error) {
	if r.bridge.browserCtx == nil {
		return nil, fmt.Errorf("browser not started")
	}
	infos, err := chromedp.Targets(r.bridge.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	var out []domain.TargetDescriptor
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		out = append(out, domain.TargetDescriptor{
			TargetID: string(info.TargetID),
			URL:      info.URL,
			Title:    info.Title,
		})
	}
	return out, nil
}

// Resolve looks one tab up by its target identifier. A missing tab is not an
// error: the caller treats it as an unresolvable target and no-ops.
func (r *Resolver) Resolve(ctx context.Context, targetID string) (domain.TargetDescriptor, bool, error) {
	targets, err := r.List(ctx)
	if err != nil {
		return domain.TargetDescriptor{}, false, err
	}
	for _, t := range targets {
		if t.TargetID == targetID {
			return t, true, nil
		}
	}
	return domain.TargetDescriptor{}, false, nil
}
