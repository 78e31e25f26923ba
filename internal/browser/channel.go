package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"webinject/internal/domain"
)

// defaultChannelTimeout bounds one in-page round trip.
const defaultChannelTimeout = 10 * time.Second

// Channel is the CDP-backed message channel. A request is delivered by
// calling the page's registered hook; a page without the hook (a tab that
// was never injected, or one reloaded since) yields ErrNoListener, which is
// exactly what the controller reads as "inject needed".
type Channel struct {
	bridge  *Bridge
	timeout time.Duration
	logger  *slog.Logger
}

// NewChannel creates a channel over the bridge.
func NewChannel(bridge *Bridge, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{bridge: bridge, timeout: defaultChannelTimeout, logger: logger}
}

// Request delivers the payload to the tab's hook and returns its answer.
// The hook may return a promise; it is awaited within the channel timeout.
func (c *Channel) Request(ctx context.Context, targetID string, payload json.RawMessage) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tabCtx, tabCancel, err := c.bridge.tabContext(reqCtx, targetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoListener, err)
	}
	defer tabCancel()

	expr := fmt.Sprintf(
		`(async function(msg){
			if (!window.__webinject__ || typeof window.__webinject__.onRequest !== 'function') { return null; }
			var reply = await window.__webinject__.onRequest(msg);
			return reply === undefined ? null : reply;
		})(%s)`, string(payload))

	var raw json.RawMessage
	err = chromedp.Run(tabCtx, chromedp.Evaluate(expr, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		// Closed tab, detached target, navigation mid-flight: all read as
		// "no listener", never surfaced past the probe.
		return nil, fmt.Errorf("%w: %v", domain.ErrNoListener, err)
	}

	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, domain.ErrNoListener
	}
	return raw, nil
}
