// Package browser backs the activation protocol with a real Chrome instance
// over the DevTools protocol: tab resolution, payload injection, and the
// in-page message channel.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Bridge manages the Chrome instance shared by the injector, the channel and
// the resolver.
type Bridge struct {
	profileDir string
	headless   bool
	logger     *slog.Logger

	browserCtx context.Context
	cancel     context.CancelFunc
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists cookies/sessions)
	Headless   bool   // Run headless (true) or with visible UI (false)
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".webinject", "chrome-profiles", "default")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		logger:     cfg.Logger,
	}
}

// Start launches Chrome and keeps the browser context alive until Stop.
func (b *Bridge) Start(parentCtx context.Context) error {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir %s: %w", b.profileDir, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if b.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Running an empty task forces the browser to launch now rather than on
	// the first injection.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch browser: %w", err)
	}

	b.browserCtx = browserCtx
	b.cancel = func() {
		browserCancel()
		allocCancel()
	}
	b.logger.Info("browser started", "profile", b.profileDir, "headless", b.headless)
	return nil
}

// Stop tears the browser down.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Context returns the long-lived browser context.
func (b *Bridge) Context() context.Context {
	return b.browserCtx
}

// tabContext derives a context attached to an existing tab. The caller
// cancels it after the operation; the deadline of callerCtx, if any, is
// carried over so channel timeouts apply to CDP work too.
func (b *Bridge) tabContext(callerCtx context.Context, targetID string) (context.Context, context.CancelFunc, error) {
	if b.browserCtx == nil {
		return nil, nil, fmt.Errorf("browser not started")
	}

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(target.ID(targetID)))

	cancel := tabCancel
	if deadline, ok := callerCtx.Deadline(); ok {
		var deadlineCancel context.CancelFunc
		tabCtx, deadlineCancel = context.WithDeadline(tabCtx, deadline)
		cancel = func() {
			deadlineCancel()
			tabCancel()
		}
	}
	return tabCtx, cancel, nil
}
