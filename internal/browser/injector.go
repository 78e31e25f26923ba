package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chromedp/chromedp"

	"webinject/internal/domain"
)

// Injector applies script and style payloads to a tab. File references are
// read from the local filesystem at dispatch time and evaluated in the tab's
// top frame; AllFrames and RunAt are accepted for wire compatibility but the
// evaluation happens once, in the frame the target identifier names.
type Injector struct {
	bridge   *Bridge
	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// NewInjector creates an injector over the bridge.
func NewInjector(bridge *Bridge, logger *slog.Logger) *Injector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Injector{bridge: bridge, logger: logger, readFile: os.ReadFile}
}

// InjectScript evaluates the payload's files (in order) and inline code in
// the tab.
func (i *Injector) InjectScript(ctx context.Context, targetID string, opts domain.ScriptOptions) error {
	code, err := i.assemble(opts.Files, opts.Code, ";\n")
	if err != nil {
		return fmt.Errorf("assemble script payload: %w", err)
	}
	if code == "" {
		return nil
	}

	tabCtx, cancel, err := i.bridge.tabContext(ctx, targetID)
	if err != nil {
		return err
	}
	defer cancel()

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(code, nil)); err != nil {
		return fmt.Errorf("inject script into %s: %w", targetID, err)
	}
	i.logger.Debug("script injected", "target", targetID, "files", len(opts.Files))
	return nil
}

// InjectStyle appends the payload's CSS to the tab as a style element.
func (i *Injector) InjectStyle(ctx context.Context, targetID string, opts domain.StyleOptions) error {
	css, err := i.assemble(opts.Files, opts.Code, "\n")
	if err != nil {
		return fmt.Errorf("assemble style payload: %w", err)
	}
	if css == "" {
		return nil
	}

	encoded, err := json.Marshal(css)
	if err != nil {
		return fmt.Errorf("encode style payload: %w", err)
	}
	expr := fmt.Sprintf(
		`(function(css){var el=document.createElement('style');el.textContent=css;(document.head||document.documentElement).appendChild(el);})(%s)`,
		encoded)

	tabCtx, cancel, err := i.bridge.tabContext(ctx, targetID)
	if err != nil {
		return err
	}
	defer cancel()

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(expr, nil)); err != nil {
		return fmt.Errorf("inject style into %s: %w", targetID, err)
	}
	i.logger.Debug("style injected", "target", targetID, "files", len(opts.Files))
	return nil
}

// assemble concatenates file contents and inline code into one payload.
func (i *Injector) assemble(files []string, code, sep string) (string, error) {
	var parts []string
	for _, f := range files {
		data, err := i.readFile(f)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", f, err)
		}
		parts = append(parts, string(data))
	}
	if code != "" {
		parts = append(parts, code)
	}
	return strings.Join(parts, sep), nil
}
