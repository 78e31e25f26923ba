package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"webinject/internal/domain"
)

// HTTPConfig configures the HTTP trigger source.
type HTTPConfig struct {
	Port   int
	Path   string // endpoint path (default: /trigger)
	Logger *slog.Logger
}

// HTTP exposes a trigger endpoint: POST a target descriptor and every
// subscriber runs one activation sequence for it. It is how a browser-side
// click forwarder (or curl) reaches the controller.
type HTTP struct {
	Func

	port   int
	path   string
	logger *slog.Logger
	server *http.Server
}

// NewHTTP creates an HTTP trigger source.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Path == "" {
		cfg.Path = "/trigger"
	}
	if cfg.Port == 0 {
		cfg.Port = 8082
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTP{port: cfg.Port, path: cfg.Path, logger: cfg.Logger}
}

// Handler returns the HTTP handler serving the trigger endpoint.
func (h *HTTP) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(h.path, h.handleTrigger)
	return mux
}

// Start begins serving and blocks until the listener fails or ctx ends.
func (h *HTTP) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", h.port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.logger.Info("trigger endpoint starting", "port", h.port, "path", h.path)

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return h.Stop()
	case err := <-errCh:
		return fmt.Errorf("trigger endpoint: %w", err)
	}
}

// Stop shuts the endpoint down.
func (h *HTTP) Stop() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

func (h *HTTP) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var target domain.TargetDescriptor
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		http.Error(w, "invalid target descriptor", http.StatusBadRequest)
		return
	}

	h.logger.Debug("trigger received", "target", target.TargetID, "url", target.URL)
	h.Fire(r.Context(), target)
	w.WriteHeader(http.StatusAccepted)
}
