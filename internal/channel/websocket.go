package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"webinject/internal/domain"
	"webinject/internal/metrics"
)

// defaultRequestTimeout is the channel's own delivery timeout: an attached
// agent that never answers is reported as no listener after this long.
const defaultRequestTimeout = 10 * time.Second

// wsFrame is the JSON frame protocol between server and agent processes.
type wsFrame struct {
	Type     string          `json:"type"` // "attach" | "attached" | "request" | "response"
	ID       string          `json:"id,omitempty"` // correlation id for request/response
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// ServerConfig configures the websocket channel server.
type ServerConfig struct {
	Port           int
	Path           string // endpoint path (default: /channel)
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Server is the websocket transport's requesting side. Agent processes dial
// in and attach under a target identifier; Request correlates one frame pair
// per round trip. An agent that ignores a request simply never answers, and
// the request times out exactly as if nothing were attached.
type Server struct {
	port    int
	path    string
	timeout time.Duration
	logger  *slog.Logger
	server  *http.Server

	mu     sync.RWMutex
	agents map[string]*wsAgentConn

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage
}

// wsAgentConn tracks one attached agent connection.
type wsAgentConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsAgentConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewServer creates a websocket channel server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/channel"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		port:    cfg.Port,
		path:    cfg.Path,
		timeout: cfg.RequestTimeout,
		logger:  cfg.Logger,
		agents:  make(map[string]*wsAgentConn),
		pending: make(map[string]chan json.RawMessage),
	}
}

// Handler returns the HTTP handler serving the channel endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	return mux
}

// Start begins serving and blocks until the listener fails or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("websocket channel starting", "port", s.port, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		return fmt.Errorf("websocket channel: %w", err)
	}
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	// The first frame must attach the connection to a target.
	var hello wsFrame
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != "attach" || hello.TargetID == "" {
		s.logger.Warn("websocket connection without attach frame, closing")
		conn.Close()
		return
	}

	ac := &wsAgentConn{conn: conn}
	s.mu.Lock()
	s.agents[hello.TargetID] = ac
	s.mu.Unlock()
	metrics.AttachedAgents.Inc()
	s.logger.Info("agent attached", "target", hello.TargetID)

	defer func() {
		s.mu.Lock()
		if s.agents[hello.TargetID] == ac {
			delete(s.agents, hello.TargetID)
		}
		s.mu.Unlock()
		metrics.AttachedAgents.Dec()
		conn.Close()
		s.logger.Info("agent detached", "target", hello.TargetID)
	}()

	// Acknowledge only after the registration above, so the agent's Attach
	// does not return before Request can find it.
	if err := ac.writeJSON(wsFrame{Type: "attached", TargetID: hello.TargetID}); err != nil {
		s.logger.Warn("cannot acknowledge attach", "target", hello.TargetID, "err", err)
		return
	}

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "response" || frame.ID == "" {
			s.logger.Debug("dropping unexpected frame", "type", frame.Type)
			continue
		}

		s.pendingMu.Lock()
		ch, ok := s.pending[frame.ID]
		delete(s.pending, frame.ID)
		s.pendingMu.Unlock()
		if ok {
			ch <- frame.Payload
		}
	}
}

// Request sends the payload to the target's attached agent and awaits its
// answer within the channel timeout.
func (s *Server) Request(ctx context.Context, targetID string, payload json.RawMessage) (json.RawMessage, error) {
	s.mu.RLock()
	ac, ok := s.agents[targetID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNoListener
	}

	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	frame := wsFrame{Type: "request", ID: id, TargetID: targetID, Payload: payload}
	if err := ac.writeJSON(frame); err != nil {
		return nil, fmt.Errorf("%w: write failed: %v", domain.ErrNoListener, err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer within %s", domain.ErrNoListener, s.timeout)
	}
}
