package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webinject/internal/domain"
)

// attachTimeout bounds how long Attach waits for the server to acknowledge
// the registration.
const attachTimeout = 10 * time.Second

// AgentClient is the websocket transport's answering side, for agents living
// in a different process than the controller. It dials the channel server
// and implements domain.ListenerChannel over the connection.
type AgentClient struct {
	url    string
	logger *slog.Logger
}

// NewAgentClient creates a client for the given ws:// channel endpoint URL.
func NewAgentClient(url string, logger *slog.Logger) *AgentClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentClient{url: url, logger: logger}
}

// Attach dials the server, attaches under the target identifier and pumps
// request frames into the listener. It does not return until the server has
// acknowledged the registration, so a request issued right after Attach
// already finds the agent. A request the listener declines gets no response
// frame; the server side times it out. The returned detach closes the
// connection.
func (c *AgentClient) Attach(targetID string, l domain.Listener) (func(), error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial channel: %w", err)
	}

	if err := conn.WriteJSON(wsFrame{Type: "attach", TargetID: targetID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach to channel: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(attachTimeout))
	var ack wsFrame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach to channel: %w", err)
	}
	if ack.Type != "attached" {
		conn.Close()
		return nil, fmt.Errorf("attach to channel: unexpected %q frame", ack.Type)
	}
	conn.SetReadDeadline(time.Time{})

	var writeMu sync.Mutex
	go func() {
		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type != "request" || frame.ID == "" {
				continue
			}

			reply, ok := l(context.Background(), frame.Payload)
			if !ok {
				continue
			}

			writeMu.Lock()
			err := conn.WriteJSON(wsFrame{Type: "response", ID: frame.ID, Payload: reply})
			writeMu.Unlock()
			if err != nil {
				c.logger.Warn("cannot send response frame", "target", targetID, "err", err)
				return
			}
		}
	}()

	var once sync.Once
	detach := func() {
		once.Do(func() { conn.Close() })
	}
	return detach, nil
}
