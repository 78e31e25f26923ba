package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"webinject/internal/domain"
)

// startChannel runs the websocket server on an httptest listener and returns
// the server plus the ws:// URL of its endpoint.
func startChannel(t *testing.T, timeout time.Duration) (*Server, string) {
	t.Helper()
	srv := NewServer(ServerConfig{Path: "/channel", RequestTimeout: timeout})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + "/channel"
}

func TestWebSocket_RequestRoundTrip(t *testing.T) {
	srv, url := startChannel(t, 5*time.Second)

	client := NewAgentClient(url, nil)
	detach, err := client.Attach("tab-1", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, bool) {
		return json.RawMessage(`{"echo":` + string(payload) + `}`), true
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	reply, err := srv.Request(context.Background(), "tab-1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply) != `{"echo":{"n":1}}` {
		t.Errorf("reply: got %s", reply)
	}
}

func TestWebSocket_AttachReturnsRegistered(t *testing.T) {
	// A request issued the instant Attach returns must already find the
	// agent; an answering agent reported as no listener would make the
	// controller re-inject a warm target.
	srv, url := startChannel(t, time.Second)

	client := NewAgentClient(url, nil)
	detach, err := client.Attach("tab-1", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, bool) {
		return json.RawMessage(`"alive"`), true
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	for i := 0; i < 5; i++ {
		reply, err := srv.Request(context.Background(), "tab-1", json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("Request %d right after Attach: %v", i, err)
		}
		if string(reply) != `"alive"` {
			t.Fatalf("Request %d: got %s", i, reply)
		}
	}
}

func TestWebSocket_NoAgentAttached(t *testing.T) {
	srv, _ := startChannel(t, time.Second)

	_, err := srv.Request(context.Background(), "tab-1", json.RawMessage(`{}`))
	if !errors.Is(err, domain.ErrNoListener) {
		t.Errorf("got %v, want ErrNoListener", err)
	}
}

func TestWebSocket_IgnoringAgentTimesOut(t *testing.T) {
	srv, url := startChannel(t, 200*time.Millisecond)

	client := NewAgentClient(url, nil)
	detach, err := client.Attach("tab-1", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, bool) {
		return nil, false // decline: agents never answer mismatched probes
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	start := time.Now()
	_, err = srv.Request(context.Background(), "tab-1", json.RawMessage(`{}`))
	if !errors.Is(err, domain.ErrNoListener) {
		t.Fatalf("got %v, want ErrNoListener", err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Error("request returned before the channel timeout")
	}
}

func TestWebSocket_DetachedAgentIsGone(t *testing.T) {
	srv, url := startChannel(t, 300*time.Millisecond)

	client := NewAgentClient(url, nil)
	detach, err := client.Attach("tab-1", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, bool) {
		return json.RawMessage(`{}`), true
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	detach()

	// The server notices the closed connection asynchronously; poll until
	// the request fails fast with ErrNoListener.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err = srv.Request(context.Background(), "tab-1", json.RawMessage(`{}`))
		if errors.Is(err, domain.ErrNoListener) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("detached agent still answering: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWebSocket_ContextCancellation(t *testing.T) {
	srv, url := startChannel(t, 10*time.Second)

	client := NewAgentClient(url, nil)
	detach, err := client.Attach("tab-1", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, bool) {
		return nil, false
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = srv.Request(ctx, "tab-1", json.RawMessage(`{}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestWebSocket_ConcurrentRequestsCorrelate(t *testing.T) {
	srv, url := startChannel(t, 5*time.Second)

	client := NewAgentClient(url, nil)
	detach, err := client.Attach("tab-1", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, bool) {
		return payload, true // echo
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer detach()

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			want := `{"i":` + string(rune('0'+i)) + `}`
			reply, err := srv.Request(context.Background(), "tab-1", json.RawMessage(want))
			if err != nil {
				errs <- err
				return
			}
			if string(reply) != want {
				errs <- errors.New("cross-correlated reply: got " + string(reply) + " want " + want)
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}
