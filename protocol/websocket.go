package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketTransport carries one JSON object per text frame and allows
// server-initiated notifications to arrive interleaved with request
// responses; Send correlates by request id across a shared read loop.
type WebSocketTransport struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan Response

	notifications chan Response
	readErr       chan error
}

// NewWebSocketTransport starts a read loop over conn and returns a ready
// Transport. notifications receives any Response whose ID does not match
// a pending request (server-initiated pushes); callers that don't care
// may leave it undrained up to a small internal buffer.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:          conn,
		pending:       make(map[string]chan Response),
		notifications: make(chan Response, 64),
		readErr:       make(chan error, 1),
	}
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) readLoop() {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.readErr <- err
			t.failAllPending(err)
			return
		}
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()

		if ok {
			ch <- resp
		} else {
			select {
			case t.notifications <- resp:
			default:
			}
		}
	}
}

func (t *WebSocketTransport) failAllPending(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// Notifications returns the channel of server-initiated messages that
// didn't correlate to any pending request.
func (t *WebSocketTransport) Notifications() <-chan Response {
	return t.notifications
}

func (t *WebSocketTransport) Send(ctx context.Context, req Request) (Response, error) {
	ch := make(chan Response, 1)
	t.mu.Lock()
	t.pending[req.ID] = ch
	t.mu.Unlock()

	raw, err := json.Marshal(req)
	if err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return Response{}, fmt.Errorf("protocol: marshal request: %w", err)
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return Response{}, fmt.Errorf("protocol: write ws message: %w", err)
	}

	select {
	case <-ctx.Done():
		// Retire the id so a late response arriving after we've given up
		// is dropped by readLoop instead of delivered to a dead channel.
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return Response{}, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("protocol: connection closed while awaiting response")
		}
		return resp, nil
	case err := <-t.readErr:
		return Response{}, fmt.Errorf("protocol: read loop terminated: %w", err)
	}
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}
