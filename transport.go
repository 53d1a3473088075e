package resclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/resclient/reserr"
	"github.com/nugget/resclient/rpc"
)

// requestTimeout bounds how long a single round trip may take before
// the caller gives up, chosen to comfortably exceed a slow gateway
// without hanging an application indefinitely.
const requestTimeout = 30 * time.Second

// wsTransport is the request multiplexer: a single WebSocket connection
// shared by every outstanding call, correlating responses by request
// ID and fanning inbound events out to onEvent. There is no auth
// handshake frame to negotiate before the connection is usable, so the
// pending-map-plus-readLoop shape stays simple.
type wsTransport struct {
	dialer *websocket.Dialer
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	msgID atomic.Uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan rpc.Response

	onEvent func(rid, name string, data json.RawMessage)
	onClose func(error)
}

func newWSTransport(logger *slog.Logger) *wsTransport {
	return &wsTransport{
		dialer:  &websocket.Dialer{},
		logger:  logger,
		pending: make(map[uint64]chan rpc.Response),
	}
}

// resolveURL normalizes a host URL for WebSocket dialing: a URL
// already carrying a ws/wss scheme is used as-is; http/https is
// rewritten to ws/wss; anything else (there being no ambient document
// origin in a Go process) is passed through unchanged.
func resolveURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}

// connect dials rawURL and starts the read loop. The caller must not
// hold any cache lock while calling this, since it blocks on network
// I/O.
func (t *wsTransport) connect(ctx context.Context, rawURL string) error {
	dialURL := resolveURL(rawURL)

	conn, _, err := t.dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", dialURL, err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *wsTransport) close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *wsTransport) connected() bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn != nil
}

// Request implements rescache.Transport: a single blocking round trip
// for "<action>.<rid>[.<method>]".
func (t *wsTransport) Request(action, rid, method string, params any) (json.RawMessage, error) {
	id := t.msgID.Add(1)

	respCh := make(chan rpc.Response, 1)
	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	req := rpc.Request{
		ID:     id,
		Method: rpc.BuildMethod(action, rid, method),
		Params: params,
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return nil, reserr.ConnectionError(fmt.Errorf("resclient: not connected"))
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, reserr.ConnectionError(fmt.Errorf("resclient: send %s: %w", req.Method, err))
	}

	select {
	case resp := <-respCh:
		if len(resp.Error) > 0 {
			resErr, err := reserr.FromResult(resp.Error)
			if err != nil {
				return nil, reserr.Internal("decode error response for %s: %v", req.Method, err)
			}
			return nil, resErr
		}
		return resp.Result, nil
	case <-time.After(requestTimeout):
		return nil, reserr.ConnectionError(fmt.Errorf("resclient: timeout waiting for response to %s", req.Method))
	}
}

// readLoop reads frames until the connection closes, fanning responses
// to their waiting caller and events to onEvent. Exactly one readLoop
// runs per connection; a reconnect starts a fresh one over the new
// conn.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		var frame rpc.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.connMu.Lock()
			current := t.conn
			t.connMu.Unlock()
			if current == conn {
				// This is still the active connection; the read
				// failure means the link is down.
				t.connMu.Lock()
				t.conn = nil
				t.connMu.Unlock()
				if t.onClose != nil {
					t.onClose(err)
				}
			}
			return
		}

		switch {
		case frame.IsResponse():
			t.pendingMu.Lock()
			ch, ok := t.pending[frame.ID]
			t.pendingMu.Unlock()
			if !ok {
				t.logger.Warn("response for unknown request id", "id", frame.ID)
				continue
			}
			ch <- rpc.Response{ID: frame.ID, Result: frame.Result, Error: frame.Error}

		case frame.IsEvent():
			rid, name, ok := rpc.SplitEvent(frame.Event)
			if !ok {
				t.logger.Error("malformed event string", "event", frame.Event)
				continue
			}
			if t.onEvent != nil {
				t.onEvent(rid, name, frame.Data)
			}

		default:
			t.logger.Debug("unrecognized frame", "frame", frame)
		}
	}
}
