package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// MessageTransport carries exactly one JSON-RPC message per read or write.
// The bridge strips stdio framing before the socket, so payloads here are
// bare JSON text.
type MessageTransport interface {
	// ReadMessage blocks until the next message arrives.
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// Dialer opens a MessageTransport. The client dials lazily on Initialize so
// a constructed client holds no connection.
type Dialer func(ctx context.Context) (MessageTransport, error)

// WebSocketDialer returns a Dialer for the bridge endpoint at rawURL,
// e.g. ws://127.0.0.1:9256/lsp?project=blink.
func WebSocketDialer(rawURL string) Dialer {
	return func(ctx context.Context) (MessageTransport, error) {
		dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, fmt.Errorf("dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", rawURL, err)
		}
		return &wsTransport{conn: conn}, nil
	}
}

// wsTransport adapts a gorilla websocket connection to MessageTransport.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// NotificationHandler handles a server-initiated notification.
type NotificationHandler func(method string, params json.RawMessage)

// request is the outbound JSON-RPC envelope. A zero ID (omitted) makes it a
// notification.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is the inbound JSON-RPC result envelope.
type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Transport runs the JSON-RPC session over a MessageTransport: it allocates
// request ids, correlates responses to pending calls, and routes
// notifications to registered handlers. One read goroutine owns all inbound
// traffic.
type Transport struct {
	mt  MessageTransport
	log *logrus.Entry

	mu       sync.Mutex
	nextID   atomic.Int64
	pending  map[int64]chan *response
	handlers map[string]NotificationHandler

	closed atomic.Bool
	done   chan struct{}
}

// NewTransport wraps an open MessageTransport. Call Start to begin reading.
func NewTransport(mt MessageTransport, log *logrus.Entry) *Transport {
	return &Transport{
		mt:       mt,
		log:      log,
		pending:  make(map[int64]chan *response),
		handlers: make(map[string]NotificationHandler),
		done:     make(chan struct{}),
	}
}

// Start launches the read loop.
func (t *Transport) Start() {
	go t.readLoop()
}

// OnNotification registers a handler for a notification method. The key "*"
// catches everything without a dedicated handler. Handlers run on the read
// goroutine, preserving notification order; they must not block or call
// back into the transport.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// Call sends a request and blocks until its response, ctx expiry, or
// transport close. Ids are strictly increasing and start at 1; the pending
// entry is recorded before the bytes leave, so a fast response can never
// miss its waiter.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}

	id := t.nextID.Add(1)
	ch := make(chan *response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.send(&request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrConnectionClosed
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Notify sends a notification; no response is expected.
func (t *Transport) Notify(method string, params any) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}
	return t.send(&request{JSONRPC: "2.0", Method: method, Params: params})
}

// Close tears down the transport. Every outstanding request is rejected
// with ErrConnectionClosed; calling Close again is a no-op.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.done)

	// Clear the pending table; waiters unblock via t.done.
	t.mu.Lock()
	t.pending = make(map[int64]chan *response)
	t.mu.Unlock()

	return t.mt.Close()
}

// IsClosed reports whether the transport has been torn down.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Done is closed when the transport shuts down, whether locally or because
// the peer went away.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) send(msg *request) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return t.mt.WriteMessage(data)
}

func (t *Transport) readLoop() {
	for {
		data, err := t.mt.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				t.log.WithError(err).Debug("transport read failed, closing")
				t.Close()
			}
			return
		}
		t.dispatch(data)
	}
}

// dispatch classifies one inbound message. A message with an id and no
// method is a response; a message with a method is a notification (or a
// server-to-client request, which this client does not serve). Anything
// else is dropped.
func (t *Transport) dispatch(data []byte) {
	id := gjson.GetBytes(data, "id")
	method := gjson.GetBytes(data, "method")

	switch {
	case id.Exists() && !method.Exists():
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.log.WithError(err).Debug("dropping undecodable response")
			return
		}
		t.handleResponse(&resp)

	case method.Exists():
		t.handleNotification(method.String(), gjson.GetBytes(data, "params").Raw)

	default:
		t.log.Debug("dropping message with neither id nor method")
	}
}

func (t *Transport) handleResponse(resp *response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		// Unknown id: either already timed out or never ours.
		t.log.WithField("id", resp.ID).Debug("dropping response with unknown id")
		return
	}

	ch <- resp
}

func (t *Transport) handleNotification(method, rawParams string) {
	t.mu.Lock()
	handler, ok := t.handlers[method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.mu.Unlock()

	if !ok || handler == nil {
		t.log.WithField("method", method).Debug("ignoring unhandled notification")
		return
	}

	handler(method, json.RawMessage(rawParams))
}
