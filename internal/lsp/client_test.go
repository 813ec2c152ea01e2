package lsp

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// fakeServer plays the language-server role on the far end of a pipe pair.
// It answers initialize and records every notification it receives.
type fakeServer struct {
	t        *testing.T
	end      *pipeTransport
	hoverRes string // raw JSON result for textDocument/hover; "null" downgrades

	mu            sync.Mutex
	notifications []serverMsg
	notified      chan struct{}
}

type serverMsg struct {
	Method string
	Params string
}

func newFakeServer(t *testing.T, end *pipeTransport) *fakeServer {
	s := &fakeServer{t: t, end: end, hoverRes: "null", notified: make(chan struct{}, 64)}
	go s.serve()
	return s
}

func (s *fakeServer) serve() {
	for {
		data, err := s.end.ReadMessage()
		if err != nil {
			return
		}

		method := gjson.GetBytes(data, "method").String()
		id := gjson.GetBytes(data, "id")

		if !id.Exists() {
			s.mu.Lock()
			s.notifications = append(s.notifications, serverMsg{
				Method: method,
				Params: gjson.GetBytes(data, "params").Raw,
			})
			s.mu.Unlock()
			select {
			case s.notified <- struct{}{}:
			default:
			}
			continue
		}

		var result string
		switch method {
		case "initialize":
			result = `{"capabilities":{"textDocumentSync":2},"serverInfo":{"name":"fake-ls"}}`
		case "textDocument/hover":
			s.mu.Lock()
			result = s.hoverRes
			s.mu.Unlock()
		default:
			result = "null"
		}
		s.end.WriteMessage([]byte(`{"jsonrpc":"2.0","id":` + id.Raw + `,"result":` + result + `}`))
	}
}

// waitFor blocks until a notification with the method arrives.
func (s *fakeServer) waitFor(method string) serverMsg {
	s.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		for _, n := range s.notifications {
			if n.Method == method {
				s.mu.Unlock()
				return n
			}
		}
		s.mu.Unlock()

		select {
		case <-s.notified:
		case <-deadline:
			s.t.Fatalf("notification %q never arrived", method)
		}
	}
}

func (s *fakeServer) received(method string) []serverMsg {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []serverMsg
	for _, n := range s.notifications {
		if n.Method == method {
			out = append(out, n)
		}
	}
	return out
}

// publish sends a diagnostics notification to the client.
func (s *fakeServer) publish(uri DocumentURI, diags string) {
	msg := `{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"` +
		string(uri) + `","diagnostics":` + diags + `}}`
	s.end.WriteMessage([]byte(msg))
}

func newTestClient(t *testing.T, cfg ClientConfig) (*Client, *fakeServer) {
	t.Helper()
	clientEnd, serverEnd := newPipePair()
	srv := newFakeServer(t, serverEnd)

	log := logrus.New()
	log.SetOutput(io.Discard)

	dial := func(ctx context.Context) (MessageTransport, error) {
		return clientEnd, nil
	}
	client := NewClient(cfg, dial, log)
	t.Cleanup(func() { client.Disconnect() })
	return client, srv
}

func TestClient_InitializeHandshake(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/sketches/blink"})

	var busyMu sync.Mutex
	var busy []bool
	client.OnBusyStateChange(func(b bool) {
		busyMu.Lock()
		busy = append(busy, b)
		busyMu.Unlock()
	})

	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if !client.IsInitialized() {
		t.Error("IsInitialized() = false after handshake")
	}

	srv.waitFor("initialized")

	busyMu.Lock()
	defer busyMu.Unlock()
	if len(busy) != 2 || !busy[0] || busy[1] {
		t.Errorf("busy transitions = %v, want [true false]", busy)
	}
}

func TestClient_InitializeIsIdempotent(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})

	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("first Initialize() error: %v", err)
	}
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() error: %v", err)
	}

	srv.waitFor("initialized")
	if got := len(srv.received("initialized")); got != 1 {
		t.Errorf("initialized sent %d times, want 1", got)
	}
}

func TestClient_OperationsBeforeInitialize(t *testing.T) {
	client, _ := newTestClient(t, ClientConfig{ProjectPath: "/p"})

	if err := client.OpenDocument("/p/a.ino", "x"); err != ErrNotInitialized {
		t.Errorf("OpenDocument() = %v, want ErrNotInitialized", err)
	}
	if hover := client.Hover(context.Background(), "/p/a.ino", Position{}); hover != nil {
		t.Errorf("Hover() before initialize = %v, want nil", hover)
	}
}

func TestClient_OpenDocument(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	if err := client.OpenDocument("/p/blink.ino", "void setup() {}"); err != nil {
		t.Fatalf("OpenDocument() error: %v", err)
	}

	n := srv.waitFor("textDocument/didOpen")
	if v := gjson.Get(n.Params, "textDocument.version").Int(); v != 0 {
		t.Errorf("didOpen version = %d, want 0", v)
	}
	if lang := gjson.Get(n.Params, "textDocument.languageId").String(); lang != "cpp" {
		t.Errorf("didOpen languageId = %q, want cpp", lang)
	}
	if text := gjson.Get(n.Params, "textDocument.text").String(); text != "void setup() {}" {
		t.Errorf("didOpen text = %q", text)
	}

	// Reopening is a no-op.
	if err := client.OpenDocument("/p/blink.ino", "other"); err != nil {
		t.Fatalf("second OpenDocument() error: %v", err)
	}
	if got := len(srv.received("textDocument/didOpen")); got != 1 {
		t.Errorf("didOpen sent %d times, want 1", got)
	}
}

func TestClient_UpdateDocumentSendsDelta(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	client.OpenDocument("/p/blink.ino", "void setup() {}")
	if err := client.UpdateDocument("/p/blink.ino", "void setup() {}\nvoid loop() {}"); err != nil {
		t.Fatalf("UpdateDocument() error: %v", err)
	}

	n := srv.waitFor("textDocument/didChange")
	if v := gjson.Get(n.Params, "textDocument.version").Int(); v != 1 {
		t.Errorf("didChange version = %d, want 1", v)
	}
	change := gjson.Get(n.Params, "contentChanges.0")
	if line := change.Get("range.start.line").Int(); line != 0 {
		t.Errorf("delta start line = %d, want 0", line)
	}
	if ch := change.Get("range.start.character").Int(); ch != 15 {
		t.Errorf("delta start character = %d, want 15", ch)
	}
	if text := change.Get("text").String(); text != "\nvoid loop() {}" {
		t.Errorf("delta text = %q", text)
	}
}

func TestClient_UpdateUnchangedContentSendsNothing(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	client.OpenDocument("/p/a.ino", "same")
	srv.waitFor("textDocument/didOpen")

	if err := client.UpdateDocument("/p/a.ino", "same"); err != nil {
		t.Fatalf("UpdateDocument() error: %v", err)
	}

	if v, _ := client.DocumentVersion("/p/a.ino"); v != 0 {
		t.Errorf("version after no-op update = %d, want 0", v)
	}
	if got := len(srv.received("textDocument/didChange")); got != 0 {
		t.Errorf("didChange sent %d times for unchanged content, want 0", got)
	}
}

func TestClient_UpdateAutoOpensUntrackedDocument(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	if err := client.UpdateDocument("/p/new.ino", "content"); err != nil {
		t.Fatalf("UpdateDocument() error: %v", err)
	}

	n := srv.waitFor("textDocument/didOpen")
	if v := gjson.Get(n.Params, "textDocument.version").Int(); v != 0 {
		t.Errorf("auto-open version = %d, want 0", v)
	}
	if got := len(srv.received("textDocument/didChange")); got != 0 {
		t.Errorf("didChange sent %d times on auto-open, want 0", got)
	}
	if !client.IsDocumentOpen("/p/new.ino") {
		t.Error("document not tracked after auto-open")
	}
}

func TestClient_CloseDocument(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	client.OpenDocument("/p/a.ino", "x")
	if err := client.CloseDocument("/p/a.ino"); err != nil {
		t.Fatalf("CloseDocument() error: %v", err)
	}

	srv.waitFor("textDocument/didClose")
	if client.IsDocumentOpen("/p/a.ino") {
		t.Error("document still tracked after close")
	}

	// Closing again is a no-op.
	if err := client.CloseDocument("/p/a.ino"); err != nil {
		t.Fatalf("second CloseDocument() error: %v", err)
	}
	if got := len(srv.received("textDocument/didClose")); got != 1 {
		t.Errorf("didClose sent %d times, want 1", got)
	}
}

func TestClient_NotifyDocumentSaved(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	client.OpenDocument("/p/a.ino", "saved content")
	if err := client.NotifyDocumentSaved("/p/a.ino"); err != nil {
		t.Fatalf("NotifyDocumentSaved() error: %v", err)
	}

	n := srv.waitFor("textDocument/didSave")
	if text := gjson.Get(n.Params, "text").String(); text != "saved content" {
		t.Errorf("didSave text = %q", text)
	}
}

func TestClient_DiagnosticsReplacePerURI(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	client.OpenDocument("/p/a.ino", "x")
	uri := FilePathToURI("/p/a.ino")

	var mu sync.Mutex
	var published [][]Diagnostic
	seen := make(chan struct{}, 8)
	client.OnDiagnostics(func(_ DocumentURI, diags []Diagnostic) {
		mu.Lock()
		published = append(published, diags)
		mu.Unlock()
		seen <- struct{}{}
	})

	srv.publish(uri, `[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"severity":1,"message":"first"},{"range":{"start":{"line":1,"character":0},"end":{"line":1,"character":1}},"severity":2,"message":"second"}]`)
	waitSignal(t, seen)

	if diags := client.Diagnostics("/p/a.ino"); len(diags) != 2 {
		t.Fatalf("diagnostics count = %d, want 2", len(diags))
	}

	// The next publish replaces, never merges.
	srv.publish(uri, `[{"range":{"start":{"line":2,"character":0},"end":{"line":2,"character":1}},"severity":1,"message":"only"}]`)
	waitSignal(t, seen)

	diags := client.Diagnostics("/p/a.ino")
	if len(diags) != 1 || diags[0].Message != "only" {
		t.Fatalf("diagnostics after replacement = %+v, want single %q entry", diags, "only")
	}

	// An empty publish clears.
	srv.publish(uri, `[]`)
	waitSignal(t, seen)
	if diags := client.Diagnostics("/p/a.ino"); len(diags) != 0 {
		t.Errorf("diagnostics after empty publish = %d entries, want 0", len(diags))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 3 {
		t.Errorf("observer fired %d times, want 3", len(published))
	}
}

func TestClient_HoverDowngradesToNil(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)
	client.OpenDocument("/p/a.ino", "int x;")

	// Server says null.
	if hover := client.Hover(context.Background(), "/p/a.ino", Position{}); hover != nil {
		t.Errorf("Hover() with null result = %+v, want nil", hover)
	}

	// Unopened document never reaches the wire.
	if hover := client.Hover(context.Background(), "/p/other.ino", Position{}); hover != nil {
		t.Errorf("Hover() on unopened document = %+v, want nil", hover)
	}

	srv.mu.Lock()
	srv.hoverRes = `{"contents":{"kind":"markdown","value":"int x"}}`
	srv.mu.Unlock()

	hover := client.Hover(context.Background(), "/p/a.ino", Position{Line: 0, Character: 4})
	if hover == nil {
		t.Fatal("Hover() = nil, want contents")
	}
	if !json.Valid(hover.Contents) {
		t.Errorf("hover contents not valid JSON: %s", hover.Contents)
	}
}

func TestClient_ResolveCompletionItemDisabled(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	item := CompletionItem{Label: "digitalWrite", Data: json.RawMessage(`{"index":7}`)}
	resolved := client.ResolveCompletionItem(context.Background(), item)

	if resolved.Label != item.Label || string(resolved.Data) != string(item.Data) {
		t.Errorf("resolve with support disabled altered the item: %+v", resolved)
	}

	// Give any stray request a moment to arrive, then check none did.
	time.Sleep(50 * time.Millisecond)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, n := range srv.notifications {
		if n.Method == "completionItem/resolve" {
			t.Error("completionItem/resolve was sent despite support disabled")
		}
	}
}

func TestClient_DisconnectClosesOpenDocuments(t *testing.T) {
	client, srv := newTestClient(t, ClientConfig{ProjectPath: "/p"})
	mustInit(t, client)

	client.OpenDocument("/p/a.ino", "x")
	client.OpenDocument("/p/b.ino", "y")

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}

	srv.waitFor("textDocument/didClose")
	if got := len(srv.received("textDocument/didClose")); got != 2 {
		t.Errorf("didClose sent %d times, want 2", got)
	}
	if client.IsInitialized() {
		t.Error("IsInitialized() = true after disconnect")
	}
	if client.IsDocumentOpen("/p/a.ino") {
		t.Error("document still tracked after disconnect")
	}

	// Disconnecting again is a no-op.
	if err := client.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error: %v", err)
	}
}

func mustInit(t *testing.T, client *Client) {
	t.Helper()
	if err := client.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for diagnostics")
	}
}
