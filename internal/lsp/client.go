package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ClientConfig configures a protocol client.
type ClientConfig struct {
	// ProjectPath is the session's project root; it becomes the rootUri of
	// the initialize request.
	ProjectPath string

	// RequestTimeout bounds every request including the initialize
	// handshake. Defaults to 15 seconds.
	RequestTimeout time.Duration

	// SupportsCompletionResolve enables the completionItem/resolve round
	// trip. Off by default: the sketch toolchain's server faults on it, so
	// the client returns items unresolved instead of issuing the call.
	SupportsCompletionResolve bool
}

// Client is the editor-facing protocol client: one instance per project
// session, owning one transport connection, the open-document registry, and
// the diagnostics store for that session.
//
// Feature queries (Hover, Completion, SignatureHelp, RenameEdits) never
// propagate protocol failures: a closed document, a rejected call, or a
// timeout all surface as a nil result, which consumers render as "no
// information available".
type Client struct {
	cfg  ClientConfig
	dial Dialer
	log  *logrus.Entry

	// initMu serializes Initialize so concurrent callers cannot race a
	// second dial.
	initMu sync.Mutex

	mu          sync.Mutex
	transport   *Transport
	initialized bool

	docs  *documentRegistry
	diags *diagnosticsStore

	observerMu sync.Mutex
	onDiags    DiagnosticsObserver
	onBusy     func(busy bool)
}

// NewClient creates a client that will dial via the given Dialer on
// Initialize.
func NewClient(cfg ClientConfig, dial Dialer, log *logrus.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Client{
		cfg:   cfg,
		dial:  dial,
		log:   log.WithField("component", "lsp-client"),
		docs:  newDocumentRegistry(),
		diags: newDiagnosticsStore(),
	}
}

// OnDiagnostics registers the observer that receives published diagnostics.
// Each publish replaces the prior set for its URI.
func (c *Client) OnDiagnostics(fn DiagnosticsObserver) {
	c.observerMu.Lock()
	c.onDiags = fn
	c.observerMu.Unlock()
}

// OnBusyStateChange registers a callback fired with true when the initialize
// handshake starts and false when it settles, in both outcomes. Consumers
// use it to drive a "connecting" indicator.
func (c *Client) OnBusyStateChange(fn func(busy bool)) {
	c.observerMu.Lock()
	c.onBusy = fn
	c.observerMu.Unlock()
}

// Initialize dials the transport and performs the initialize handshake.
// Calling it on an initialized client is a no-op.
func (c *Client) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setBusy(true)
	defer c.setBusy(false)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	mt, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	transport := NewTransport(mt, c.log)
	c.registerNotificationHandlers(transport)
	transport.Start()

	pid := os.Getpid()
	params := InitializeParams{
		ProcessID:    &pid,
		RootURI:      FilePathToURI(c.cfg.ProjectPath),
		Capabilities: defaultClientCapabilities(),
	}

	var result InitializeResult
	if err := transport.Call(ctx, "initialize", params, &result); err != nil {
		transport.Close()
		return fmt.Errorf("initialize handshake: %w", err)
	}

	if err := transport.Notify("initialized", InitializedParams{}); err != nil {
		transport.Close()
		return fmt.Errorf("initialized notification: %w", err)
	}

	c.mu.Lock()
	c.transport = transport
	c.initialized = true
	c.mu.Unlock()

	// When the peer disappears underneath us, fall back to the
	// disconnected state so Initialize can be called again.
	go func() {
		<-transport.Done()
		c.handleTransportClosed(transport)
	}()

	if result.ServerInfo != nil {
		c.log.WithFields(logrus.Fields{
			"server":  result.ServerInfo.Name,
			"version": result.ServerInfo.Version,
		}).Info("language server session initialized")
	}

	return nil
}

// IsInitialized reports whether the handshake has completed and the
// transport is still up.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Disconnect closes every open document, then tears down the transport.
// Further operations are no-ops until Initialize is called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	wasInitialized := c.initialized
	c.initialized = false
	c.mu.Unlock()

	if !wasInitialized || transport == nil {
		return nil
	}

	// Close notifications are best effort: the peer may already be gone.
	for _, doc := range c.docs.all() {
		params := DidCloseTextDocumentParams{
			TextDocument: TextDocumentIdentifier{URI: doc.URI},
		}
		if err := transport.Notify("textDocument/didClose", params); err != nil {
			c.log.WithError(err).WithField("uri", doc.URI).Debug("didClose during disconnect failed")
			break
		}
	}

	c.docs.clear()
	c.diags.clear()
	return transport.Close()
}

// handleTransportClosed resets session state after an unexpected close.
// Stale notifications from an older transport are ignored.
func (c *Client) handleTransportClosed(transport *Transport) {
	c.mu.Lock()
	if c.transport != transport {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.initialized = false
	c.mu.Unlock()

	c.docs.clear()
	c.diags.clear()
	c.log.Info("language server connection closed")
}

// --- Document synchronization ---

// OpenDocument registers a document and sends textDocument/didOpen. Opening
// an already-open path is a no-op.
func (c *Client) OpenDocument(path, content string) error {
	transport, err := c.currentTransport()
	if err != nil {
		return err
	}

	doc, created := c.docs.open(path, content)
	if !created {
		return nil
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        doc.URI,
			LanguageID: doc.LanguageID,
			Version:    doc.Version,
			Text:       doc.Content,
		},
	}
	return transport.Notify("textDocument/didOpen", params)
}

// UpdateDocument synchronizes new full content for a document. An untracked
// path is opened instead; unchanged content sends nothing and leaves the
// version untouched; otherwise the minimal single-range delta goes out in
// textDocument/didChange with the incremented version.
func (c *Client) UpdateDocument(path, newContent string) error {
	transport, err := c.currentTransport()
	if err != nil {
		return err
	}

	doc, open := c.docs.get(path)
	if !open {
		// Auto-open keeps callers from having to track open state
		// themselves.
		return c.OpenDocument(path, newContent)
	}

	change, changed := computeChange(doc.Content, newContent)
	if !changed {
		return nil
	}

	updated, _ := c.docs.update(path, newContent)

	params := DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: updated.URI},
			Version:                updated.Version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{change},
	}
	return transport.Notify("textDocument/didChange", params)
}

// CloseDocument sends textDocument/didClose and forgets the document.
// Closing an unopened path is a no-op.
func (c *Client) CloseDocument(path string) error {
	transport, err := c.currentTransport()
	if err != nil {
		return err
	}

	doc, existed := c.docs.remove(path)
	if !existed {
		return nil
	}
	c.diags.publish(doc.URI, nil)

	params := DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
	}
	return transport.Notify("textDocument/didClose", params)
}

// NotifyDocumentSaved sends textDocument/didSave with the current full
// content. A no-op for unopened paths.
func (c *Client) NotifyDocumentSaved(path string) error {
	transport, err := c.currentTransport()
	if err != nil {
		return err
	}

	doc, open := c.docs.get(path)
	if !open {
		return nil
	}

	params := DidSaveTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Text:         doc.Content,
	}
	return transport.Notify("textDocument/didSave", params)
}

// IsDocumentOpen reports whether the path is in the registry.
func (c *Client) IsDocumentOpen(path string) bool {
	return c.docs.isOpen(path)
}

// DocumentVersion returns the current version counter for an open document.
func (c *Client) DocumentVersion(path string) (int, bool) {
	doc, open := c.docs.get(path)
	if !open {
		return 0, false
	}
	return doc.Version, true
}

// Diagnostics returns the latest published diagnostics for a path.
func (c *Client) Diagnostics(path string) []Diagnostic {
	return c.diags.get(FilePathToURI(path))
}

// --- Feature queries ---

// Hover returns hover information at a position, or nil when the document
// is not open or the server has nothing to say.
func (c *Client) Hover(ctx context.Context, path string, pos Position) *Hover {
	params := c.positionParams(path, pos)
	if params == nil {
		return nil
	}

	var result *Hover
	if !c.featureCall(ctx, "textDocument/hover", params, &result) {
		return nil
	}
	return result
}

// Completion returns completion suggestions at a position, or nil.
func (c *Client) Completion(ctx context.Context, path string, pos Position) *CompletionList {
	doc, open := c.docs.get(path)
	if !open {
		return nil
	}

	params := CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: doc.URI},
			Position:     pos,
		},
		Context: &CompletionContext{TriggerKind: CompletionTriggerKindInvoked},
	}

	var raw json.RawMessage
	if !c.featureCall(ctx, "textDocument/completion", &params, &raw) {
		return nil
	}

	list, err := ParseCompletionResult(raw)
	if err != nil {
		c.log.WithError(err).Debug("completion result unparseable")
		return nil
	}
	return list
}

// SignatureHelp returns signature help at a position, or nil.
func (c *Client) SignatureHelp(ctx context.Context, path string, pos Position) *SignatureHelp {
	params := c.positionParams(path, pos)
	if params == nil {
		return nil
	}

	var result *SignatureHelp
	if !c.featureCall(ctx, "textDocument/signatureHelp", params, &result) {
		return nil
	}
	return result
}

// RenameEdits returns the workspace edit for renaming the symbol at a
// position, or nil.
func (c *Client) RenameEdits(ctx context.Context, path string, pos Position, newName string) *WorkspaceEdit {
	doc, open := c.docs.get(path)
	if !open {
		return nil
	}

	params := RenameParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: doc.URI},
			Position:     pos,
		},
		NewName: newName,
	}

	var result *WorkspaceEdit
	if !c.featureCall(ctx, "textDocument/rename", &params, &result) {
		return nil
	}
	return result
}

// ResolveCompletionItem fills in lazy completion-item fields. When the
// server does not support resolution the input item comes back unchanged;
// issuing the call anyway would fault the server.
func (c *Client) ResolveCompletionItem(ctx context.Context, item CompletionItem) CompletionItem {
	if !c.cfg.SupportsCompletionResolve {
		return item
	}

	var resolved CompletionItem
	if !c.featureCall(ctx, "completionItem/resolve", item, &resolved) {
		return item
	}
	return resolved
}

// --- Internals ---

// positionParams builds the common feature-query payload, or nil when the
// document is not open.
func (c *Client) positionParams(path string, pos Position) *TextDocumentPositionParams {
	doc, open := c.docs.get(path)
	if !open {
		return nil
	}
	return &TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: doc.URI},
		Position:     pos,
	}
}

// featureCall runs one request/response round trip with the downgrade
// policy applied: any failure is logged at debug and reported as false so
// the caller returns nil to its consumer.
func (c *Client) featureCall(ctx context.Context, method string, params, result any) bool {
	transport, err := c.currentTransport()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := transport.Call(ctx, method, params, result); err != nil {
		c.log.WithError(err).WithField("method", method).Debug("feature query degraded to empty result")
		return false
	}
	return true
}

// currentTransport returns the live transport or ErrNotInitialized.
func (c *Client) currentTransport() (*Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized || c.transport == nil {
		return nil, ErrNotInitialized
	}
	return c.transport, nil
}

func (c *Client) registerNotificationHandlers(transport *Transport) {
	transport.OnNotification("textDocument/publishDiagnostics", func(_ string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.log.WithError(err).Debug("undecodable diagnostics notification")
			return
		}

		c.diags.publish(p.URI, p.Diagnostics)

		c.observerMu.Lock()
		observer := c.onDiags
		c.observerMu.Unlock()
		if observer != nil {
			observer(p.URI, p.Diagnostics)
		}
	})

	// Everything else is logged by the transport's fallthrough path.
	transport.OnNotification("window/logMessage", func(_ string, _ json.RawMessage) {})
	transport.OnNotification("window/showMessage", func(_ string, _ json.RawMessage) {})
}

func (c *Client) setBusy(busy bool) {
	c.observerMu.Lock()
	fn := c.onBusy
	c.observerMu.Unlock()
	if fn != nil {
		fn(busy)
	}
}

// defaultClientCapabilities is the capability set advertised at initialize.
func defaultClientCapabilities() ClientCapabilities {
	return ClientCapabilities{
		TextDocument: TextDocumentClientCapabilities{
			Synchronization: SynchronizationCapabilities{DidSave: true},
			Hover:           HoverCapabilities{ContentFormat: []string{"markdown", "plaintext"}},
			Completion: CompletionCapabilities{
				CompletionItem: CompletionItemCapabilities{SnippetSupport: false},
			},
			PublishDiags: PublishDiagsCapabilities{RelatedInformation: true},
		},
	}
}
