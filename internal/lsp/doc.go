// Package lsp implements the editor-side language client for inobridge.
//
// The client speaks JSON-RPC 2.0 over a message transport — in production a
// WebSocket connection to the bridge, where each WebSocket text message
// carries exactly one JSON-RPC message with no Content-Length framing. The
// bridge handles stdio framing on its side; this package never sees it.
//
// # Architecture
//
// The package is organized around these components:
//
//   - Client: session-level API (initialize, document sync, feature queries)
//   - Transport: JSON-RPC correlation over a MessageTransport
//   - documentRegistry: open documents keyed by normalized path
//   - diagnosticsStore: latest published diagnostics per URI
//
// # Quick Start
//
// Create a client and initialize a session:
//
//	client := lsp.NewClient(lsp.ClientConfig{
//	    ProjectPath: "/sketches/blink",
//	}, lsp.WebSocketDialer("ws://127.0.0.1:9256/lsp?project=blink"), logger)
//
//	if err := client.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	client.OpenDocument("/sketches/blink/blink.ino", content)
//	hover := client.Hover(ctx, "/sketches/blink/blink.ino", lsp.Position{Line: 3, Character: 7})
//
// # Document Synchronization
//
// Documents are tracked by normalized path with a version counter that starts
// at 0 on open and increments once per effective change. UpdateDocument
// accepts full content, auto-opens untracked paths, and otherwise sends the
// minimal single-range delta; identical content sends nothing.
//
// # Degraded Feature Queries
//
// Hover, Completion, SignatureHelp and RenameEdits never return protocol
// errors. An unopened document, a server rejection or a timeout all yield a
// nil result, which the editor renders as the absence of information.
//
// # Thread Safety
//
// Client and Transport are safe for concurrent use. Notification handlers run
// on the transport's read goroutine in arrival order, which is what makes
// each diagnostics publish a strict replacement of the previous one.
package lsp
