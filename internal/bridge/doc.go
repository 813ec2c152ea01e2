// Package bridge runs the server side of inobridge: it accepts WebSocket
// connections, spawns one language-server process per connection, and shuttles
// JSON-RPC traffic between them.
//
// Toward the browser each WebSocket text message is one unframed JSON-RPC
// message. Toward the child process the standard Content-Length stdio framing
// applies; the session re-frames in both directions using internal/framing.
//
// A Session binds the two lifetimes together: when the socket closes the
// child is killed, and when the child exits the socket is closed with an
// application close code describing why. Teardown is idempotent no matter
// which side goes first.
package bridge
