package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the protocol client.
var (
	// ErrNotInitialized indicates the client has not completed the handshake.
	ErrNotInitialized = errors.New("lsp client not initialized")

	// ErrConnectionClosed indicates the transport was torn down while a
	// request was outstanding.
	ErrConnectionClosed = errors.New("lsp connection closed")

	// ErrInvalidResponse indicates a response the client could not decode.
	ErrInvalidResponse = errors.New("invalid response from server")
)

// RPCError is a JSON-RPC error object returned by the server. It rejects
// exactly the one request whose id it carries; the connection stays up.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
