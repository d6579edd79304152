package mcp

import "errors"

// Sentinel errors for connection management. Callers match with errors.Is.
var (
	// ErrUnsupportedTransport indicates a transport type this build does
	// not know how to dial.
	ErrUnsupportedTransport = errors.New("unsupported transport type")

	// ErrConnectionSetup indicates the transport dialed but the MCP
	// session could not be established.
	ErrConnectionSetup = errors.New("connection setup failed")

	// ErrResourceUnavailable indicates the pool is empty and the server's
	// circuit breaker is open, so no connection can be handed out.
	ErrResourceUnavailable = errors.New("no connection available and circuit breaker open")

	// ErrShutdown indicates the manager has been closed.
	ErrShutdown = errors.New("connection manager is shut down")

	// ErrUnknownServer indicates the server was never registered with the
	// manager.
	ErrUnknownServer = errors.New("unknown mcp server")
)
