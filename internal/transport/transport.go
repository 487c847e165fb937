package transport

import "context"

// Handler receives the events of one opened connection. Calls for a given
// connection are made sequentially from a single goroutine: every OnFrame
// happens before OnClose, and OnClose is called at most once.
type Handler interface {
	// OnFrame delivers one inbound text frame. It must not block.
	OnFrame(frame []byte)
	// OnClose reports that the connection ended without a local Close.
	OnClose(err error)
}

// Transport owns at most one live bidirectional connection to the server.
type Transport interface {
	// Open dials the endpoint and starts delivering events to h. It fails if
	// a connection is already open.
	Open(ctx context.Context, h Handler) error
	// Send queues one outbound frame without blocking.
	Send(frame []byte) error
	// Close releases the connection. No OnClose is delivered for it.
	Close() error
}
