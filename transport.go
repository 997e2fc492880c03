package dmsconnector

import "context"

// transport is the boundary between the client facade and the wire
// (spec §6). A concrete implementation (see package wstransport) dials
// a real WebSocket; tests use an in-process fake.
type transport interface {
	// connect blocks until the connection is established and the
	// server has signalled it is ready to receive commands, or ctx is
	// done, or dialing fails.
	connect(ctx context.Context) error

	// send writes one envelope to the wire. It must be safe to call
	// concurrently with itself.
	send(ctx context.Context, envelope map[string]any) error

	// frames returns the channel of decoded incoming frames. It is
	// closed when the connection ends, for any reason.
	frames() <-chan map[string]any

	// closeErrors returns the channel the transport uses to report a
	// fatal read/connection error exactly once, before closing frames.
	closeErrors() <-chan error

	// close tears down the connection. Safe to call more than once.
	close() error
}
