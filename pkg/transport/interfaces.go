package transport

import (
	"context"
	"net"
)

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by SendStream and RecvStream together.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// NodeServer accepts and serves node connections.
// Implemented by Server.
type NodeServer interface {
	// Serve accepts connections until the acceptor fails or ctx ends.
	Serve(ctx context.Context) error

	// Close stops accepting connections.
	Close() error

	// Addr returns the listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of connections being served.
	ConnectionCount() int
}

// frameStream joins the two halves of a stream into a FrameReadWriter.
type frameStream struct {
	send *SendStream
	recv *RecvStream
}

// NewFrameStream returns a FrameReadWriter over a stream's halves.
func NewFrameStream(send *SendStream, recv *RecvStream) FrameReadWriter {
	return frameStream{send: send, recv: recv}
}

func (f frameStream) ReadFrame() ([]byte, error) { return f.recv.Receive() }

func (f frameStream) WriteFrame(data []byte) error { return f.send.SendFrame(data) }

// Compile-time interface satisfaction checks.
var (
	_ NodeServer      = (*Server)(nil)
	_ FrameReadWriter = frameStream{}
	_ Dispatcher      = DispatcherFunc(nil)
)
