package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/frisoft/lunatic/pkg/cert"
)

// Connection errors.
var (
	// ErrLocallyClosed indicates the connection was closed by this node.
	ErrLocallyClosed = errors.New("connection locally closed")

	// ErrConnectionClosed indicates an operation on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Application error codes sent when closing a connection.
const (
	CloseCodeNormal   quic.ApplicationErrorCode = 0
	CloseCodeShutdown quic.ApplicationErrorCode = 1
)

// Stream is a bidirectional byte stream of a node link.
type Stream interface {
	io.Reader
	io.Writer

	// Close closes the send direction. Reads continue until the peer
	// finishes its side.
	Close() error

	// StreamID returns the transport stream id.
	StreamID() int64

	// SetReadDeadline sets a deadline for pending and future reads.
	SetReadDeadline(t time.Time) error
}

// Conn is an authenticated connection to one peer node.
type Conn interface {
	// AcceptStream waits for the peer to open a stream. It fails with an
	// error wrapping ErrLocallyClosed once this node closed the connection.
	AcceptStream(ctx context.Context) (Stream, error)

	// OpenStream opens a new bidirectional stream.
	OpenStream(ctx context.Context) (Stream, error)

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr

	// PeerName returns the common name of the peer certificate.
	PeerName() string

	// CloseReason returns nil while the connection is open, and the reason
	// it was closed afterwards.
	CloseReason() error

	// Close closes the connection with the given reason.
	Close(reason string) error
}

// quicConn adapts a quic-go connection to Conn.
type quicConn struct {
	conn *quic.Conn
}

func newQUICConn(conn *quic.Conn) *quicConn {
	return &quicConn{conn: conn}
}

func (c *quicConn) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, translateConnError(err)
	}
	return quicStream{s}, nil
}

func (c *quicConn) OpenStream(ctx context.Context) (Stream, error) {
	if err := c.CloseReason(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, translateConnError(err)
	}
	return quicStream{s}, nil
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) PeerName() string {
	return cert.PeerName(c.conn.ConnectionState().TLS)
}

func (c *quicConn) CloseReason() error {
	ctx := c.conn.Context()
	select {
	case <-ctx.Done():
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return ErrConnectionClosed
	default:
		return nil
	}
}

func (c *quicConn) Close(reason string) error {
	return c.conn.CloseWithError(CloseCodeNormal, reason)
}

// translateConnError maps quic-go errors caused by a local close to
// ErrLocallyClosed.
func translateConnError(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && !appErr.Remote {
		return fmt.Errorf("%w: %w", ErrLocallyClosed, err)
	}
	if errors.Is(err, quic.ErrServerClosed) {
		return fmt.Errorf("%w: %w", ErrLocallyClosed, err)
	}
	return err
}

// quicStream adapts a quic-go stream to Stream.
type quicStream struct {
	*quic.Stream
}

func (s quicStream) StreamID() int64 {
	return int64(s.Stream.StreamID())
}

// Compile-time interface satisfaction checks.
var (
	_ Conn   = (*quicConn)(nil)
	_ Stream = quicStream{}
)
