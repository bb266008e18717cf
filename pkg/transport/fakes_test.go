package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var errPeerClosed = errors.New("closed by peer")

// pipeStream is one end of an in-memory bidirectional stream. Close ends
// the send direction only.
type pipeStream struct {
	id int64
	r  *io.PipeReader
	w  *io.PipeWriter
}

func newStreamPipe(id int64) (*pipeStream, *pipeStream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return &pipeStream{id: id, r: r1, w: w2}, &pipeStream{id: id, r: r2, w: w1}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *pipeStream) Close() error                { return s.w.Close() }
func (s *pipeStream) StreamID() int64             { return s.id }

func (s *pipeStream) SetReadDeadline(t time.Time) error {
	if !t.IsZero() && !t.After(time.Now()) {
		s.r.CloseWithError(os.ErrDeadlineExceeded)
	}
	return nil
}

// abort tears down both directions.
func (s *pipeStream) abort() {
	s.r.Close()
	s.w.Close()
}

type acceptResult struct {
	stream Stream
	err    error
}

type fakeAddr string

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn is an in-memory Conn. Streams opened on one side of a pair are
// accepted on the other.
type fakeConn struct {
	remote  net.Addr
	peer    string
	accepts chan acceptResult
	other   *fakeConn
	nextID  atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
	mu        sync.Mutex
	reason    error
	streams   []*pipeStream
}

func newFakeConn(remote, peer string) *fakeConn {
	return &fakeConn{
		remote:  fakeAddr(remote),
		peer:    peer,
		accepts: make(chan acceptResult, 16),
		closed:  make(chan struct{}),
	}
}

// newConnPair returns the dialing and accepting ends of a connection.
func newConnPair() (client, server *fakeConn) {
	client = newFakeConn("10.0.0.2:3030", "node-b")
	server = newFakeConn("10.0.0.1:40000", "node-a")
	client.other, server.other = server, client
	return client, server
}

func (c *fakeConn) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case r := <-c.accepts:
		if r.err != nil {
			return nil, r.err
		}
		return r.stream, nil
	case <-c.closed:
		return nil, c.CloseReason()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) OpenStream(ctx context.Context) (Stream, error) {
	if err := c.CloseReason(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	local, remote := newStreamPipe(c.nextID.Add(4) - 4)
	c.track(local)
	c.other.track(remote)
	select {
	case c.other.accepts <- acceptResult{stream: remote}:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) track(s *pipeStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, s)
}

func (c *fakeConn) RemoteAddr() net.Addr { return c.remote }
func (c *fakeConn) PeerName() string     { return c.peer }

func (c *fakeConn) CloseReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *fakeConn) Close(reason string) error {
	c.shutdown(fmt.Errorf("%w: %s", ErrLocallyClosed, reason))
	if c.other != nil {
		c.other.shutdown(fmt.Errorf("%w: %s", errPeerClosed, reason))
	}
	return nil
}

func (c *fakeConn) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		streams := c.streams
		c.mu.Unlock()
		for _, s := range streams {
			s.abort()
		}
		close(c.closed)
	})
}

// fakeAcceptor hands out queued connections.
type fakeAcceptor struct {
	conns     chan Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeAcceptor() *fakeAcceptor {
	return &fakeAcceptor{
		conns:  make(chan Conn, 16),
		closed: make(chan struct{}),
	}
}

func (a *fakeAcceptor) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-a.conns:
		return c, nil
	case <-a.closed:
		return nil, ErrEndpointClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *fakeAcceptor) Addr() net.Addr { return fakeAddr("10.0.0.2:3030") }

func (a *fakeAcceptor) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	return nil
}

// fakeDialer fails the first failures attempts, then connects to acceptor.
type fakeDialer struct {
	failures int
	err      error
	acceptor *fakeAcceptor

	attempts atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, addr, serverName string) (Conn, error) {
	n := int(d.attempts.Add(1))
	if n <= d.failures || d.acceptor == nil {
		return nil, d.err
	}
	client, server := newConnPair()
	d.acceptor.conns <- server
	return client, nil
}
