package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/frisoft/lunatic/pkg/log"
	"github.com/frisoft/lunatic/pkg/wire"
)

// DefaultHelloTimeout bounds the hello exchange on a new connection.
const DefaultHelloTimeout = 5 * time.Second

// clientHello opens the first stream of conn, sends local as one frame and
// reads the peer's reply frame.
func clientHello(ctx context.Context, conn Conn, local *wire.Hello, timeout time.Duration, cfg streamConfig) (*wire.Hello, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	send, recv, err := openSession(ctx, conn, cfg)
	if err != nil {
		return nil, fmt.Errorf("hello: %w", err)
	}
	defer send.Close()
	recv.stream.SetReadDeadline(time.Now().Add(timeout))

	fs := NewFrameStream(send, recv)
	if err := writeHello(fs, local); err != nil {
		return nil, err
	}
	peer, err := readHello(fs)
	if err != nil {
		return nil, err
	}
	if err := local.Accept(peer, conn.PeerName()); err != nil {
		return peer, err
	}
	return peer, nil
}

// serverHello accepts the first stream of conn, reads the peer's hello and
// answers with local. The reply is sent even when the peer is refused so
// it learns the local version.
func serverHello(ctx context.Context, conn Conn, connID string, local *wire.Hello, timeout time.Duration, cfg streamConfig) (*wire.Hello, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("hello: accept stream: %w", err)
	}
	stream.SetReadDeadline(time.Now().Add(timeout))
	send, recv := newStreamPair(stream, conn, connID, cfg)
	defer send.Close()

	fs := NewFrameStream(send, recv)
	peer, err := readHello(fs)
	if err != nil {
		return nil, err
	}
	accepted := local.Accept(peer, conn.PeerName())
	if err := writeHello(fs, local); err != nil {
		return peer, err
	}
	return peer, accepted
}

func writeHello(fs FrameReadWriter, h *wire.Hello) error {
	data, err := wire.EncodeHello(h)
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if err := fs.WriteFrame(data); err != nil {
		return fmt.Errorf("hello: send: %w", err)
	}
	return nil
}

func readHello(fs FrameReadWriter) (*wire.Hello, error) {
	data, err := fs.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("hello: receive: %w", err)
	}
	return wire.DecodeHello(data)
}

// helloStateEvent records the outcome of a hello exchange.
func helloStateEvent(connID string, role log.Role, peer *wire.Hello, err error) log.Event {
	e := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    role,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: "CONNECTED",
			NewState: "READY",
		},
	}
	if peer != nil {
		e.PeerName = peer.Name
		e.StateChange.Reason = "version " + peer.Version
	}
	if err != nil {
		e.StateChange.NewState = "REFUSED"
		e.StateChange.Reason = err.Error()
	}
	return e
}
