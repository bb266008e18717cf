package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"

	"github.com/frisoft/lunatic/pkg/cert"
)

// Endpoint errors.
var (
	// ErrNotServer indicates Accept on a client endpoint.
	ErrNotServer = errors.New("endpoint does not accept connections")

	// ErrEndpointClosed indicates use of a closed endpoint.
	ErrEndpointClosed = errors.New("endpoint closed")
)

// Dialer establishes authenticated connections to peer nodes.
// Implemented by Endpoint.
type Dialer interface {
	Dial(ctx context.Context, addr, serverName string) (Conn, error)
}

// Acceptor yields inbound authenticated connections.
// Implemented by server endpoints.
type Acceptor interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Endpoint is one UDP socket driving QUIC connections. A client endpoint
// only dials; a server endpoint only accepts.
type Endpoint struct {
	udp       net.PacketConn
	transport *quic.Transport
	listener  *quic.Listener
	tlsConf   *tls.Config
	quicConf  *quic.Config

	closeOnce sync.Once
	closeErr  error
}

// NewClientEndpoint binds an ephemeral UDP port on all interfaces and
// configures it to dial peers with the identity's client credentials.
func NewClientEndpoint(id *cert.Identity, cfg QUICConfig) (*Endpoint, error) {
	if id == nil {
		return nil, fmt.Errorf("identity is required")
	}
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv6unspecified})
	if err != nil {
		// Hosts without IPv6 support.
		udp, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
		if err != nil {
			return nil, fmt.Errorf("failed to bind client endpoint: %w", err)
		}
	}
	return &Endpoint{
		udp:       udp,
		transport: &quic.Transport{Conn: udp},
		tlsConf:   id.ClientTLSConfig(),
		quicConf:  cfg.quicConfig(),
	}, nil
}

// NewServerEndpoint binds addr and starts listening for peers presenting a
// certificate issued by the identity's CA.
func NewServerEndpoint(addr string, id *cert.Identity, cfg QUICConfig) (*Endpoint, error) {
	if id == nil {
		return nil, fmt.Errorf("identity is required")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	e := &Endpoint{
		udp:       udp,
		transport: &quic.Transport{Conn: udp},
		tlsConf:   id.ServerTLSConfig(),
		quicConf:  cfg.quicConfig(),
	}
	e.listener, err = e.transport.Listen(e.tlsConf, e.quicConf)
	if err != nil {
		udp.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return e, nil
}

// Dial connects to the node at addr and completes the handshake. serverName
// must match a name in the peer's certificate.
func (e *Endpoint) Dial(ctx context.Context, addr, serverName string) (Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	tlsConf := e.tlsConf.Clone()
	tlsConf.ServerName = serverName

	conn, err := e.transport.Dial(ctx, udpAddr, tlsConf, e.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := cert.VerifyConnection(conn.ConnectionState().TLS); err != nil {
		conn.CloseWithError(CloseCodeNormal, "connection verification failed")
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}
	return newQUICConn(conn), nil
}

// Accept waits for the next inbound connection with a completed handshake.
func (e *Endpoint) Accept(ctx context.Context) (Conn, error) {
	if e.listener == nil {
		return nil, ErrNotServer
	}
	conn, err := e.listener.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, fmt.Errorf("%w: %w", ErrEndpointClosed, err)
		}
		return nil, err
	}
	return newQUICConn(conn), nil
}

// Addr returns the bound local address.
func (e *Endpoint) Addr() net.Addr {
	return e.udp.LocalAddr()
}

// Close stops the listener, closes all connections and releases the socket.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		if e.listener != nil {
			e.listener.Close()
		}
		if err := e.transport.Close(); err != nil {
			e.closeErr = err
		}
		if err := e.udp.Close(); err != nil && e.closeErr == nil {
			e.closeErr = err
		}
	})
	return e.closeErr
}

// Compile-time interface satisfaction checks.
var (
	_ Dialer   = (*Endpoint)(nil)
	_ Acceptor = (*Endpoint)(nil)
)
