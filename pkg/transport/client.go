package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frisoft/lunatic/pkg/log"
	"github.com/frisoft/lunatic/pkg/wire"
)

// DefaultRetryBackoff is the pause between connection attempts.
const DefaultRetryBackoff = 2 * time.Second

// ErrConnectFailed indicates all connection attempts to a node failed.
var ErrConnectFailed = errors.New("failed to connect")

// ConnectError reports an exhausted connection retry budget.
type ConnectError struct {
	Name     string
	Addr     string
	Attempts int

	// Last is the error of the final attempt, nil if none was made.
	Last error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s at %s", e.Name, e.Addr)
}

// Unwrap exposes ErrConnectFailed and the last attempt's error.
func (e *ConnectError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrConnectFailed}
	}
	return []error{ErrConnectFailed, e.Last}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// RetryBackoff is the fixed pause between attempts (default: 2s).
	RetryBackoff time.Duration

	// ChunkSize is the payload size of outgoing chunks (default: 64 KiB).
	ChunkSize int

	// MaxMessageSize limits incoming messages and frames; 0 is unbounded.
	MaxMessageSize uint32

	// Logger for operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger

	// Metrics records transport counters (optional).
	Metrics *Metrics

	// Hello, when set, is exchanged on the first stream of every dialed
	// connection. A refused hello ends the retry loop.
	Hello *wire.Hello

	// HelloTimeout bounds the hello exchange (default: 5s).
	HelloTimeout time.Duration
}

// Client connects to peer nodes with bounded retries.
type Client struct {
	dialer Dialer
	config ClientConfig

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client that dials through dialer.
func NewClient(dialer Dialer, config ClientConfig) *Client {
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.HelloTimeout <= 0 {
		config.HelloTimeout = DefaultHelloTimeout
	}
	return &Client{
		dialer: dialer,
		config: config,
		sleep:  sleepContext,
	}
}

// TryConnect dials the node name at addr, making up to retries attempts
// separated by the retry backoff. After the last failure it returns a
// *ConnectError wrapping ErrConnectFailed.
func (c *Client) TryConnect(ctx context.Context, addr, name string, retries int) (Conn, error) {
	var conn Conn
	err := c.retry(ctx, addr, name, retries, func() error {
		var err error
		conn, err = c.dial(ctx, addr, name)
		return err
	})
	return conn, err
}

// OpenSession opens a bidirectional stream on conn.
func (c *Client) OpenSession(ctx context.Context, conn Conn) (*SendStream, *RecvStream, error) {
	return openSession(ctx, conn, c.streamConfig())
}

// Connect dials the node and opens a stream as one unit: a failure of
// either step consumes one attempt of the retry budget.
func (c *Client) Connect(ctx context.Context, addr, name string, retries int) (*SendStream, *RecvStream, error) {
	var (
		send *SendStream
		recv *RecvStream
	)
	err := c.retry(ctx, addr, name, retries, func() error {
		conn, err := c.dial(ctx, addr, name)
		if err != nil {
			return err
		}
		send, recv, err = c.OpenSession(ctx, conn)
		if err != nil {
			conn.Close("open stream failed")
			return err
		}
		return nil
	})
	return send, recv, err
}

// Session connects to the node and returns a request/response session over
// a single stream.
func (c *Client) Session(ctx context.Context, addr, name string, retries int) (*Session, error) {
	var session *Session
	err := c.retry(ctx, addr, name, retries, func() error {
		conn, err := c.dial(ctx, addr, name)
		if err != nil {
			return err
		}
		send, recv, err := c.OpenSession(ctx, conn)
		if err != nil {
			conn.Close("open stream failed")
			return err
		}
		session = newSession(conn, send, recv, c.config.Metrics)
		return nil
	})
	return session, err
}

// dial connects to the node and runs the hello exchange if configured.
func (c *Client) dial(ctx context.Context, addr, name string) (Conn, error) {
	conn, err := c.dialer.Dial(ctx, addr, name)
	if err != nil || c.config.Hello == nil {
		return conn, err
	}

	cfg := c.streamConfig()
	peer, err := clientHello(ctx, conn, c.config.Hello, c.config.HelloTimeout, cfg)
	if c.config.ProtocolLogger != nil {
		c.config.ProtocolLogger.Log(helloStateEvent("", log.RoleClient, peer, err))
	}
	if err != nil {
		conn.Close("hello failed")
		return nil, err
	}
	c.config.Logger.Debug("peer hello", "name", peer.Name, "version", peer.Version)
	return conn, nil
}

// refused reports errors that retrying cannot fix.
func refused(err error) bool {
	return errors.Is(err, wire.ErrIncompatiblePeer) || errors.Is(err, wire.ErrPeerNameMismatch)
}

func (c *Client) retry(ctx context.Context, addr, name string, retries int, attempt func() error) error {
	var last error
	for n := 1; n <= retries; n++ {
		last = attempt()
		if last == nil {
			c.config.Metrics.connectAttempt(true)
			c.config.Logger.Debug("connected to node", "name", name, "addr", addr, "attempt", n)
			return nil
		}
		c.config.Metrics.connectAttempt(false)
		c.config.Logger.Error(fmt.Sprintf("error connecting to %s at %s, try %d", name, addr, n),
			"error", last)

		if n == retries {
			break
		}
		if refused(last) {
			return &ConnectError{Name: name, Addr: addr, Attempts: n, Last: last}
		}
		if err := c.sleep(ctx, c.config.RetryBackoff); err != nil {
			return &ConnectError{Name: name, Addr: addr, Attempts: n, Last: err}
		}
	}
	return &ConnectError{Name: name, Addr: addr, Attempts: max(retries, 0), Last: last}
}

func (c *Client) streamConfig() streamConfig {
	return streamConfig{
		chunkSize:      c.config.ChunkSize,
		maxMessageSize: c.config.MaxMessageSize,
		protocolLogger: c.config.ProtocolLogger,
		role:           log.RoleClient,
		metrics:        c.config.Metrics,
	}
}

// OpenSession opens a bidirectional stream on conn with default settings.
func OpenSession(ctx context.Context, conn Conn) (*SendStream, *RecvStream, error) {
	return openSession(ctx, conn, defaultStreamConfig())
}

func openSession(ctx context.Context, conn Conn, cfg streamConfig) (*SendStream, *RecvStream, error) {
	if reason := conn.CloseReason(); reason != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectionClosed, reason)
	}
	s, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open stream: %w", err)
	}
	send, recv := newStreamPair(s, conn, uuid.New().String(), cfg)
	return send, recv, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
