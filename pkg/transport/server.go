package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/frisoft/lunatic/pkg/log"
	"github.com/frisoft/lunatic/pkg/wire"
)

// ErrServerExited is returned by Serve when it stops accepting connections.
var ErrServerExited = errors.New("node server exited")

// ServerConfig configures a node server.
type ServerConfig struct {
	// Dispatcher handles decoded requests. Required.
	Dispatcher Dispatcher

	// ChunkSize is the payload size of outgoing chunks (default: 64 KiB).
	ChunkSize int

	// MaxMessageSize limits incoming messages; 0 is unbounded.
	MaxMessageSize uint32

	// Logger for operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger captures protocol events (optional).
	ProtocolLogger log.Logger

	// Metrics records transport counters (optional).
	Metrics *Metrics

	// Hello, when set, is exchanged on the first stream of every
	// connection. Peers with an incompatible version or a name that does
	// not match their certificate are disconnected.
	Hello *wire.Hello

	// HelloTimeout bounds the hello exchange (default: 5s).
	HelloTimeout time.Duration
}

// Server accepts node connections and dispatches the requests arriving on
// their streams.
type Server struct {
	acceptor Acceptor
	config   ServerConfig

	conns   map[*serverConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	closing atomic.Bool
	wg      sync.WaitGroup
}

// serverConn is one accepted connection.
type serverConn struct {
	conn   Conn
	connID string
	remote string
	peer   string
}

// NewServer creates a server accepting connections from acceptor.
func NewServer(acceptor Acceptor, config ServerConfig) (*Server, error) {
	if acceptor == nil {
		return nil, fmt.Errorf("acceptor is required")
	}
	if config.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
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
	return &Server{
		acceptor: acceptor,
		config:   config,
		conns:    make(map[*serverConn]struct{}),
	}, nil
}

// Addr returns the address the server accepts on.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

// ConnectionCount returns the number of connections being served.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Serve accepts connections until the acceptor fails or ctx is cancelled.
// Every connection is served in its own goroutine. Serve never returns nil:
// the returned error always wraps ErrServerExited.
func (s *Server) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already serving", ErrServerExited)
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.config.Logger.Info("node server listening", "addr", s.acceptor.Addr())
	s.logState(log.StateEntityServer, "", "", "LISTENING", "")

	var cause error
	for {
		conn, err := s.acceptor.Accept(ctx)
		if err != nil {
			cause = err
			break
		}

		sc := &serverConn{
			conn:   conn,
			connID: uuid.New().String(),
			remote: conn.RemoteAddr().String(),
			peer:   conn.PeerName(),
		}
		s.connsMu.Lock()
		s.conns[sc] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(ctx, sc)
	}

	cancel()
	s.connsMu.RLock()
	for sc := range s.conns {
		sc.conn.Close("node server exiting")
	}
	s.connsMu.RUnlock()
	s.wg.Wait()

	s.logState(log.StateEntityServer, "", "LISTENING", "EXITED", cause.Error())
	s.config.Logger.Info("node server exited", "error", cause)
	return fmt.Errorf("%w: %w", ErrServerExited, cause)
}

// Close closes the acceptor, which ends Serve.
func (s *Server) Close() error {
	s.closing.Store(true)
	return s.acceptor.Close()
}

// handleConnection accepts streams on one connection until it closes.
func (s *Server) handleConnection(ctx context.Context, sc *serverConn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, sc)
		s.connsMu.Unlock()
	}()

	logger := s.config.Logger.With("conn_id", sc.connID, "remote", sc.remote, "peer", sc.peer)
	logger.Info("new node connection")
	s.config.Metrics.connectionOpened()
	defer s.config.Metrics.connectionClosed()
	s.logState(log.StateEntityConnection, sc.connID, "", "CONNECTED", "")

	if s.config.Hello != nil {
		peer, err := serverHello(ctx, sc.conn, sc.connID, s.config.Hello, s.config.HelloTimeout, s.streamConfig())
		if s.config.ProtocolLogger != nil {
			s.config.ProtocolLogger.Log(helloStateEvent(sc.connID, log.RoleServer, peer, err))
		}
		if err != nil {
			s.config.Metrics.streamError("hello")
			logger.Warn("refusing node connection", "error", err)
			sc.conn.Close("hello failed")
			s.logState(log.StateEntityConnection, sc.connID, "CONNECTED", "DISCONNECTED", err.Error())
			return
		}
		logger.Debug("peer hello", "name", peer.Name, "version", peer.Version)
	}

	reason := "locally closed"
	for {
		if err := sc.conn.CloseReason(); err != nil {
			reason = err.Error()
			logger.Info("connection closed", "reason", err)
			break
		}

		stream, err := sc.conn.AcceptStream(ctx)
		if err != nil {
			if errors.Is(err, ErrLocallyClosed) || ctx.Err() != nil || s.closing.Load() {
				break
			}
			logger.Debug("accept stream failed", "error", err)
			continue
		}

		s.config.Metrics.streamAccepted()
		s.wg.Add(1)
		go s.handleStream(ctx, sc, stream, logger)
	}

	s.logState(log.StateEntityConnection, sc.connID, "CONNECTED", "DISCONNECTED", reason)
}

// handleStream reads chunked messages from one stream and dispatches them.
func (s *Server) handleStream(ctx context.Context, sc *serverConn, stream Stream, logger *slog.Logger) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.config.Metrics.handlerPanic()
			logger.Error("stream handler panic", "stream_id", stream.StreamID(), "panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	logger = logger.With("stream_id", stream.StreamID())
	send, recv := newStreamPair(stream, sc.conn, sc.connID, s.streamConfig())
	defer send.Close()

	for {
		msg, err := recv.Next()
		if err != nil {
			s.endStream(sc, stream, recv, err, logger)
			return
		}
		s.config.Metrics.message(directionIn, len(msg.Payload))

		req, err := wire.DecodeRequest(msg.Payload)
		if err != nil {
			s.config.Metrics.decodeError()
			logger.Debug("discarding undecodable message", "msg_id", msg.ID, "size", len(msg.Payload), "error", err)
			s.logError(sc, stream, log.LayerWire, err, "decode request")
			continue
		}

		start := time.Now()
		s.dispatch(ctx, send, msg.ID, req, logger)
		elapsed := time.Since(start)
		s.config.Metrics.dispatched(req.Kind.String(), elapsed)

		if s.config.ProtocolLogger != nil {
			streamID := stream.StreamID()
			s.config.ProtocolLogger.Log(log.Event{
				Timestamp:    time.Now(),
				ConnectionID: sc.connID,
				Direction:    log.DirectionIn,
				Layer:        log.LayerWire,
				Category:     log.CategoryMessage,
				LocalRole:    log.RoleServer,
				RemoteAddr:   sc.remote,
				PeerName:     sc.peer,
				StreamID:     &streamID,
				Message: &log.MessageEvent{
					MessageID:      msg.ID,
					Size:           len(msg.Payload),
					Kind:           req.Kind.String(),
					Payload:        req.Summary(),
					ProcessingTime: &elapsed,
				},
			})
		}
	}
}

func (s *Server) streamConfig() streamConfig {
	return streamConfig{
		chunkSize:      s.config.ChunkSize,
		maxMessageSize: s.config.MaxMessageSize,
		protocolLogger: s.config.ProtocolLogger,
		role:           log.RoleServer,
		metrics:        s.config.Metrics,
	}
}

// dispatch calls the dispatcher, containing panics to the current message.
func (s *Server) dispatch(ctx context.Context, send *SendStream, messageID uint64, req *wire.Request, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			s.config.Metrics.handlerPanic()
			logger.Error("dispatcher panic", "msg_id", messageID, "kind", req.Kind.String(), "panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	s.config.Dispatcher.Handle(ctx, send, messageID, req)
}

// endStream logs why a stream's read loop ended.
func (s *Server) endStream(sc *serverConn, stream Stream, recv *RecvStream, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, io.EOF):
		if n := recv.Pending(); n > 0 {
			logger.Debug("stream finished with incomplete messages", "pending", n)
		}
	case errors.Is(err, ErrChunkOverflow):
		s.config.Metrics.streamError("overflow")
		logger.Warn("stream terminated", "error", err)
		s.logError(sc, stream, log.LayerTransport, err, "reassembly")
	case errors.Is(err, ErrMessageTooLarge):
		s.config.Metrics.streamError("too_large")
		logger.Warn("stream terminated", "error", err)
		s.logError(sc, stream, log.LayerTransport, err, "reassembly")
	case errors.Is(err, ErrChunkTruncated):
		s.config.Metrics.streamError("truncated")
		logger.Debug("stream truncated", "error", err)
		s.logError(sc, stream, log.LayerTransport, err, "read chunk")
	default:
		s.config.Metrics.streamError("read")
		logger.Debug("stream read failed", "error", err)
	}
}

func (s *Server) logState(entity log.StateEntity, connID, oldState, newState, reason string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (s *Server) logError(sc *serverConn, stream Stream, layer log.Layer, err error, op string) {
	if s.config.ProtocolLogger == nil {
		return
	}
	streamID := stream.StreamID()
	s.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: sc.connID,
		Direction:    log.DirectionIn,
		Layer:        layer,
		Category:     log.CategoryError,
		LocalRole:    log.RoleServer,
		RemoteAddr:   sc.remote,
		PeerName:     sc.peer,
		StreamID:     &streamID,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: op,
		},
	})
}
