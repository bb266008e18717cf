package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/frisoft/lunatic/pkg/log"
)

const (
	directionIn  = "in"
	directionOut = "out"
)

// streamConfig carries per-stream settings shared by clients and servers.
type streamConfig struct {
	chunkSize      int
	maxMessageSize uint32
	protocolLogger log.Logger
	role           log.Role
	metrics        *Metrics
}

func defaultStreamConfig() streamConfig {
	return streamConfig{chunkSize: DefaultChunkSize}
}

// SendStream is the writing half of a node stream. Writes are serialized,
// so one SendStream may be shared by several goroutines.
type SendStream struct {
	stream    Stream
	chunkSize int
	frames    *FrameWriter
	mu        sync.Mutex

	logger     log.Logger
	connID     string
	role       log.Role
	remoteAddr string
	peerName   string
	metrics    *Metrics
}

// RecvStream is the reading half of a node stream. A stream carries either
// chunked messages (Next) or length-prefixed frames (Receive), not both.
type RecvStream struct {
	stream   Stream
	messages *MessageReader
	frames   *FrameReader
}

// newStreamPair splits s into its send and receive halves.
func newStreamPair(s Stream, conn Conn, connID string, cfg streamConfig) (*SendStream, *RecvStream) {
	if cfg.chunkSize <= 0 {
		cfg.chunkSize = DefaultChunkSize
	}

	send := &SendStream{
		stream:    s,
		chunkSize: cfg.chunkSize,
		frames:    NewFrameWriterWithMaxSize(s, cfg.maxMessageSize),
		logger:    cfg.protocolLogger,
		connID:    connID,
		role:      cfg.role,
		metrics:   cfg.metrics,
	}
	recv := &RecvStream{
		stream:   s,
		messages: NewMessageReader(s, cfg.maxMessageSize),
		frames:   NewFrameReaderWithMaxSize(s, cfg.maxMessageSize),
	}
	if conn != nil {
		send.remoteAddr = conn.RemoteAddr().String()
		send.peerName = conn.PeerName()
	}

	if cfg.protocolLogger != nil {
		send.frames.SetLogger(cfg.protocolLogger, connID)
		recv.frames.SetLogger(cfg.protocolLogger, connID)
	}
	streamID := s.StreamID()
	recv.messages.onChunk = func(h ChunkHeader) {
		cfg.metrics.chunk(directionIn, 1)
		if cfg.protocolLogger == nil {
			return
		}
		cfg.protocolLogger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			LocalRole:    cfg.role,
			RemoteAddr:   send.remoteAddr,
			PeerName:     send.peerName,
			StreamID:     &streamID,
			Chunk: &log.ChunkEvent{
				MessageID:   h.MessageID,
				MessageSize: h.MessageSize,
				ChunkID:     h.ChunkID,
				ChunkSize:   h.ChunkSize,
			},
		})
	}
	return send, recv
}

// StreamID returns the transport stream id.
func (s *SendStream) StreamID() int64 {
	return s.stream.StreamID()
}

// Send writes raw buffers to the stream in order, as one unit with respect
// to other writers.
func (s *SendStream) Send(bufs ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		if _, err := s.stream.Write(b); err != nil {
			return fmt.Errorf("stream write: %w", err)
		}
	}
	return nil
}

// SendMessage splits payload into chunks and writes them under messageID.
func (s *SendStream) SendMessage(messageID uint64, payload []byte) error {
	bufs, err := EncodeChunks(messageID, payload, s.chunkSize)
	if err != nil {
		return err
	}
	if err := s.Send(bufs...); err != nil {
		return err
	}

	nChunks := max(1, (len(payload)+s.chunkSize-1)/s.chunkSize)
	s.metrics.chunk(directionOut, nChunks)
	s.metrics.message(directionOut, len(payload))

	if s.logger != nil {
		streamID := s.StreamID()
		s.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: s.connID,
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			LocalRole:    s.role,
			RemoteAddr:   s.remoteAddr,
			PeerName:     s.peerName,
			StreamID:     &streamID,
			Message: &log.MessageEvent{
				MessageID: messageID,
				Size:      len(payload),
			},
		})
	}
	return nil
}

// SendFrame writes data as one length-prefixed frame.
func (s *SendStream) SendFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames.WriteFrame(data)
}

// Close finishes the send direction of the stream.
func (s *SendStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Close()
}

// StreamID returns the transport stream id.
func (r *RecvStream) StreamID() int64 {
	return r.stream.StreamID()
}

// Next returns the next complete chunked message.
func (r *RecvStream) Next() (*Message, error) {
	return r.messages.Next()
}

// Receive returns the payload of the next length-prefixed frame.
func (r *RecvStream) Receive() ([]byte, error) {
	return r.frames.ReadFrame()
}

// Pending returns the number of partially received chunked messages.
func (r *RecvStream) Pending() int {
	return r.messages.Pending()
}
