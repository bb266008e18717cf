package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/frisoft/lunatic/pkg/wire"
)

// ErrSessionBroken indicates a session whose stream state is unknown after
// an interrupted request.
var ErrSessionBroken = errors.New("session broken")

// Session runs request/response exchanges over one stream. Requests are
// numbered from 1; the response to a request travels back under its id.
// Exchanges are serialized.
type Session struct {
	conn    Conn
	send    *SendStream
	recv    *RecvStream
	metrics *Metrics

	mu     sync.Mutex
	nextID uint64
	broken error
}

// NewSession wraps an already opened stream.
func NewSession(send *SendStream, recv *RecvStream) *Session {
	return newSession(nil, send, recv, send.metrics)
}

func newSession(conn Conn, send *SendStream, recv *RecvStream, metrics *Metrics) *Session {
	return &Session{
		conn:    conn,
		send:    send,
		recv:    recv,
		metrics: metrics,
	}
}

// Request sends req and waits for its response. Cancelling ctx interrupts
// the wait and leaves the session broken.
func (s *Session) Request(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionBroken, s.broken)
	}

	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	s.nextID++
	id := s.nextID
	if err := s.send.SendMessage(id, data); err != nil {
		s.broken = err
		return nil, fmt.Errorf("send request %d: %w", id, err)
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.recv.stream.SetReadDeadline(time.Now())
		close(fired)
	})
	msg, err := s.await(id)
	if !stop() {
		// The cancellation raced the response; clear the deadline it set.
		<-fired
		s.recv.stream.SetReadDeadline(time.Time{})
	}
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		s.broken = err
		return nil, fmt.Errorf("await response %d: %w", id, err)
	}
	s.metrics.message(directionIn, len(msg.Payload))
	return wire.DecodeResponse(msg.Payload)
}

// await reads messages until the response to id arrives.
func (s *Session) await(id uint64) (*Message, error) {
	for {
		msg, err := s.recv.Next()
		if err != nil {
			return nil, err
		}
		if msg.ID != id {
			// Late response to an earlier request.
			continue
		}
		return msg, nil
	}
}

// Close finishes the stream and closes the connection if the session
// dialed it.
func (s *Session) Close() error {
	err := s.send.Close()
	if s.conn != nil {
		if cerr := s.conn.Close("session closed"); err == nil {
			err = cerr
		}
	}
	return err
}
