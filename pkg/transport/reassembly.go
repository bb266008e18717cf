package transport

import (
	"errors"
	"fmt"
	"io"
)

// ErrChunkOverflow indicates a chunk would grow a message beyond its
// declared size.
var ErrChunkOverflow = errors.New("chunk overflows declared message size")

// maxPrealloc caps the buffer reserved up front for a new message.
const maxPrealloc = 1 << 20

// Message is a fully reassembled chunk protocol message.
type Message struct {
	ID      uint64
	Payload []byte
}

type pendingMessage struct {
	size uint32
	buf  []byte
}

// Reassembler rebuilds messages from chunks of interleaved messages on one
// stream. Chunks are appended in arrival order; the chunk id is not used.
// The size declared by the first chunk of a message is authoritative.
//
// A Reassembler is owned by a single stream reader and is not safe for
// concurrent use.
type Reassembler struct {
	maxMessageSize uint32
	pending        map[uint64]*pendingMessage
}

// NewReassembler creates a reassembler. maxMessageSize limits the declared
// size of new messages; 0 means unbounded.
func NewReassembler(maxMessageSize uint32) *Reassembler {
	return &Reassembler{
		maxMessageSize: maxMessageSize,
		pending:        make(map[uint64]*pendingMessage),
	}
}

// Check validates a chunk header against the current state before its
// payload is read.
func (r *Reassembler) Check(h ChunkHeader) error {
	if p, ok := r.pending[h.MessageID]; ok {
		if uint64(len(p.buf))+uint64(h.ChunkSize) > uint64(p.size) {
			return fmt.Errorf("%w: message %d declared %d bytes, got %d",
				ErrChunkOverflow, h.MessageID, p.size, uint64(len(p.buf))+uint64(h.ChunkSize))
		}
		return nil
	}
	if r.maxMessageSize > 0 && h.MessageSize > r.maxMessageSize {
		return fmt.Errorf("%w: message %d declared %d > %d",
			ErrMessageTooLarge, h.MessageID, h.MessageSize, r.maxMessageSize)
	}
	if h.ChunkSize > h.MessageSize {
		return fmt.Errorf("%w: message %d declared %d bytes, got %d",
			ErrChunkOverflow, h.MessageID, h.MessageSize, h.ChunkSize)
	}
	return nil
}

// Push adds a chunk. It returns the message once all of its declared bytes
// have arrived, or nil while the message is incomplete. On error the partial
// message is discarded.
func (r *Reassembler) Push(c *Chunk) (*Message, error) {
	if err := r.Check(c.ChunkHeader); err != nil {
		delete(r.pending, c.MessageID)
		return nil, err
	}

	p, ok := r.pending[c.MessageID]
	if !ok {
		p = &pendingMessage{
			size: c.MessageSize,
			buf:  make([]byte, 0, min(c.MessageSize, maxPrealloc)),
		}
		r.pending[c.MessageID] = p
	}
	p.buf = append(p.buf, c.Payload...)

	if uint32(len(p.buf)) < p.size {
		return nil, nil
	}
	delete(r.pending, c.MessageID)
	return &Message{ID: c.MessageID, Payload: p.buf}, nil
}

// Pending returns the number of incomplete messages.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// MessageReader reads chunks from a stream and yields complete messages.
type MessageReader struct {
	r       io.Reader
	asm     *Reassembler
	onChunk func(ChunkHeader)
}

// NewMessageReader creates a reader over r. maxMessageSize is passed to the
// underlying Reassembler.
func NewMessageReader(r io.Reader, maxMessageSize uint32) *MessageReader {
	return &MessageReader{
		r:   r,
		asm: NewReassembler(maxMessageSize),
	}
}

// Next reads chunks until a message completes and returns it.
//
// io.EOF means the stream ended cleanly between chunks; incomplete messages
// are dropped. ErrChunkTruncated, ErrChunkOverflow and ErrMessageTooLarge
// are terminal for the stream.
func (mr *MessageReader) Next() (*Message, error) {
	for {
		h, err := ReadChunkHeader(mr.r)
		if err != nil {
			return nil, err
		}
		if mr.onChunk != nil {
			mr.onChunk(h)
		}
		if err := mr.asm.Check(h); err != nil {
			return nil, err
		}
		payload, err := ReadChunkPayload(mr.r, h)
		if err != nil {
			return nil, err
		}
		msg, err := mr.asm.Push(&Chunk{ChunkHeader: h, Payload: payload})
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

// Pending returns the number of incomplete messages on the stream.
func (mr *MessageReader) Pending() int {
	return mr.asm.Pending()
}
