package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Chunk protocol constants.
const (
	// ChunkHeaderSize is the encoded size of a chunk header:
	// message_id (8) + message_size (4) + chunk_id (8) + chunk_size (4).
	ChunkHeaderSize = 24

	// DefaultChunkSize is the payload size used when splitting outgoing messages.
	DefaultChunkSize = 64 * 1024
)

// Chunk errors.
var (
	// ErrChunkTruncated indicates the stream ended inside a chunk.
	ErrChunkTruncated = errors.New("chunk truncated")

	// ErrInvalidChunkSize indicates a non-positive chunk size for splitting.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)

// ChunkHeader precedes every chunk payload on the wire. All fields are
// little-endian.
type ChunkHeader struct {
	// MessageID identifies the message the chunk belongs to.
	MessageID uint64

	// MessageSize is the total payload size of the message.
	MessageSize uint32

	// ChunkID is the position of the chunk within its message. It is
	// informational: receivers reassemble in arrival order.
	ChunkID uint64

	// ChunkSize is the number of payload bytes that follow the header.
	ChunkSize uint32
}

// Chunk is a header with its payload.
type Chunk struct {
	ChunkHeader
	Payload []byte
}

// header field boundaries, used to name the field a short read stopped in.
var chunkHeaderFields = []struct {
	end  int
	name string
}{
	{8, "message_id"},
	{12, "message_size"},
	{20, "chunk_id"},
	{24, "chunk_size"},
}

func chunkHeaderField(offset int) string {
	for _, f := range chunkHeaderFields {
		if offset < f.end {
			return f.name
		}
	}
	return "chunk_size"
}

// MarshalBinary encodes the header into its 24-byte wire form.
func (h ChunkHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ChunkHeaderSize)
	h.put(buf)
	return buf, nil
}

func (h ChunkHeader) put(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.MessageID)
	binary.LittleEndian.PutUint32(buf[8:12], h.MessageSize)
	binary.LittleEndian.PutUint64(buf[12:20], h.ChunkID)
	binary.LittleEndian.PutUint32(buf[20:24], h.ChunkSize)
}

// UnmarshalBinary decodes a 24-byte header.
func (h *ChunkHeader) UnmarshalBinary(data []byte) error {
	if len(data) < ChunkHeaderSize {
		return fmt.Errorf("%w: failed to read header %s", ErrChunkTruncated, chunkHeaderField(len(data)))
	}
	h.MessageID = binary.LittleEndian.Uint64(data[0:8])
	h.MessageSize = binary.LittleEndian.Uint32(data[8:12])
	h.ChunkID = binary.LittleEndian.Uint64(data[12:20])
	h.ChunkSize = binary.LittleEndian.Uint32(data[20:24])
	return nil
}

// ReadChunkHeader reads one chunk header from r.
//
// io.EOF is returned when r ends before the first header byte, which is the
// clean end of a chunk stream. A stream ending inside the header yields
// ErrChunkTruncated.
func ReadChunkHeader(r io.Reader) (ChunkHeader, error) {
	var (
		h   ChunkHeader
		buf [ChunkHeaderSize]byte
	)
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return h, io.EOF
		}
		field := chunkHeaderField(n)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return h, fmt.Errorf("%w: failed to read header %s", ErrChunkTruncated, field)
		}
		return h, fmt.Errorf("failed to read header %s: %w", field, err)
	}
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return h, err
	}
	return h, nil
}

// ReadChunkPayload reads the payload announced by h.
func ReadChunkPayload(r io.Reader, h ChunkHeader) ([]byte, error) {
	payload := make([]byte, h.ChunkSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, fmt.Errorf("%w: failed to read chunk payload", ErrChunkTruncated)
		}
		return nil, fmt.Errorf("failed to read chunk payload: %w", err)
	}
	return payload, nil
}

// ReadChunk reads one complete chunk from r.
func ReadChunk(r io.Reader) (*Chunk, error) {
	h, err := ReadChunkHeader(r)
	if err != nil {
		return nil, err
	}
	payload, err := ReadChunkPayload(r, h)
	if err != nil {
		return nil, err
	}
	return &Chunk{ChunkHeader: h, Payload: payload}, nil
}

// WriteChunk writes one chunk to w. The header's ChunkSize is taken from the
// payload length.
func WriteChunk(w io.Writer, h ChunkHeader, payload []byte) error {
	h.ChunkSize = uint32(len(payload))
	var buf [ChunkHeaderSize]byte
	h.put(buf[:])
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write chunk header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("failed to write chunk payload: %w", err)
		}
	}
	return nil
}

// EncodeChunks splits payload into chunks of at most chunkSize bytes and
// returns the wire buffers in order: header, payload, header, payload, ...
// Payload buffers alias payload. Chunk ids count up from 0. An empty payload
// yields a single header-only chunk.
func EncodeChunks(messageID uint64, payload []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}

	n := (len(payload) + chunkSize - 1) / chunkSize
	if n == 0 {
		n = 1
	}
	bufs := make([][]byte, 0, 2*n)
	headers := make([]byte, n*ChunkHeaderSize)

	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(payload))
		part := payload[start:end]

		hdr := headers[i*ChunkHeaderSize : (i+1)*ChunkHeaderSize]
		ChunkHeader{
			MessageID:   messageID,
			MessageSize: uint32(len(payload)),
			ChunkID:     uint64(i),
			ChunkSize:   uint32(len(part)),
		}.put(hdr)

		bufs = append(bufs, hdr)
		if len(part) > 0 {
			bufs = append(bufs, part)
		}
	}
	return bufs, nil
}
