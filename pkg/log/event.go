package log

import (
	"time"
)

// Event represents a protocol log event captured on a node link.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the local side accepted or dialed the link.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// PeerName is the common name of the peer certificate.
	PeerName string `cbor:"8,keyasint,omitempty"`

	// StreamID is the QUIC stream the event belongs to.
	StreamID *int64 `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Chunk       *ChunkEvent       `cbor:"10,keyasint,omitempty"` // Chunk protocol
	Frame       *FrameEvent       `cbor:"11,keyasint,omitempty"` // Length-prefixed protocol
	Message     *MessageEvent     `cbor:"12,keyasint,omitempty"` // Reassembled message
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"` // Connection/stream state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the chunk and frame layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the request encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerService is the dispatch layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates protocol data (chunk, frame or message).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side of a link the local node is.
type Role uint8

const (
	// RoleServer indicates the local node accepted the connection.
	RoleServer Role = 0
	// RoleClient indicates the local node dialed the connection.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// ChunkEvent captures one chunk header of the chunk protocol.
type ChunkEvent struct {
	MessageID   uint64 `cbor:"1,keyasint"`
	MessageSize uint32 `cbor:"2,keyasint"`
	ChunkID     uint64 `cbor:"3,keyasint"`
	ChunkSize   uint32 `cbor:"4,keyasint"`
}

// FrameEvent captures raw frame data of the length-prefixed protocol.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a reassembled message and, once decoded, its request.
type MessageEvent struct {
	// MessageID is the chunk protocol message id.
	MessageID uint64 `cbor:"1,keyasint"`

	// Size is the reassembled payload size in bytes.
	Size int `cbor:"2,keyasint"`

	// Kind is the decoded request or response kind, empty if undecodable.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Payload is a CBOR-compatible representation of the decoded message.
	Payload any `cbor:"4,keyasint,omitempty"`

	// ProcessingTime is the dispatch duration (incoming requests only).
	ProcessingTime *time.Duration `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures connection and stream lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityStream indicates a stream state change.
	StateEntityStream StateEntity = 1
	// StateEntityServer indicates a server state change.
	StateEntityServer StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityStream:
		return "STREAM"
	case StateEntityServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
