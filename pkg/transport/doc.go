// Package transport provides the node-to-node transport of the lunatic
// runtime.
//
// Nodes talk over QUIC with mutual TLS. Every node presents a certificate
// signed by the shared cluster CA; the certificate common name is the node
// name peers dial by.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   CBOR Requests / Responses    │
//	├────────────────────────────────┤
//	│   Chunks (24B header)          │
//	│   or Length-Prefix Frames (4B) │
//	├────────────────────────────────┤
//	│   QUIC bidirectional streams   │
//	├────────────────────────────────┤
//	│   TLS 1.3, mutual auth         │
//	├────────────────────────────────┤
//	│           UDP                  │
//	└────────────────────────────────┘
//
// # Chunk Protocol
//
// A message is split into chunks, each preceded by a little-endian header:
//
//	message_id   u64
//	message_size u32
//	chunk_id     u64
//	chunk_size   u32
//
// Chunks of different messages may interleave on one stream. Payloads are
// appended in arrival order; a message is complete once the declared size
// has been received. A chunk that would exceed the declared size terminates
// the stream.
//
// # Length-Prefixed Protocol
//
// The simple protocol writes each payload behind a 4-byte little-endian
// length. Zero-length frames are valid.
//
// # Hello
//
// With ServerConfig.Hello and ClientConfig.Hello set, the first stream of
// a connection carries one frame each way holding a wire.Hello. The peer
// must speak the same major protocol version and its hello name must match
// its certificate; otherwise the connection is closed.
//
// # Connections
//
// Client.TryConnect dials with a fixed backoff between attempts and fails
// with a *ConnectError once the budget is spent. Server.Serve accepts
// connections and serves every stream in its own goroutine; a failing or
// panicking stream never affects its siblings.
package transport
