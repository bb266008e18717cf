// Package wire defines the CBOR encoding of the requests and responses that
// cluster nodes exchange.
//
// Messages use CBOR (RFC 8949) with integer keys. On a node link every
// encoded message is split into chunks by the transport package and
// reassembled on the receiving side, so this package only deals with
// complete payloads.
//
// # Message Types
//
//   - Request: node to node (Spawn, Message, Link, Unlink, Kill, Lookup)
//   - Response: reply on the same stream, under the request's message id
package wire
