// Package discovery finds lunatic nodes on the local network with
// mDNS/DNS-SD.
//
// Nodes advertise the service type _lunatic-node._udp. The instance name is
// the node name, which is also the common name of the node certificate, so
// a browsed entry carries everything needed to dial the node.
//
// TXT records:
//
//	name  node name (required)
//	ver   node protocol version
//	alpn  application protocol (optional)
//
// Discovery only produces candidate addresses; peers are still
// authenticated by mutual TLS when the connection is made.
package discovery
