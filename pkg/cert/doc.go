// Package cert loads and issues the credential material used to authenticate
// cluster nodes to each other.
//
// Every node holds an Identity: the cluster CA certificate, its own
// certificate chain and the private key of the leaf. Both sides of a node
// link present their certificate and verify the peer against the CA, so a
// connection only exists between members of the same cluster.
//
// PEM input is parsed defensively. A missing block, a block of the wrong type
// or a certificate that does not chain to the CA is reported as an error that
// names the rejected artifact (ErrInvalidCACert, ErrInvalidCert,
// ErrInvalidNodeKey) instead of failing later during the handshake.
package cert
