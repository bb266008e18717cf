package cert

import (
	"crypto/tls"
	"fmt"
)

// ALPNProtocol is the application protocol negotiated on node links.
const ALPNProtocol = "lunatic-node/1"

// ServerTLSConfig returns the TLS configuration for accepting node
// connections. Peers must present a certificate chaining to the cluster CA.
func (id *Identity) ServerTLSConfig() *tls.Config {
	return &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		// Mutual TLS
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    id.roots,
		Certificates: []tls.Certificate{id.certificate},

		NextProtos: []string{ALPNProtocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		SessionTicketsDisabled: true,
	}
}

// ClientTLSConfig returns the TLS configuration for dialing other nodes.
// Only the cluster CA is trusted. The server name is set per dial.
func (id *Identity) ClientTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		Certificates: []tls.Certificate{id.certificate},
		RootCAs:      id.roots,

		NextProtos: []string{ALPNProtocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		SessionTicketsDisabled: true,
	}
}

// VerifyTLS13 checks that a TLS connection is using TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// VerifyALPN checks that the negotiated ALPN protocol is the node protocol.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}

// VerifyConnection performs the post-handshake checks of a node link.
func VerifyConnection(state tls.ConnectionState) error {
	if err := VerifyTLS13(state); err != nil {
		return err
	}
	return VerifyALPN(state)
}

// PeerName returns the common name of the verified peer certificate, or ""
// when the peer presented none.
func PeerName(state tls.ConnectionState) string {
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}
