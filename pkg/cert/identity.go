package cert

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
)

// Identity loading errors. Each wraps the underlying PEM or parse error so
// callers can tell which artifact was rejected.
var (
	ErrInvalidCACert     = errors.New("invalid CA certificate")
	ErrInvalidCert       = errors.New("invalid node certificate")
	ErrInvalidNodeKey    = errors.New("invalid node private key")
	ErrKeyMismatch       = errors.New("private key does not match certificate")
	ErrCertNotSignedByCA = errors.New("certificate not issued by CA")
)

// Identity is the credential material of a node: the cluster CA it trusts,
// its own certificate chain and the matching private key.
//
// An Identity is immutable once loaded and safe to share between goroutines.
type Identity struct {
	// CA is the cluster certificate authority. Peers must chain to it.
	CA *x509.Certificate

	// Chain is the local certificate chain, leaf first.
	Chain []*x509.Certificate

	// Key is the private key of the leaf certificate.
	Key crypto.Signer

	certificate tls.Certificate
	roots       *x509.CertPool
}

// LoadIdentity parses PEM-encoded CA certificate, node certificate (chain)
// and private key, and validates that they belong together.
func LoadIdentity(caPEM, certPEM, keyPEM string) (*Identity, error) {
	ca, err := DecodeCertPEM([]byte(caPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCACert, err)
	}

	chain, err := DecodeCertChainPEM([]byte(certPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCert, err)
	}

	key, err := DecodeKeyPEM([]byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNodeKey, err)
	}

	return NewIdentity(ca, chain, key)
}

// NewIdentity builds an Identity from already parsed material.
func NewIdentity(ca *x509.Certificate, chain []*x509.Certificate, key crypto.Signer) (*Identity, error) {
	if ca == nil {
		return nil, ErrInvalidCACert
	}
	if len(chain) == 0 || chain[0] == nil {
		return nil, ErrInvalidCert
	}
	if key == nil {
		return nil, ErrInvalidNodeKey
	}

	keyPEM, err := EncodeKeyPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNodeKey, err)
	}
	// X509KeyPair checks that the leaf public key matches the private key.
	certificate, err := tls.X509KeyPair(encodeChainPEM(chain), keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMismatch, err)
	}
	certificate.Leaf = chain[0]

	if err := VerifyNodeCert(chain, ca); err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)

	return &Identity{
		CA:          ca,
		Chain:       chain,
		Key:         key,
		certificate: certificate,
		roots:       roots,
	}, nil
}

// Certificate returns the TLS certificate presented to peers.
func (id *Identity) Certificate() tls.Certificate {
	return id.certificate
}

// Roots returns a pool containing only the cluster CA.
func (id *Identity) Roots() *x509.CertPool {
	return id.roots
}

// Name returns the common name of the leaf certificate.
func (id *Identity) Name() string {
	return id.Chain[0].Subject.CommonName
}

func encodeChainPEM(chain []*x509.Certificate) []byte {
	var out []byte
	for _, c := range chain {
		out = append(out, EncodeCertPEM(c)...)
	}
	return out
}
