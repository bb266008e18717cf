package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// PEM block types.
const (
	BlockCertificate  = "CERTIFICATE"
	BlockPrivateKey   = "PRIVATE KEY"
	BlockECPrivateKey = "EC PRIVATE KEY"
	BlockRSAPrivate   = "RSA PRIVATE KEY"
)

// PEM encoding/decoding errors.
var (
	ErrInvalidPEM = errors.New("invalid PEM data")
	ErrInvalidKey = errors.New("invalid private key")
	ErrEmptyPEM   = errors.New("no PEM block found")
)

// EncodeCertPEM encodes an X.509 certificate to PEM format.
func EncodeCertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  BlockCertificate,
		Bytes: cert.Raw,
	})
}

// DecodeCertPEM decodes the first PEM block of data as an X.509 certificate.
// A missing block or a block of any other type is ErrInvalidPEM.
func DecodeCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPEM, ErrEmptyPEM)
	}
	if block.Type != BlockCertificate {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidPEM, BlockCertificate, block.Type)
	}
	return x509.ParseCertificate(block.Bytes)
}

// DecodeCertChainPEM decodes every CERTIFICATE block in data, leaf first.
// At least one certificate is required and non-certificate blocks are rejected.
func DecodeCertChainPEM(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != BlockCertificate {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidPEM, BlockCertificate, block.Type)
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPEM, ErrEmptyPEM)
	}
	return chain, nil
}

// EncodeKeyPEM encodes a private key as a PKCS#8 "PRIVATE KEY" block.
func EncodeKeyPEM(key crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  BlockPrivateKey,
		Bytes: der,
	}), nil
}

// DecodeKeyPEM decodes the first PEM block of data as a private key.
// PKCS#8 is the expected encoding; SEC1 EC and PKCS#1 RSA blocks are
// accepted as well since the TLS stack handles them.
func DecodeKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPEM, ErrEmptyPEM)
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case BlockPrivateKey:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case BlockECPrivateKey:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	case BlockRSAPrivate:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected block type %s", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		return k, nil
	case *rsa.PrivateKey:
		return k, nil
	case crypto.Signer:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
	}
}

// WriteCertFile writes a certificate to a PEM file.
func WriteCertFile(path string, cert *x509.Certificate) error {
	return os.WriteFile(path, EncodeCertPEM(cert), 0644)
}

// WriteKeyFile writes a private key to a PEM file with restricted permissions.
func WriteKeyFile(path string, key crypto.PrivateKey) error {
	data, err := EncodeKeyPEM(key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
