package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Certificate validity periods.
const (
	// CAValidity is the validity period of a generated cluster CA.
	CAValidity = 10 * 365 * 24 * time.Hour

	// NodeCertValidity is the validity period of an issued node certificate.
	NodeCertValidity = 365 * 24 * time.Hour
)

// KeyPair holds a certificate and its ECDSA P-256 private key.
type KeyPair struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// CertPEM returns the certificate encoded as PEM.
func (kp *KeyPair) CertPEM() string {
	return string(EncodeCertPEM(kp.Certificate))
}

// KeyPEM returns the private key encoded as a PKCS#8 PEM block.
func (kp *KeyPair) KeyPEM() (string, error) {
	data, err := EncodeKeyPEM(kp.PrivateKey)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenerateCA creates a self-signed cluster CA.
func GenerateCA(commonName string) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"lunatic"},
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(CAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &KeyPair{Certificate: c, PrivateKey: key}, nil
}

// IssueNodeCert issues a certificate for a node, valid for both client and
// server authentication. nodeName becomes the common name and a DNS SAN so
// that peers can dial the node by name. Extra hosts may be IPs or DNS names.
func IssueNodeCert(ca *KeyPair, nodeName string, hosts ...string) (*KeyPair, error) {
	if ca == nil || ca.Certificate == nil || ca.PrivateKey == nil {
		return nil, ErrInvalidCACert
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   nodeName,
			Organization: []string{"lunatic"},
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.Add(NodeCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:    []string{nodeName},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" && h != nodeName {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	c, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &KeyPair{Certificate: c, PrivateKey: key}, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}
