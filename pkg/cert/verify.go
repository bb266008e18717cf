package cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
)

// VerifyNodeCert verifies that a node certificate chain (leaf first) was
// issued by the cluster CA and is currently valid.
func VerifyNodeCert(chain []*x509.Certificate, ca *x509.Certificate) error {
	if len(chain) == 0 || chain[0] == nil {
		return ErrInvalidCert
	}
	if ca == nil {
		return ErrInvalidCACert
	}
	leaf := chain[0]

	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(leaf.NotAfter) {
		return ErrCertExpired
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrCertNotSignedByCA, err)
	}
	return nil
}

// CertificateInfo extracts human-readable information from a certificate.
type CertificateInfo struct {
	CommonName string
	DNSNames   []string
	Issuer     string
	NotBefore  time.Time
	NotAfter   time.Time
	IsCA       bool
}

// GetCertificateInfo extracts information from a certificate.
func GetCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}

	return &CertificateInfo{
		CommonName: cert.Subject.CommonName,
		DNSNames:   cert.DNSNames,
		Issuer:     cert.Issuer.CommonName,
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		IsCA:       cert.IsCA,
	}
}
