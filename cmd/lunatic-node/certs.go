package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frisoft/lunatic/pkg/cert"
)

// File names inside the certificate directory.
const (
	caCertFile = "ca.pem"
	caKeyFile  = "ca-key.pem"
)

func runCerts(args []string) {
	fs := newFlagSet("certs", "<node-name>...", "Generate a development CA and node certificates")
	out := fs.String("out", ".", "Output directory")
	caName := fs.String("ca-name", "lunatic-cluster", "Common name of a newly generated CA")
	hosts := fs.String("hosts", "localhost,127.0.0.1,::1", "Comma separated extra DNS names and IPs for node certificates")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one node name required")
		fs.Usage()
		os.Exit(1)
	}

	var extra []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			extra = append(extra, h)
		}
	}

	written, err := generateCerts(*out, *caName, fs.Args(), extra)
	if err != nil {
		fatal(err)
	}
	for _, path := range written {
		fmt.Println("wrote", path)
	}
}

// generateCerts issues a certificate per node name, signed by the CA in dir.
// The CA is created when dir does not hold one yet.
func generateCerts(dir, caName string, names, hosts []string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var written []string
	ca, err := loadCA(dir)
	if errors.Is(err, os.ErrNotExist) {
		if ca, err = cert.GenerateCA(caName); err != nil {
			return nil, fmt.Errorf("generate CA: %w", err)
		}
		if err := writeKeyPair(dir, "ca", ca); err != nil {
			return nil, err
		}
		written = append(written, filepath.Join(dir, caCertFile), filepath.Join(dir, caKeyFile))
	} else if err != nil {
		return nil, err
	}

	for _, name := range names {
		kp, err := cert.IssueNodeCert(ca, name, hosts...)
		if err != nil {
			return nil, fmt.Errorf("issue certificate for %s: %w", name, err)
		}
		if err := writeKeyPair(dir, name, kp); err != nil {
			return nil, err
		}
		written = append(written, filepath.Join(dir, name+".pem"), filepath.Join(dir, name+"-key.pem"))
	}
	return written, nil
}

func loadCA(dir string) (*cert.KeyPair, error) {
	certPEM, err := os.ReadFile(filepath.Join(dir, caCertFile))
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, caKeyFile))
	if err != nil {
		return nil, err
	}

	c, err := cert.DecodeCertPEM(certPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caCertFile, err)
	}
	key, err := cert.DecodeKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", caKeyFile, err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: expected an ECDSA key, got %T", caKeyFile, key)
	}
	return &cert.KeyPair{Certificate: c, PrivateKey: ecKey}, nil
}

func writeKeyPair(dir, name string, kp *cert.KeyPair) error {
	if err := cert.WriteCertFile(filepath.Join(dir, name+".pem"), kp.Certificate); err != nil {
		return err
	}
	return cert.WriteKeyFile(filepath.Join(dir, name+"-key.pem"), kp.PrivateKey)
}
