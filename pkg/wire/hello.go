package wire

import (
	"errors"
	"fmt"

	"github.com/frisoft/lunatic/pkg/version"
)

// Hello errors.
var (
	ErrMissingNodeName  = errors.New("hello without node name")
	ErrInvalidVersion   = errors.New("hello with invalid protocol version")
	ErrIncompatiblePeer = errors.New("incompatible protocol version")
	ErrPeerNameMismatch = errors.New("hello name does not match peer certificate")
)

// Hello introduces a node on the first stream of a connection. It travels
// as one length-prefixed frame in each direction.
//
// CBOR encoding:
//
//	{
//	  1: name,     // text: node name
//	  2: version   // text: "major.minor" node protocol version
//	}
type Hello struct {
	Name    string `cbor:"1,keyasint"`
	Version string `cbor:"2,keyasint"`
}

// NewHello returns the hello for a node speaking version.Current.
func NewHello(name string) *Hello {
	return &Hello{Name: name, Version: version.Current}
}

// Validate checks that the hello names a node and carries a parseable
// version.
func (h *Hello) Validate() error {
	if h.Name == "" {
		return ErrMissingNodeName
	}
	if _, err := version.Parse(h.Version); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidVersion, err)
	}
	return nil
}

// Accept checks a peer's hello against the local one. certName is the
// common name of the peer certificate; empty skips the name check.
func (h *Hello) Accept(peer *Hello, certName string) error {
	if err := peer.Validate(); err != nil {
		return err
	}
	local, err := version.Parse(h.Version)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidVersion, err)
	}
	remote, _ := version.Parse(peer.Version)
	if !local.Compatible(remote) {
		return fmt.Errorf("%w: local %s, peer %s %s", ErrIncompatiblePeer, local, peer.Name, remote)
	}
	if certName != "" && peer.Name != certName {
		return fmt.Errorf("%w: %q vs %q", ErrPeerNameMismatch, peer.Name, certName)
	}
	return nil
}

// EncodeHello validates and encodes a hello.
func EncodeHello(h *Hello) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return Marshal(h)
}

// DecodeHello decodes a peer's hello. It does not validate; see Accept.
func DecodeHello(data []byte) (*Hello, error) {
	return decode[Hello](data, "hello")
}
