package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of lunatic nodes.
	ServiceType = "_lunatic-node._udp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is the default node port.
	DefaultPort = 3030
)

// TXT record keys.
const (
	TXTKeyName    = "name" // Node name (certificate common name)
	TXTKeyVersion = "ver"  // Node protocol version
	TXTKeyALPN    = "alpn" // Negotiated application protocol (optional)
)

// Timing constants.
const (
	// DefaultTTL is the record TTL of advertisements.
	DefaultTTL = 120 * time.Second

	// BrowseTimeout is the default timeout for FindNode.
	BrowseTimeout = 10 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// NodeInfo is what a node advertises about itself.
type NodeInfo struct {
	// Name is the node name peers dial by.
	Name string

	// Port is the UDP port the node listens on.
	Port uint16

	// Version is the node protocol version.
	Version string

	// ALPN is the application protocol the node negotiates (optional).
	ALPN string
}

// Validate checks the fields required for advertising.
func (n *NodeInfo) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}
	return ValidateInstanceName(n.Name)
}

// NodeService is a node found on the local network.
type NodeService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Name    string
	Version string
	ALPN    string
}

// Addr returns the first known address of the node in host:port form, or
// "" when no address has been resolved.
func (s *NodeService) Addr() string {
	if len(s.Addresses) == 0 {
		return ""
	}
	return net.JoinHostPort(s.Addresses[0], strconv.Itoa(int(s.Port)))
}
