package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/frisoft/lunatic/pkg/cert"
	"github.com/frisoft/lunatic/pkg/transport"
)

// Defaults.
const (
	DefaultListen  = "[::]:3030"
	DefaultRetries = 5

	MinChunkSize = 512
	MaxChunkSize = 16 << 20
)

// Validation errors.
var (
	ErrMissingName    = errors.New("node name is required")
	ErrMissingListen  = errors.New("listen address is required")
	ErrMissingTLS     = errors.New("tls ca, cert and key files are required")
	ErrInvalidRetries = errors.New("retries must be positive")
	ErrInvalidChunk   = errors.New("chunk size out of range")
	ErrInvalidPeer    = errors.New("invalid peer")
)

// NodeConfig is the configuration of one node.
type NodeConfig struct {
	// Name is the node name. It must match the common name of the node
	// certificate, since peers dial it as the TLS server name.
	Name string `yaml:"name"`

	// Listen is the UDP address the node server binds.
	Listen string `yaml:"listen"`

	TLS TLSFiles `yaml:"tls"`

	// Retries is the connection attempt budget for outgoing links.
	Retries int `yaml:"retries"`

	// RetryBackoff is the fixed pause between connection attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// ChunkSize is the payload size of outgoing chunks.
	ChunkSize int `yaml:"chunk_size"`

	// MaxMessageSize limits incoming messages. 0 is unbounded.
	MaxMessageSize uint32 `yaml:"max_message_size"`

	QUIC transport.QUICConfig `yaml:"quic"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `yaml:"metrics_addr"`

	// MDNS advertises the node on the local network.
	MDNS bool `yaml:"mdns"`

	// ProtocolLog captures protocol events to this file when set.
	ProtocolLog string `yaml:"protocol_log"`

	// Peers are the statically known cluster members.
	Peers []Peer `yaml:"peers"`
}

// TLSFiles names the PEM files of the node identity.
type TLSFiles struct {
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// Peer is a statically configured cluster member.
type Peer struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// LoadError reports a configuration file that could not be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Default returns a configuration with every optional field set.
func Default() *NodeConfig {
	return &NodeConfig{
		Listen:       DefaultListen,
		Retries:      DefaultRetries,
		RetryBackoff: transport.DefaultRetryBackoff,
		ChunkSize:    transport.DefaultChunkSize,
		QUIC:         transport.DefaultQUICConfig(),
	}
}

// Parse decodes a configuration over Default and validates it.
// Unknown fields are rejected.
func Parse(data []byte) (*NodeConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or out of range values.
func (c *NodeConfig) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.Listen == "" {
		return ErrMissingListen
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen address %q: %w", c.Listen, err)
	}
	if c.TLS.CA == "" || c.TLS.Cert == "" || c.TLS.Key == "" {
		return ErrMissingTLS
	}
	if c.Retries <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRetries, c.Retries)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative: %s", c.RetryBackoff)
	}
	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: %d (allowed %d..%d)", ErrInvalidChunk, c.ChunkSize, MinChunkSize, MaxChunkSize)
	}
	if c.MaxMessageSize != 0 && c.MaxMessageSize < uint32(c.ChunkSize) {
		return fmt.Errorf("max message size %d below chunk size %d", c.MaxMessageSize, c.ChunkSize)
	}
	seen := make(map[string]bool, len(c.Peers))
	for i, p := range c.Peers {
		if p.Name == "" || p.Addr == "" {
			return fmt.Errorf("%w %d: name and addr are required", ErrInvalidPeer, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w %d: duplicate name %q", ErrInvalidPeer, i, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Peer returns the statically configured peer with the given name.
func (c *NodeConfig) Peer(name string) (Peer, bool) {
	for _, p := range c.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return Peer{}, false
}

// LoadIdentity reads the PEM files and builds the node identity.
func (c *NodeConfig) LoadIdentity() (*cert.Identity, error) {
	read := func(path string) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		return string(data), nil
	}
	caPEM, err := read(c.TLS.CA)
	if err != nil {
		return nil, err
	}
	certPEM, err := read(c.TLS.Cert)
	if err != nil {
		return nil, err
	}
	keyPEM, err := read(c.TLS.Key)
	if err != nil {
		return nil, err
	}
	return cert.LoadIdentity(caPEM, certPEM, keyPEM)
}

// ClientConfig returns the transport client settings.
func (c *NodeConfig) ClientConfig() transport.ClientConfig {
	return transport.ClientConfig{
		RetryBackoff:   c.RetryBackoff,
		ChunkSize:      c.ChunkSize,
		MaxMessageSize: c.MaxMessageSize,
	}
}
