package transport

import (
	"time"

	"github.com/quic-go/quic-go"
)

// QUIC defaults.
const (
	// DefaultMaxIdleTimeout closes a link after this long without traffic.
	DefaultMaxIdleTimeout = 30 * time.Second

	// DefaultKeepAlivePeriod keeps idle links open between cluster nodes.
	DefaultKeepAlivePeriod = 10 * time.Second

	// DefaultHandshakeIdleTimeout bounds the handshake of a single dial attempt.
	DefaultHandshakeIdleTimeout = 5 * time.Second

	// DefaultMaxIncomingStreams is the number of concurrent inbound
	// bidirectional streams a peer may open.
	DefaultMaxIncomingStreams = 1024
)

// QUICConfig tunes the QUIC connections of an endpoint.
type QUICConfig struct {
	MaxIdleTimeout       time.Duration `yaml:"max_idle_timeout"`
	KeepAlivePeriod      time.Duration `yaml:"keep_alive_period"`
	HandshakeIdleTimeout time.Duration `yaml:"handshake_idle_timeout"`
	MaxIncomingStreams   int64         `yaml:"max_incoming_streams"`
}

// DefaultQUICConfig returns the default QUIC tuning.
func DefaultQUICConfig() QUICConfig {
	return QUICConfig{
		MaxIdleTimeout:       DefaultMaxIdleTimeout,
		KeepAlivePeriod:      DefaultKeepAlivePeriod,
		HandshakeIdleTimeout: DefaultHandshakeIdleTimeout,
		MaxIncomingStreams:   DefaultMaxIncomingStreams,
	}
}

// withDefaults fills zero fields from DefaultQUICConfig.
func (c QUICConfig) withDefaults() QUICConfig {
	d := DefaultQUICConfig()
	if c.MaxIdleTimeout == 0 {
		c.MaxIdleTimeout = d.MaxIdleTimeout
	}
	if c.KeepAlivePeriod == 0 {
		c.KeepAlivePeriod = d.KeepAlivePeriod
	}
	if c.HandshakeIdleTimeout == 0 {
		c.HandshakeIdleTimeout = d.HandshakeIdleTimeout
	}
	if c.MaxIncomingStreams == 0 {
		c.MaxIncomingStreams = d.MaxIncomingStreams
	}
	return c
}

// quicConfig builds the quic-go configuration. Node links only use
// bidirectional streams, so inbound unidirectional streams are refused.
func (c QUICConfig) quicConfig() *quic.Config {
	c = c.withDefaults()
	return &quic.Config{
		HandshakeIdleTimeout:  c.HandshakeIdleTimeout,
		MaxIdleTimeout:        c.MaxIdleTimeout,
		KeepAlivePeriod:       c.KeepAlivePeriod,
		MaxIncomingStreams:    c.MaxIncomingStreams,
		MaxIncomingUniStreams: -1,
	}
}
