package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frisoft/lunatic/pkg/cert"
	"github.com/frisoft/lunatic/pkg/transport"
)

const minimal = `
name: node-a
tls:
  ca: ca.pem
  cert: node.pem
  key: node-key.pem
`

func TestParseMinimalKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Name)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultRetries, cfg.Retries)
	assert.Equal(t, transport.DefaultRetryBackoff, cfg.RetryBackoff)
	assert.Equal(t, transport.DefaultChunkSize, cfg.ChunkSize)
	assert.Zero(t, cfg.MaxMessageSize)
	assert.Equal(t, transport.DefaultQUICConfig(), cfg.QUIC)
	assert.False(t, cfg.MDNS)
}

func TestParseFull(t *testing.T) {
	data := `
name: node-b
listen: 127.0.0.1:4000
tls:
  ca: /etc/lunatic/ca.pem
  cert: /etc/lunatic/node-b.pem
  key: /etc/lunatic/node-b-key.pem
retries: 3
retry_backoff: 500ms
chunk_size: 4096
max_message_size: 1048576
quic:
  max_idle_timeout: 1m
  keep_alive_period: 15s
  handshake_idle_timeout: 3s
  max_incoming_streams: 64
metrics_addr: ":9090"
mdns: true
protocol_log: node-b.nlog
peers:
  - name: node-a
    addr: 127.0.0.1:3030
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.Listen)
	assert.Equal(t, "/etc/lunatic/node-b-key.pem", cfg.TLS.Key)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.Equal(t, uint32(1<<20), cfg.MaxMessageSize)
	assert.Equal(t, transport.QUICConfig{
		MaxIdleTimeout:       time.Minute,
		KeepAlivePeriod:      15 * time.Second,
		HandshakeIdleTimeout: 3 * time.Second,
		MaxIncomingStreams:   64,
	}, cfg.QUIC)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.True(t, cfg.MDNS)
	assert.Equal(t, "node-b.nlog", cfg.ProtocolLog)

	peer, ok := cfg.Peer("node-a")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:3030", peer.Addr)
	_, ok = cfg.Peer("node-c")
	assert.False(t, ok)

	cc := cfg.ClientConfig()
	assert.Equal(t, 500*time.Millisecond, cc.RetryBackoff)
	assert.Equal(t, 4096, cc.ChunkSize)
	assert.Equal(t, uint32(1<<20), cc.MaxMessageSize)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte(minimal + "retry: 3\n"))
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "failed to parse YAML", le.Message)
}

func TestParseEmptyFailsValidation(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrMissingName)
}

func TestValidate(t *testing.T) {
	valid := func() *NodeConfig {
		cfg := Default()
		cfg.Name = "node-a"
		cfg.TLS = TLSFiles{CA: "ca.pem", Cert: "node.pem", Key: "node-key.pem"}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(*NodeConfig)
		target error
	}{
		{"missing name", func(c *NodeConfig) { c.Name = "" }, ErrMissingName},
		{"missing listen", func(c *NodeConfig) { c.Listen = "" }, ErrMissingListen},
		{"listen without port", func(c *NodeConfig) { c.Listen = "localhost" }, nil},
		{"missing key", func(c *NodeConfig) { c.TLS.Key = "" }, ErrMissingTLS},
		{"zero retries", func(c *NodeConfig) { c.Retries = 0 }, ErrInvalidRetries},
		{"negative backoff", func(c *NodeConfig) { c.RetryBackoff = -time.Second }, nil},
		{"chunk too small", func(c *NodeConfig) { c.ChunkSize = 16 }, ErrInvalidChunk},
		{"chunk too large", func(c *NodeConfig) { c.ChunkSize = MaxChunkSize + 1 }, ErrInvalidChunk},
		{"max message below chunk", func(c *NodeConfig) { c.MaxMessageSize = 1024 }, nil},
		{"peer without addr", func(c *NodeConfig) { c.Peers = []Peer{{Name: "node-b"}} }, ErrInvalidPeer},
		{"duplicate peer", func(c *NodeConfig) {
			c.Peers = []Peer{{Name: "node-b", Addr: "a:1"}, {Name: "node-b", Addr: "b:1"}}
		}, ErrInvalidPeer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.Name)
}

func TestLoadErrorsNameFile(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.File, "missing.yaml")
	assert.True(t, errors.Is(err, os.ErrNotExist))

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: node-a\n"), 0o600))
	_, err = Load(path)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, path, le.File)
	assert.ErrorIs(t, err, ErrMissingTLS)
	assert.Contains(t, err.Error(), path+": invalid configuration")
}

func TestLoadIdentity(t *testing.T) {
	dir := t.TempDir()
	ca, err := cert.GenerateCA("test-ca")
	require.NoError(t, err)
	node, err := cert.IssueNodeCert(ca, "node-a", "localhost")
	require.NoError(t, err)
	keyPEM, err := node.KeyPEM()
	require.NoError(t, err)

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}
	cfg := Default()
	cfg.Name = "node-a"
	cfg.TLS = TLSFiles{
		CA:   write("ca.pem", ca.CertPEM()),
		Cert: write("node.pem", node.CertPEM()),
		Key:  write("node-key.pem", keyPEM),
	}

	id, err := cfg.LoadIdentity()
	require.NoError(t, err)
	assert.Equal(t, "node-a", id.Name())

	cfg.TLS.Key = filepath.Join(dir, "absent.pem")
	_, err = cfg.LoadIdentity()
	assert.ErrorIs(t, err, os.ErrNotExist)
}
