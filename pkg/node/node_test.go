package node

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frisoft/lunatic/pkg/cert"
	"github.com/frisoft/lunatic/pkg/config"
	"github.com/frisoft/lunatic/pkg/log"
	"github.com/frisoft/lunatic/pkg/wire"
)

func issueIdentity(t *testing.T, ca *cert.KeyPair, name string) *cert.Identity {
	t.Helper()
	kp, err := cert.IssueNodeCert(ca, name, "127.0.0.1", "localhost")
	require.NoError(t, err)
	keyPEM, err := kp.KeyPEM()
	require.NoError(t, err)
	id, err := cert.LoadIdentity(ca.CertPEM(), kp.CertPEM(), keyPEM)
	require.NoError(t, err)
	return id
}

func testConfig(name string) *config.NodeConfig {
	cfg := config.Default()
	cfg.Name = name
	cfg.Listen = "127.0.0.1:0"
	cfg.TLS = config.TLSFiles{CA: "ca.pem", Cert: name + ".pem", Key: name + "-key.pem"}
	cfg.Retries = 2
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.ChunkSize = 1024
	return cfg
}

// startNode runs a node until the test ends.
func startNode(t *testing.T, ca *cert.KeyPair, cfg *config.NodeConfig, rt Runtime) *Node {
	t.Helper()
	n, err := New(cfg, issueIdentity(t, ca, cfg.Name), Options{Runtime: rt})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("node did not stop")
		}
		n.Close()
	})
	return n
}

func TestNodeRequestsBetweenPeers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ca, err := cert.GenerateCA("test-cluster")
	require.NoError(t, err)

	rtB := NewMemoryRuntime(0)
	cfgB := testConfig("node-b")
	cfgB.ProtocolLog = log.NodeLogPath(t.TempDir(), "node-b")
	b := startNode(t, ca, cfgB, rtB)

	a := startNode(t, ca, testConfig("node-a"), nil)
	a.AddPeer("node-b", b.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := a.Request(ctx, "node-b", &wire.Request{Kind: wire.KindSpawn, EnvironmentID: 1, ModuleID: 3, Function: "main"})
	require.NoError(t, err)
	require.Equal(t, wire.ResponseSpawned, resp.Kind)
	pid := resp.ProcessID

	// Larger than one chunk.
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}
	resp, err = a.Request(ctx, "node-b", &wire.Request{Kind: wire.KindMessage, EnvironmentID: 1, ProcessID: pid, Data: data})
	require.NoError(t, err)
	assert.Equal(t, wire.ResponseOK, resp.Kind)

	p, ok := rtB.Process(1, pid)
	require.True(t, ok)
	require.Len(t, p.Mailbox, 1)
	assert.Equal(t, data, p.Mailbox[0].Data)

	resp, err = a.Request(ctx, "node-b", &wire.Request{Kind: wire.KindLookup, EnvironmentID: 1, Name: "worker"})
	require.NoError(t, err)
	assert.Equal(t, wire.ResponseNotFound, resp.Kind)

	require.NoError(t, rtB.Register(1, "worker", pid))
	resp, err = a.Request(ctx, "node-b", &wire.Request{Kind: wire.KindLookup, EnvironmentID: 1, Name: "worker"})
	require.NoError(t, err)
	assert.Equal(t, wire.ResponseResolved, resp.Kind)
	assert.Equal(t, pid, resp.ProcessID)

	resp, err = a.Request(ctx, "node-b", &wire.Request{Kind: wire.KindKill, EnvironmentID: 1, ProcessID: pid + 100})
	require.NoError(t, err)
	assert.Equal(t, wire.ResponseError, resp.Kind)
	assert.Contains(t, resp.Error, "no such process")

	assert.Equal(t, 1, b.ConnectionCount(), "requests share one cached session")

	families, err := b.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["lunatic_node_streams_accepted_total"])
	assert.True(t, names["lunatic_node_messages_total"])

	// The served requests appear in the protocol log.
	require.NoError(t, b.Close())
	reader, err := log.NewReader(cfgB.ProtocolLog)
	require.NoError(t, err)
	defer reader.Close()

	kinds := map[string]int{}
	ready := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if event.Message != nil && event.Message.Kind != "" {
			kinds[event.Message.Kind]++
			assert.Equal(t, "node-a", event.PeerName)
		}
		if event.StateChange != nil && event.StateChange.NewState == "READY" {
			ready++
			assert.Equal(t, "node-a", event.PeerName)
		}
	}
	assert.Equal(t, map[string]int{"Spawn": 1, "Message": 1, "Lookup": 2, "Kill": 1}, kinds)
	assert.Equal(t, 1, ready, "one hello for the cached connection")
}

func TestNodeUnknownPeer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ca, err := cert.GenerateCA("test-cluster")
	require.NoError(t, err)
	a := startNode(t, ca, testConfig("node-a"), nil)

	_, err = a.Request(context.Background(), "node-z", &wire.Request{Kind: wire.KindKill, ProcessID: 1})
	assert.ErrorIs(t, err, ErrUnknownPeer)

	_, err = a.Request(context.Background(), "node-z", &wire.Request{Kind: wire.KindSpawn})
	assert.ErrorIs(t, err, wire.ErrMissingFunction)
}

func TestNodePeers(t *testing.T) {
	ca, err := cert.GenerateCA("test-cluster")
	require.NoError(t, err)

	cfg := testConfig("node-a")
	cfg.Peers = []config.Peer{{Name: "node-c", Addr: "10.0.0.3:3030"}}
	n, err := New(cfg, issueIdentity(t, ca, "node-a"), Options{})
	require.NoError(t, err)
	defer n.Close()

	n.AddPeer("node-b", "10.0.0.2:3030")
	assert.Equal(t, []config.Peer{
		{Name: "node-b", Addr: "10.0.0.2:3030"},
		{Name: "node-c", Addr: "10.0.0.3:3030"},
	}, n.Peers())
	assert.Equal(t, "node-a", n.Name())
	assert.NotNil(t, n.Registry())
	assert.IsType(t, &MemoryRuntime{}, n.Runtime())

	_, err = n.Discover(context.Background())
	assert.Error(t, err, "mDNS disabled")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	ca, err := cert.GenerateCA("test-cluster")
	require.NoError(t, err)

	cfg := testConfig("node-a")
	cfg.Retries = 0
	_, err = New(cfg, issueIdentity(t, ca, "node-a"), Options{})
	assert.ErrorIs(t, err, config.ErrInvalidRetries)

	_, err = New(testConfig("node-a"), nil, Options{})
	assert.Error(t, err)
}
