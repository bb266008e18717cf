package interactive

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/frisoft/lunatic/pkg/config"
	"github.com/frisoft/lunatic/pkg/discovery"
	"github.com/frisoft/lunatic/pkg/node"
	"github.com/frisoft/lunatic/pkg/wire"
)

type mockNode struct {
	mock.Mock
	runtime node.Runtime
}

func (m *mockNode) Name() string          { return "node-a" }
func (m *mockNode) Runtime() node.Runtime { return m.runtime }
func (m *mockNode) ConnectionCount() int  { return 2 }

func (m *mockNode) AddPeer(name, addr string) {
	m.Called(name, addr)
}

func (m *mockNode) Peers() []config.Peer {
	args := m.Called()
	return args.Get(0).([]config.Peer)
}

func (m *mockNode) Discover(ctx context.Context) ([]*discovery.NodeService, error) {
	args := m.Called(ctx)
	services, _ := args.Get(0).([]*discovery.NodeService)
	return services, args.Error(1)
}

func (m *mockNode) Request(ctx context.Context, peer string, req *wire.Request) (*wire.Response, error) {
	args := m.Called(ctx, peer, req)
	resp, _ := args.Get(0).(*wire.Response)
	return resp, args.Error(1)
}

func newTestShell(n *mockNode) (*Shell, *bytes.Buffer) {
	var out bytes.Buffer
	return &Shell{node: n, out: &out}, &out
}

func TestShellSpawnRequest(t *testing.T) {
	n := &mockNode{}
	n.On("Request", mock.Anything, "node-b", mock.MatchedBy(func(req *wire.Request) bool {
		return req.Kind == wire.KindSpawn && req.ModuleID == 3 && req.Function == "main" &&
			assert.ObjectsAreEqual([]int64{1, -2}, req.Params)
	})).Return(&wire.Response{Kind: wire.ResponseSpawned, ProcessID: 9}, nil)

	sh, out := newTestShell(n)
	assert.True(t, sh.Execute(context.Background(), "spawn node-b 3 main 1 -2"))
	assert.Contains(t, out.String(), "Spawned pid=9")
	n.AssertExpectations(t)
}

func TestShellUsesEnvironment(t *testing.T) {
	n := &mockNode{}
	n.On("Request", mock.Anything, "node-b", mock.MatchedBy(func(req *wire.Request) bool {
		return req.Kind == wire.KindKill && req.EnvironmentID == 7 && req.ProcessID == 4
	})).Return(&wire.Response{Kind: wire.ResponseOK}, nil)

	sh, out := newTestShell(n)
	sh.Execute(context.Background(), "env 7")
	sh.Execute(context.Background(), "kill node-b 4")
	assert.Contains(t, out.String(), "Environment: 7")
	assert.Contains(t, out.String(), "OK (")
	n.AssertExpectations(t)
}

func TestShellRequestFailure(t *testing.T) {
	n := &mockNode{}
	n.On("Request", mock.Anything, "node-z", mock.Anything).Return(nil, node.ErrUnknownPeer)

	sh, out := newTestShell(n)
	sh.Execute(context.Background(), "lookup node-z worker")
	assert.Contains(t, out.String(), "Request failed: unknown peer")
}

func TestShellInvalidRequestNotSent(t *testing.T) {
	n := &mockNode{}
	sh, out := newTestShell(n)

	sh.Execute(context.Background(), "kill node-b notanumber")
	sh.Execute(context.Background(), "spawn")
	assert.Contains(t, out.String(), "invalid process id")
	assert.Contains(t, out.String(), "Usage: spawn <peer>")
	n.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything)
}

func TestShellPeers(t *testing.T) {
	n := &mockNode{}
	n.On("AddPeer", "node-b", "10.0.0.2:3030").Return()
	n.On("Peers").Return([]config.Peer{{Name: "node-b", Addr: "10.0.0.2:3030"}})

	sh, out := newTestShell(n)
	sh.Execute(context.Background(), "peer add node-b 10.0.0.2:3030")
	sh.Execute(context.Background(), "peers")

	assert.Contains(t, out.String(), "Added peer node-b")
	assert.Contains(t, out.String(), "Peers (1):")
	assert.Contains(t, out.String(), "10.0.0.2:3030")
	n.AssertExpectations(t)
}

func TestShellDiscoverAddsPeers(t *testing.T) {
	n := &mockNode{}
	n.On("Discover", mock.Anything).Return([]*discovery.NodeService{
		{Name: "node-b", Port: 3030, Addresses: []string{"10.0.0.2"}, Version: "1.0"},
		{Name: "node-c", Port: 3030},
	}, nil)
	n.On("AddPeer", "node-b", "10.0.0.2:3030").Return()

	sh, out := newTestShell(n)
	sh.Execute(context.Background(), "discover 1")

	assert.Contains(t, out.String(), "node-c")
	assert.Contains(t, out.String(), "(no address)")
	n.AssertExpectations(t)
	n.AssertNotCalled(t, "AddPeer", "node-c", mock.Anything)
}

func TestShellDiscoverError(t *testing.T) {
	n := &mockNode{}
	n.On("Discover", mock.Anything).Return(nil, errors.New("mDNS is disabled"))

	sh, out := newTestShell(n)
	sh.Execute(context.Background(), "discover")
	assert.Contains(t, out.String(), "Discover failed: mDNS is disabled")
}

func TestShellLocalRuntime(t *testing.T) {
	rt := node.NewMemoryRuntime(0)
	pid, err := rt.Spawn(context.Background(), 0, 2, "worker", nil, nil)
	require.NoError(t, err)

	sh, out := newTestShell(&mockNode{runtime: rt})
	sh.Execute(context.Background(), "ps")
	sh.Execute(context.Background(), "register svc 1")
	sh.Execute(context.Background(), "conns")

	assert.Contains(t, out.String(), "worker")
	assert.Contains(t, out.String(), "Registered svc -> 1")
	assert.Contains(t, out.String(), "Inbound connections: 2")

	id, ok, err := rt.Lookup(context.Background(), 0, "svc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pid, id)
}

func TestShellQuitAndUnknown(t *testing.T) {
	sh, out := newTestShell(&mockNode{})

	assert.True(t, sh.Execute(context.Background(), ""))
	assert.True(t, sh.Execute(context.Background(), "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")
	assert.False(t, sh.Execute(context.Background(), "quit"))
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		args    []string
		want    *wire.Request
		wantErr bool
	}{
		{
			name: "message with tag",
			kind: "send",
			args: []string{"5", "#3", "hello", "world"},
			want: &wire.Request{Kind: wire.KindMessage, EnvironmentID: 1, ProcessID: 5, Tag: ptr(int64(3)), Data: []byte("hello world")},
		},
		{
			name: "link with tag",
			kind: "link",
			args: []string{"5", "8", "#-1"},
			want: &wire.Request{Kind: wire.KindLink, EnvironmentID: 1, ProcessID: 5, LinkedID: 8, Tag: ptr(int64(-1))},
		},
		{
			name: "unlink",
			kind: "unlink",
			args: []string{"5", "8"},
			want: &wire.Request{Kind: wire.KindUnlink, EnvironmentID: 1, ProcessID: 5, LinkedID: 8},
		},
		{
			name: "lookup",
			kind: "lookup",
			args: []string{"worker"},
			want: &wire.Request{Kind: wire.KindLookup, EnvironmentID: 1, Name: "worker"},
		},
		{name: "bad param", kind: "spawn", args: []string{"1", "main", "x"}, wantErr: true},
		{name: "bad tag", kind: "send", args: []string{"1", "#x"}, wantErr: true},
		{name: "kill arity", kind: "kill", args: nil, wantErr: true},
		{name: "unknown kind", kind: "teleport", args: []string{"1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest(1, tt.kind, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatResponse(t *testing.T) {
	assert.Equal(t, "Resolved pid=4", FormatResponse(&wire.Response{Kind: wire.ResponseResolved, ProcessID: 4}))
	assert.Equal(t, "NotFound", FormatResponse(&wire.Response{Kind: wire.ResponseNotFound}))
	assert.Equal(t, "Error: boom", FormatResponse(&wire.Response{Kind: wire.ResponseError, Error: "boom"}))
}

func ptr[T any](v T) *T { return &v }
