package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/frisoft/lunatic/pkg/cert"
	"github.com/frisoft/lunatic/pkg/config"
	"github.com/frisoft/lunatic/pkg/discovery"
	"github.com/frisoft/lunatic/pkg/log"
	"github.com/frisoft/lunatic/pkg/transport"
	"github.com/frisoft/lunatic/pkg/version"
	"github.com/frisoft/lunatic/pkg/wire"
)

// DefaultMailboxSize bounds the mailboxes of the default MemoryRuntime.
const DefaultMailboxSize = 1024

// metricsShutdownTimeout bounds the graceful stop of the metrics endpoint.
const metricsShutdownTimeout = 5 * time.Second

// ErrUnknownPeer indicates a request to a node with no known address.
var ErrUnknownPeer = errors.New("unknown peer")

// Options are the optional collaborators of a Node.
type Options struct {
	// Runtime executes peer requests (default: a MemoryRuntime).
	Runtime Runtime

	// Logger for operational logs (default: slog.Default()).
	Logger *slog.Logger

	// Registry receives the transport metrics (default: a new registry).
	Registry *prometheus.Registry

	// ProtocolLogger receives protocol events in addition to the
	// configured protocol log file.
	ProtocolLogger log.Logger
}

// Node is a cluster member: it serves peer requests on its listen address
// and sends requests to peers over cached sessions.
type Node struct {
	cfg      *config.NodeConfig
	runtime  Runtime
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *transport.Metrics
	fileLog  *log.FileLogger

	serverEP *transport.Endpoint
	clientEP *transport.Endpoint
	server   transport.NodeServer
	client   *transport.Client

	advertiser *discovery.MDNSAdvertiser
	browser    *discovery.MDNSBrowser

	mu       sync.Mutex
	peers    map[string]string
	sessions map[string]*transport.Session
	closed   atomic.Bool
}

// New binds the node endpoints. The node serves nothing until Run.
func New(cfg *config.NodeConfig, id *cert.Identity, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fmt.Errorf("identity is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runtime == nil {
		opts.Runtime = NewMemoryRuntime(DefaultMailboxSize)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	n := &Node{
		cfg:      cfg,
		runtime:  opts.Runtime,
		logger:   opts.Logger.With("node", cfg.Name),
		registry: opts.Registry,
		metrics:  transport.NewMetrics(opts.Registry),
		peers:    make(map[string]string, len(cfg.Peers)),
		sessions: make(map[string]*transport.Session),
	}
	for _, p := range cfg.Peers {
		n.peers[p.Name] = p.Addr
	}

	var fileLog log.Logger
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		n.fileLog = fl
		fileLog = fl
	}
	protocolLogger := log.Combine(opts.ProtocolLogger, fileLog)

	var err error
	n.serverEP, err = transport.NewServerEndpoint(cfg.Listen, id, cfg.QUIC)
	if err != nil {
		n.closeLog()
		return nil, err
	}
	n.clientEP, err = transport.NewClientEndpoint(id, cfg.QUIC)
	if err != nil {
		n.serverEP.Close()
		n.closeLog()
		return nil, err
	}

	n.server, err = transport.NewServer(n.serverEP, transport.ServerConfig{
		Dispatcher:     NewDispatcher(n.runtime, n.logger),
		ChunkSize:      cfg.ChunkSize,
		MaxMessageSize: cfg.MaxMessageSize,
		Logger:         n.logger,
		ProtocolLogger: protocolLogger,
		Metrics:        n.metrics,
		Hello:          wire.NewHello(cfg.Name),
	})
	if err != nil {
		n.serverEP.Close()
		n.clientEP.Close()
		n.closeLog()
		return nil, err
	}

	clientCfg := cfg.ClientConfig()
	clientCfg.Logger = n.logger
	clientCfg.ProtocolLogger = protocolLogger
	clientCfg.Metrics = n.metrics
	clientCfg.Hello = wire.NewHello(cfg.Name)
	n.client = transport.NewClient(n.clientEP, clientCfg)

	if cfg.MDNS {
		n.advertiser = discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
		n.browser = discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	}
	return n, nil
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.cfg.Name
}

// Addr returns the address the node server is bound to.
func (n *Node) Addr() net.Addr {
	return n.serverEP.Addr()
}

// Runtime returns the runtime serving peer requests.
func (n *Node) Runtime() Runtime {
	return n.runtime
}

// Registry returns the registry holding the node metrics.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// ConnectionCount returns the number of inbound connections being served.
func (n *Node) ConnectionCount() int {
	return n.server.ConnectionCount()
}

// Run serves peers until ctx is cancelled or a component fails. It also
// runs the metrics endpoint and the mDNS announcement when configured.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := n.server.Serve(gctx)
		if gctx.Err() != nil || n.closed.Load() {
			return nil
		}
		return err
	})

	if n.cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              n.cfg.MetricsAddr,
			Handler:           n.metricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			n.logger.Info("metrics endpoint listening", "addr", n.cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if n.advertiser != nil {
		info := &discovery.NodeInfo{
			Name:    n.cfg.Name,
			Port:    uint16(n.serverEP.Addr().(*net.UDPAddr).Port),
			Version: version.Current,
			ALPN:    cert.ALPNProtocol,
		}
		if err := n.advertiser.Advertise(gctx, info); err != nil {
			// The node stays reachable through static peers.
			n.logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			n.logger.Info("advertising node", "service", discovery.ServiceType, "port", info.Port)
			g.Go(func() error {
				<-gctx.Done()
				n.advertiser.Stop()
				return nil
			})
		}
	}

	return g.Wait()
}

func (n *Node) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}))
	return mux
}

// AddPeer records the address of a peer node, replacing any previous one.
func (n *Node) AddPeer(name, addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[name] = addr
}

// Peers returns the known peers by name.
func (n *Node) Peers() []config.Peer {
	n.mu.Lock()
	defer n.mu.Unlock()

	peers := make([]config.Peer, 0, len(n.peers))
	for name, addr := range n.peers {
		peers = append(peers, config.Peer{Name: name, Addr: addr})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers
}

// Discover browses the local network for nodes until ctx is done.
func (n *Node) Discover(ctx context.Context) ([]*discovery.NodeService, error) {
	if n.browser == nil {
		return nil, fmt.Errorf("mDNS is disabled")
	}
	found, err := n.browser.Browse(ctx)
	if err != nil {
		return nil, err
	}
	var services []*discovery.NodeService
	for svc := range found {
		if svc.Name == n.cfg.Name {
			continue
		}
		if !version.CompatibleWith(svc.Version) {
			n.logger.Debug("ignoring incompatible node", "name", svc.Name, "version", svc.Version)
			continue
		}
		services = append(services, svc)
	}
	return services, nil
}

// resolve returns the address of peer, browsing mDNS for unknown peers
// when enabled.
func (n *Node) resolve(ctx context.Context, peer string) (string, error) {
	n.mu.Lock()
	addr, ok := n.peers[peer]
	n.mu.Unlock()
	if ok {
		return addr, nil
	}
	if n.browser == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}

	svc, err := n.browser.FindNode(ctx, peer)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrUnknownPeer, peer, err)
	}
	if !version.CompatibleWith(svc.Version) {
		return "", fmt.Errorf("%w: %s speaks protocol %q", ErrUnknownPeer, peer, svc.Version)
	}
	addr = svc.Addr()
	if addr == "" {
		return "", fmt.Errorf("%w: %s has no address", ErrUnknownPeer, peer)
	}
	n.AddPeer(peer, addr)
	return addr, nil
}

// session returns the cached session to peer, connecting when needed.
func (n *Node) session(ctx context.Context, peer string) (*transport.Session, error) {
	n.mu.Lock()
	s, ok := n.sessions[peer]
	n.mu.Unlock()
	if ok {
		return s, nil
	}

	addr, err := n.resolve(ctx, peer)
	if err != nil {
		return nil, err
	}
	s, err = n.client.Session(ctx, addr, peer, n.cfg.Retries)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.sessions[peer]; ok {
		// Lost a race with a concurrent request to the same peer.
		s.Close()
		return existing, nil
	}
	n.sessions[peer] = s
	return s, nil
}

// dropSession closes and forgets the session to peer if it is still s.
func (n *Node) dropSession(peer string, s *transport.Session) {
	n.mu.Lock()
	if n.sessions[peer] == s {
		delete(n.sessions, peer)
	}
	n.mu.Unlock()
	s.Close()
}

// Request sends req to peer and waits for the response. A session that
// failed at the transport level is discarded; the next request reconnects.
func (n *Node) Request(ctx context.Context, peer string, req *wire.Request) (*wire.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s, err := n.session(ctx, peer)
	if err != nil {
		return nil, err
	}
	resp, err := s.Request(ctx, req)
	if err != nil {
		if !errors.Is(err, wire.ErrMalformed) {
			n.logger.Debug("dropping session", "peer", peer, "error", err)
			n.dropSession(peer, s)
		}
		return nil, err
	}
	return resp, nil
}

// Close stops serving, closes all sessions and releases the endpoints.
func (n *Node) Close() error {
	n.closed.Store(true)

	n.mu.Lock()
	sessions := n.sessions
	n.sessions = make(map[string]*transport.Session)
	n.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}

	if n.advertiser != nil {
		n.advertiser.Stop()
	}
	err := n.server.Close()
	if cerr := n.clientEP.Close(); err == nil {
		err = cerr
	}
	n.closeLog()
	return err
}

func (n *Node) closeLog() {
	if n.fileLog == nil {
		return
	}
	n.fileLog.Close()
	n.logger.Debug("protocol log closed", "path", n.fileLog.Path(),
		"events", n.fileLog.Written(), "dropped", n.fileLog.Dropped())
}
