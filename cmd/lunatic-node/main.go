// Command lunatic-node runs a lunatic cluster node.
//
// A node serves runtime requests (spawn, message, link, unlink, kill,
// lookup) from its peers over mutually authenticated QUIC, and sends
// requests of its own to peers over cached sessions.
//
// Usage:
//
//	lunatic-node <command> [flags] [args]
//
// Commands:
//
//	serve    Run a node (optionally with an interactive shell)
//	send     Send one request to a peer and print the response
//	certs    Generate a development CA and node certificates
//	browse   List nodes advertised on the local network
//
// Examples:
//
//	# Create certificates for a two node cluster
//	lunatic-node certs -out ./certs node-a node-b
//
//	# Start a node from a configuration file
//	lunatic-node serve -config node-a.yaml
//
//	# Start a node with an interactive shell, everything from flags
//	lunatic-node serve -name node-b -listen [::]:3031 \
//	    -ca certs/ca.pem -cert certs/node-b.pem -key certs/node-b-key.pem \
//	    -peer node-a=[::1]:3030 -interactive
//
//	# Spawn a process on node-b
//	lunatic-node send -config node-a.yaml node-b spawn 1 main
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/frisoft/lunatic/pkg/config"
)

const usage = `lunatic-node - lunatic cluster node

Usage:
  lunatic-node <command> [flags] [args]

Commands:
  serve    Run a node (optionally with an interactive shell)
  send     Send one request to a peer and print the response
  certs    Generate a development CA and node certificates
  browse   List nodes advertised on the local network

Use "lunatic-node <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		runServe(args)
	case "send":
		runSend(args)
	case "certs":
		runCerts(args)
	case "browse":
		runBrowse(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set with a usage header for the command.
func newFlagSet(name, args, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "lunatic-node %s - %s\n\nUsage:\n  lunatic-node %s [flags] %s\n\nFlags:\n", name, summary, name, args)
		fs.PrintDefaults()
	}
	return fs
}

// flagSet reports whether the named flag was given on the command line.
func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// peerList collects repeated -peer name=addr flags.
type peerList []config.Peer

func (p *peerList) String() string {
	parts := make([]string, len(*p))
	for i, peer := range *p {
		parts[i] = peer.Name + "=" + peer.Addr
	}
	return strings.Join(parts, ",")
}

func (p *peerList) Set(value string) error {
	name, addr, ok := strings.Cut(value, "=")
	if !ok || name == "" || addr == "" {
		return fmt.Errorf("expected name=addr, got %q", value)
	}
	*p = append(*p, config.Peer{Name: name, Addr: addr})
	return nil
}

// nodeFlags are the flags shared by commands that start a node. Flags set
// on the command line override the configuration file.
type nodeFlags struct {
	fs *flag.FlagSet

	configFile  string
	name        string
	listen      string
	ca          string
	cert        string
	key         string
	retries     int
	metrics     string
	mdns        bool
	protocolLog string
	logLevel    string
	peers       peerList
}

func addNodeFlags(fs *flag.FlagSet) *nodeFlags {
	nf := &nodeFlags{fs: fs}
	fs.StringVar(&nf.configFile, "config", "", "Configuration file path")
	fs.StringVar(&nf.name, "name", "", "Node name (must match the certificate common name)")
	fs.StringVar(&nf.listen, "listen", config.DefaultListen, "UDP listen address")
	fs.StringVar(&nf.ca, "ca", "", "Cluster CA certificate (PEM)")
	fs.StringVar(&nf.cert, "cert", "", "Node certificate (PEM)")
	fs.StringVar(&nf.key, "key", "", "Node private key (PEM)")
	fs.IntVar(&nf.retries, "retries", config.DefaultRetries, "Connection attempts per peer")
	fs.StringVar(&nf.metrics, "metrics", "", "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVar(&nf.mdns, "mdns", false, "Advertise and discover nodes via mDNS")
	fs.StringVar(&nf.protocolLog, "protocol-log", "", "Write protocol events to this .nlog file")
	fs.StringVar(&nf.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.Var(&nf.peers, "peer", "Static peer as name=addr (repeatable)")
	return nf
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func (nf *nodeFlags) loadConfig() (*config.NodeConfig, error) {
	cfg := config.Default()
	if nf.configFile != "" {
		var err error
		if cfg, err = config.Load(nf.configFile); err != nil {
			return nil, err
		}
	}

	nf.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = nf.name
		case "listen":
			cfg.Listen = nf.listen
		case "ca":
			cfg.TLS.CA = nf.ca
		case "cert":
			cfg.TLS.Cert = nf.cert
		case "key":
			cfg.TLS.Key = nf.key
		case "retries":
			cfg.Retries = nf.retries
		case "metrics":
			cfg.MetricsAddr = nf.metrics
		case "mdns":
			cfg.MDNS = nf.mdns
		case "protocol-log":
			cfg.ProtocolLog = nf.protocolLog
		}
	})
	cfg.Peers = append(cfg.Peers, nf.peers...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs a text handler at the given level as the default
// logger.
func setupLogging(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl <= slog.LevelDebug,
	}))
	slog.SetDefault(logger)
	return logger, nil
}

// switchWriter forwards writes to a replaceable writer, so log output can
// move to the shell once it is running.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}
