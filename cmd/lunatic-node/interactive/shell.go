// Package interactive provides the interactive command-line interface
// for lunatic-node.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/frisoft/lunatic/pkg/config"
	"github.com/frisoft/lunatic/pkg/discovery"
	"github.com/frisoft/lunatic/pkg/node"
	"github.com/frisoft/lunatic/pkg/wire"
)

// DefaultDiscoverTimeout bounds the discover command.
const DefaultDiscoverTimeout = 3 * time.Second

// Node is the part of a running node the shell drives.
type Node interface {
	Name() string
	Runtime() node.Runtime
	ConnectionCount() int
	AddPeer(name, addr string)
	Peers() []config.Peer
	Discover(ctx context.Context) ([]*discovery.NodeService, error)
	Request(ctx context.Context, peer string, req *wire.Request) (*wire.Response, error)
}

// Shell handles interactive mode for lunatic-node.
type Shell struct {
	node Node
	rl   *readline.Instance
	out  io.Writer

	// env is the environment id of outgoing requests.
	env uint64
}

// New creates a shell reading commands from the terminal.
func New(n Node) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          n.Name() + "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{node: n, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use it for log output.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Execute(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the shell should
// exit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "peers":
		s.cmdPeers()

	case "peer":
		s.cmdPeer(args)

	case "discover":
		s.cmdDiscover(ctx, args)

	case "env":
		s.cmdEnv(args)

	case "spawn", "send", "link", "unlink", "kill", "lookup":
		s.cmdRequest(ctx, cmd, args)

	case "register":
		s.cmdRegister(args)

	case "ps":
		s.cmdPs()

	case "conns":
		fmt.Fprintf(s.out, "Inbound connections: %d\n", s.node.ConnectionCount())

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Node Commands:
  Peers:
    peers                          - List known peers
    peer add <name> <addr>         - Add a peer address
    discover [seconds]             - Browse the local network for nodes

  Requests (sent to <peer>):
    spawn <peer> <module> <fn> [params...]
    send <peer> <pid> [#tag] <text...>
    link <peer> <pid> <local-pid> [#tag]
    unlink <peer> <pid> <local-pid>
    kill <peer> <pid>
    lookup <peer> <name>
    env [id]                       - Show or set the request environment

  Local runtime:
    ps                             - List local processes
    register <name> <pid>          - Register a local process name
    conns                          - Show inbound connection count

  General:
    help                           - Show this help
    quit                           - Exit node`)
}

func (s *Shell) cmdPeers() {
	peers := s.node.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(s.out, "No known peers")
		return
	}
	fmt.Fprintf(s.out, "Peers (%d):\n", len(peers))
	for _, p := range peers {
		fmt.Fprintf(s.out, "  %-20s %s\n", p.Name, p.Addr)
	}
}

func (s *Shell) cmdPeer(args []string) {
	if len(args) != 3 || args[0] != "add" {
		fmt.Fprintln(s.out, "Usage: peer add <name> <addr>")
		return
	}
	s.node.AddPeer(args[1], args[2])
	fmt.Fprintf(s.out, "Added peer %s at %s\n", args[1], args[2])
}

func (s *Shell) cmdDiscover(ctx context.Context, args []string) {
	timeout := DefaultDiscoverTimeout
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			fmt.Fprintf(s.out, "Invalid timeout: %s\n", args[0])
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fmt.Fprintf(s.out, "Browsing for %s...\n", timeout)
	services, err := s.node.Discover(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Discover failed: %v\n", err)
		return
	}
	if len(services) == 0 {
		fmt.Fprintln(s.out, "No nodes found")
		return
	}
	for _, svc := range services {
		addr := svc.Addr()
		if addr == "" {
			fmt.Fprintf(s.out, "  %-20s (no address)\n", svc.Name)
			continue
		}
		s.node.AddPeer(svc.Name, addr)
		fmt.Fprintf(s.out, "  %-20s %s (version %s)\n", svc.Name, addr, svc.Version)
	}
}

func (s *Shell) cmdEnv(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "Environment: %d\n", s.env)
		return
	}
	env, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid environment id: %s\n", args[0])
		return
	}
	s.env = env
	fmt.Fprintf(s.out, "Environment: %d\n", s.env)
}

func (s *Shell) cmdRequest(ctx context.Context, kind string, args []string) {
	if len(args) < 1 {
		fmt.Fprintf(s.out, "Usage: %s <peer> ... (type 'help' for details)\n", kind)
		return
	}
	peer := args[0]

	req, err := ParseRequest(s.env, kind, args[1:])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}

	start := time.Now()
	resp, err := s.node.Request(ctx, peer, req)
	if err != nil {
		fmt.Fprintf(s.out, "Request failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%s (%s)\n", FormatResponse(resp), time.Since(start).Round(time.Microsecond))
}

// memoryRuntime returns the node runtime when it can be inspected.
func (s *Shell) memoryRuntime() (*node.MemoryRuntime, bool) {
	rt, ok := s.node.Runtime().(*node.MemoryRuntime)
	if !ok {
		fmt.Fprintln(s.out, "Local runtime cannot be inspected")
	}
	return rt, ok
}

func (s *Shell) cmdRegister(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "Usage: register <name> <pid>")
		return
	}
	pid, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid process id: %s\n", args[1])
		return
	}
	rt, ok := s.memoryRuntime()
	if !ok {
		return
	}
	if err := rt.Register(s.env, args[0], pid); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Registered %s -> %d\n", args[0], pid)
}

func (s *Shell) cmdPs() {
	rt, ok := s.memoryRuntime()
	if !ok {
		return
	}
	procs := rt.List()
	if len(procs) == 0 {
		fmt.Fprintln(s.out, "No processes")
		return
	}
	fmt.Fprintf(s.out, "%-6s %-5s %-7s %-16s %-8s %s\n", "PID", "ENV", "MODULE", "FUNCTION", "MAILBOX", "LINKS")
	for _, p := range procs {
		fmt.Fprintf(s.out, "%-6d %-5d %-7d %-16s %-8d %d\n",
			p.ID, p.Env, p.Module, p.Function, len(p.Mailbox), len(p.Links))
	}
}
