package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/frisoft/lunatic/cmd/lunatic-node/interactive"
	"github.com/frisoft/lunatic/pkg/node"
)

func runServe(args []string) {
	fs := newFlagSet("serve", "", "Run a node")
	nf := addNodeFlags(fs)
	interactiveMode := fs.Bool("interactive", false, "Start an interactive shell")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	out := &switchWriter{w: os.Stderr}
	logger, err := setupLogging(nf.logLevel, out)
	if err != nil {
		fatal(err)
	}

	cfg, err := nf.loadConfig()
	if err != nil {
		fatal(err)
	}
	id, err := cfg.LoadIdentity()
	if err != nil {
		fatal(err)
	}

	n, err := node.New(cfg, id, node.Options{Logger: logger})
	if err != nil {
		fatal(err)
	}
	defer n.Close()

	logger.Info("node starting",
		"name", cfg.Name,
		"addr", n.Addr(),
		"peers", len(cfg.Peers),
		"mdns", cfg.MDNS,
		"metrics", cfg.MetricsAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.Run(gctx)
	})

	if *interactiveMode {
		shell, err := interactive.New(n)
		if err != nil {
			fatal(err)
		}
		out.Set(shell.Stdout())
		// The shell ends the node when it exits.
		go shell.Run(gctx, cancel)
	}

	if err := g.Wait(); err != nil {
		fatal(fmt.Errorf("node stopped: %w", err))
	}
	logger.Info("node stopped")
}
