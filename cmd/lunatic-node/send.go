package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/frisoft/lunatic/cmd/lunatic-node/interactive"
	"github.com/frisoft/lunatic/pkg/node"
)

func runSend(args []string) {
	fs := newFlagSet("send", "<peer> <kind> [args...]", "Send one request to a peer")
	nf := addNodeFlags(fs)
	env := fs.Uint64("env", 0, "Environment id of the request")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall request timeout")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Error: peer and request kind required")
		fs.Usage()
		os.Exit(1)
	}
	peer, kind := fs.Arg(0), fs.Arg(1)

	req, err := interactive.ParseRequest(*env, kind, fs.Args()[2:])
	if err != nil {
		fatal(err)
	}

	logger, err := setupLogging(nf.logLevel, os.Stderr)
	if err != nil {
		fatal(err)
	}

	cfg, err := nf.loadConfig()
	if err != nil {
		fatal(err)
	}
	if !flagSet(fs, "listen") {
		// A one-shot sender does not need its configured port.
		cfg.Listen = "[::]:0"
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := n.Request(ctx, peer, req)
	if err != nil {
		n.Close()
		fatal(err)
	}
	fmt.Println(interactive.FormatResponse(resp))
	if !resp.IsSuccess() {
		n.Close()
		os.Exit(2)
	}
}
