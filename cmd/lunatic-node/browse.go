package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frisoft/lunatic/pkg/discovery"
)

func runBrowse(args []string) {
	fs := newFlagSet("browse", "", "List nodes advertised on the local network")
	timeout := fs.Duration("timeout", 5*time.Second, "How long to browse")
	iface := fs.String("interface", "", "Restrict browsing to this network interface")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	cfg := discovery.DefaultBrowserConfig()
	cfg.Interface = *iface
	found, err := discovery.NewMDNSBrowser(cfg).Browse(ctx)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Browsing %s for %s...\n", discovery.ServiceType, *timeout)
	n := 0
	for svc := range found {
		n++
		fmt.Printf("  %-20s %-28s version=%s alpn=%s addrs=%s\n",
			svc.Name, svc.Addr(), svc.Version, svc.ALPN, strings.Join(svc.Addresses, ","))
	}
	fmt.Printf("%d node(s) found\n", n)
}
