// Package main implements syncctl, a terminal dashboard that polls one or
// more replicas' syncsrv endpoints and renders their live Stage, Target,
// and Trailer progress, plus the Raft leader and term each one observes.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 2 * time.Second

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "syncctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	addrFlag := flag.String("addr", "", "comma-separated replica gRPC addresses")
	timeout := flag.Duration("timeout", defaultTimeout, "per-poll RPC timeout")
	flag.Parse()

	addrs := splitAddrs(*addrFlag)
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses provided (use --addr host:port[,host:port,...])")
	}

	return cmdDashboard(addrs, *timeout)
}

func splitAddrs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
