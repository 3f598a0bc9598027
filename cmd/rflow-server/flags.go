package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into
// server configuration so main.go can validate and map.
type cliConfig struct {
	listenAddr        string
	logLevel          string
	timeout           time.Duration
	maxClients        int
	incomingQueueSize int
	outgoingQueueSize int
	showVersion       bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("rflow-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", ":4001", "TCP listen address (e.g. :4001 or 0.0.0.0:4001)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "Handshake and write deadline per connection")
	fs.IntVar(&cfg.maxClients, "max-clients", 16, "Maximum number of concurrently connected clients")
	fs.IntVar(&cfg.incomingQueueSize, "incoming-queue-size", 128, "Capacity of the authoritative incoming message channel")
	fs.IntVar(&cfg.outgoingQueueSize, "outgoing-queue-size", 128, "Per-client outgoing queue capacity before frames are dropped")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}
	if cfg.maxClients <= 0 {
		return nil, fmt.Errorf("max-clients must be positive, got %d", cfg.maxClients)
	}
	if cfg.incomingQueueSize <= 0 {
		return nil, fmt.Errorf("incoming-queue-size must be positive, got %d", cfg.incomingQueueSize)
	}
	if cfg.outgoingQueueSize <= 0 {
		return nil, fmt.Errorf("outgoing-queue-size must be positive, got %d", cfg.outgoingQueueSize)
	}

	return cfg, nil
}
