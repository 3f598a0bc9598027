package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/rflow/internal/logger"
	"github.com/alxayo/rflow/internal/rflow/server"
)

func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	srv := server.New()
	srv.SetTimeout(cfg.timeout)
	srv.SetMaxClients(cfg.maxClients)
	srv.SetOutgoingQueueSize(cfg.outgoingQueueSize)
	if err := srv.SetIncomingQueueSize(cfg.incomingQueueSize); err != nil {
		log.Error("failed to configure incoming queue size", "error", err)
		os.Exit(1)
	}

	incoming, err := srv.TakeDataChannel()
	if err != nil {
		log.Error("failed to take data channel", "error", err)
		os.Exit(1)
	}
	go logIncoming(log, incoming)

	ln, err := listen(cfg.listenAddr)
	if err != nil {
		log.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ServeWithListener(ln) }()

	log.Info("server started", "addr", ln.Addr().String(), "version", version, "max_clients", cfg.maxClients)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := srv.Close(); err != nil {
			log.Error("server close error", "error", err)
		}
		<-serveErr
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

// logIncoming drains the server's authoritative data channel and logs each
// message. A real application would consume this channel itself; the CLI
// has no chat UI of its own, so logging is the whole story here.
func logIncoming(log interface {
	Info(msg string, args ...any)
}, incoming <-chan server.Message) {
	for msg := range incoming {
		log.Info("message received", "direction", msg.Direction.String(), "payload", msg.Payload)
	}
}
