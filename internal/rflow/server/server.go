// Package server implements the rflow line protocol's server half: an
// admission-controlled accept loop, per-connection handshake and read/write
// goroutines, and a broadcast registry. Structured after the teacher's
// server.go (Config with applyDefaults, Start/Stop lifecycle, RWMutex-guarded
// connection map, singleConnListener-style accept loop) generalized from an
// RTMP listener into a line-broadcast listener, and after registry.go's
// lock-held-across-iteration broadcast pattern.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	rerrors "github.com/alxayo/rflow/internal/errors"
	"github.com/alxayo/rflow/internal/logger"
	"github.com/alxayo/rflow/internal/rflow/wire"
)

// Defaults mirror the protocol's reference constants.
const (
	DefaultTimeout           = 5 * time.Second
	DefaultMaxClients        = 16
	DefaultIncomingQueueSize = 128
	DefaultOutgoingQueueSize = 128
)

// Server is one rflow broadcast server. The zero value is not usable; build
// one with New.
type Server struct {
	log *slog.Logger

	mu                sync.Mutex
	timeout           time.Duration
	maxClients        int
	incomingQueueSize int
	outgoingQueueSize int

	reg      *registry
	incoming chan Message
	taken    bool

	ln      net.Listener
	closing bool
	wg      sync.WaitGroup
}

// New creates a Server with the reference default configuration. Use the
// Set* methods to override any of them before calling Serve.
func New() *Server {
	return &Server{
		log:               logger.Logger().With("component", "rflow_server"),
		timeout:           DefaultTimeout,
		maxClients:        DefaultMaxClients,
		incomingQueueSize: DefaultIncomingQueueSize,
		outgoingQueueSize: DefaultOutgoingQueueSize,
		reg:               newRegistry(),
		incoming:          make(chan Message, DefaultIncomingQueueSize),
	}
}

// SetTimeout overrides the handshake/write deadline. ServeWithListener reads
// it once at start, so a change made while serving only affects the next
// call to Serve.
func (s *Server) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// SetMaxClients overrides the admission ceiling. Per the reference design,
// a running Serve loop snapshots max clients at start; this only affects
// the next call to Serve.
func (s *Server) SetMaxClients(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxClients = n
}

// SetIncomingQueueSize overrides the capacity of the channel TakeDataChannel
// hands out. It is an error to call this after the channel has already been
// taken, since an existing channel's capacity cannot be resized in place.
func (s *Server) SetIncomingQueueSize(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken {
		return rerrors.ErrDataChannelTaken
	}
	s.incomingQueueSize = n
	s.incoming = make(chan Message, n)
	return nil
}

// SetOutgoingQueueSize overrides the per-client outgoing queue capacity used
// for connections accepted from now on.
func (s *Server) SetOutgoingQueueSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoingQueueSize = n
}

// TakeDataChannel hands out the receive-only channel of messages read from
// every connected client. It may be called exactly once.
func (s *Server) TakeDataChannel() (<-chan Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taken {
		return nil, rerrors.ErrDataChannelTaken
	}
	s.taken = true
	return s.incoming, nil
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	return s.reg.count()
}

// Send broadcasts payload to every connected client as a server-to-client
// frame. It is a no-op if no clients are connected.
func (s *Server) Send(payload string) {
	if s.reg.count() == 0 {
		return
	}
	msg := Message{Direction: wire.ServerToClient, Payload: payload}
	s.reg.broadcast(msg, func(id uint64) {
		s.log.Warn("dropped outgoing message: queue full", "client_id", id)
	})
}

// Serve listens on addr and runs the accept loop until the listener is
// closed via Close. It blocks until the accept loop exits.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return rerrors.NewIOError("server.listen", err)
	}
	return s.ServeWithListener(ln)
}

// ServeWithListener runs the accept loop over an already-bound listener,
// taking ownership of it (Close will close it).
func (s *Server) ServeWithListener(ln net.Listener) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return errors.New("server already serving")
	}
	s.ln = ln
	maxClients := s.maxClients
	timeout := s.timeout
	s.mu.Unlock()

	// The permit pool is snapshotted at Serve start: resizing max_clients on
	// a running server is not supported (see DESIGN.md Open Question).
	sem := semaphore.NewWeighted(int64(maxClients))

	s.log.Info("rflow server listening", "addr", ln.Addr().String(), "max_clients", maxClients)
	for {
		raw, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept error", "error", err)
			return rerrors.NewIOError("server.accept", err)
		}

		// Acquire the admission permit here, in the accept loop itself, so a
		// server already at max_clients blocks ln.Accept() from running
		// again until a client disconnects and frees a permit. Acquiring
		// inside the spawned goroutine instead would let the loop keep
		// accepting (and holding open) unbounded raw sockets regardless of
		// max_clients.
		if err := sem.Acquire(context.Background(), 1); err != nil {
			_ = raw.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(raw, sem, timeout)
	}
}

// handleConn completes the handshake and runs the connection's read/write
// loops until it is torn down, releasing its already-held admission permit
// when it finishes.
func (s *Server) handleConn(conn net.Conn, sem *semaphore.Weighted, timeout time.Duration) {
	defer s.wg.Done()
	defer sem.Release(1)

	newConnHandler(s, conn, timeout).run()
}

// Close stops accepting new connections and closes the listener. It does
// not close already-connected clients: their handlers keep running until
// each client disconnects, and ServeWithListener returns only after all of
// them have finished.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Addr returns the bound listener address, or nil if Serve hasn't run yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
