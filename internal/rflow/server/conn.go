package server

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/alxayo/rflow/internal/bufpool"
	"github.com/alxayo/rflow/internal/logger"
	"github.com/alxayo/rflow/internal/rflow/handshake"
	"github.com/alxayo/rflow/internal/rflow/wire"
)

// connHandler owns one accepted, admitted connection from handshake through
// teardown. Split out of Server.handleConn the way the teacher keeps
// conn.Connection separate from server.go's accept loop.
type connHandler struct {
	srv     *Server
	conn    net.Conn
	timeout time.Duration
	log     *slog.Logger

	id       uint64
	outgoing chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func newConnHandler(srv *Server, conn net.Conn, timeout time.Duration) *connHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &connHandler{
		srv:     srv,
		conn:    conn,
		timeout: timeout,
		log:     logger.WithConn(srv.log, conn.RemoteAddr().String()),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// run performs the handshake, registers the connection, and blocks until
// both its read and write loops exit.
func (h *connHandler) run() {
	defer h.teardown()

	if err := h.conn.SetWriteDeadline(time.Now().Add(h.timeout)); err != nil {
		h.log.Debug("set write deadline failed", "error", err)
		return
	}
	if err := handshake.Server(h.conn); err != nil {
		h.log.Warn("handshake failed", "error", err)
		return
	}
	if err := h.conn.SetWriteDeadline(time.Time{}); err != nil {
		h.log.Debug("clear write deadline failed", "error", err)
		return
	}

	h.srv.mu.Lock()
	outgoingQueueSize := h.srv.outgoingQueueSize
	h.srv.mu.Unlock()
	h.id, h.outgoing = h.srv.reg.register(outgoingQueueSize)
	h.log = logger.WithClient(h.srv.log, h.id, h.conn.RemoteAddr().String())
	h.log.Info("client connected", "client_count", h.srv.reg.count())

	h.wg.Add(2)
	go h.writeLoop()
	go h.readLoop()
	h.wg.Wait()
}

func (h *connHandler) teardown() {
	h.closeOnce.Do(func() {
		h.cancel()
		_ = h.conn.Close()
		if h.outgoing != nil {
			h.srv.reg.unregister(h.id)
			h.log.Info("client disconnected", "client_count", h.srv.reg.count())
		}
	})
}

// writeLoop drains outgoing and writes each frame through a pooled buffer
// taken from the size class that fits the frame and returned after the write.
func (h *connHandler) writeLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case msg, ok := <-h.outgoing:
			if !ok {
				return
			}
			buf := bufpool.Get(len(msg.Payload) + 4)[:0]
			buf = wire.AppendFrame(buf, msg.Direction, msg.Payload)
			if err := h.conn.SetWriteDeadline(time.Now().Add(h.timeout)); err != nil {
				bufpool.Put(buf)
				h.log.Debug("set write deadline failed", "error", err)
				return
			}
			_, err := h.conn.Write(buf)
			bufpool.Put(buf)
			if err != nil {
				h.log.Debug("write failed", "error", err)
				return
			}
		}
	}
}

// readLoop reads every raw, unprefixed line the client sends (try_send never
// frames its payload with a direction prefix) and unconditionally tags it
// ClientToServer — the server never inspects an inbound line's content for a
// prefix. Each line is both delivered to the server's authoritative incoming
// channel (blocking send: the app is expected to keep up with its own inbound
// stream) and broadcast, non-blocking, to every connected client's outgoing
// queue including this connection's own — the registry has no echo
// suppression.
func (h *connHandler) readLoop() {
	defer h.wg.Done()
	defer h.cancel()

	r := bufio.NewReader(h.conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			h.log.Debug("read loop closed", "error", err)
			return
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if line == "" {
			if err != nil {
				return
			}
			continue
		}

		msg := Message{Direction: wire.ClientToServer, Payload: line}

		select {
		case h.srv.incoming <- msg:
		case <-h.ctx.Done():
			return
		}

		h.srv.reg.broadcast(msg, func(id uint64) {
			h.log.Warn("dropped broadcast message: queue full", "recipient_client_id", id)
		})

		if err != nil {
			return
		}
	}
}
