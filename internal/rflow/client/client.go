// Package client implements the rflow line protocol's client half: dial,
// handshake, a background reader that classifies incoming lines, and a
// synchronous writer for outgoing lines. Structured after the teacher's
// conn package (context-scoped goroutines joined via sync.WaitGroup,
// logger.WithConn-style structured logging) adapted from a one-shot
// accepted-connection wrapper into an outbound dialer.
package client

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rerrors "github.com/alxayo/rflow/internal/errors"
	"github.com/alxayo/rflow/internal/logger"
	"github.com/alxayo/rflow/internal/rflow/deadline"
	"github.com/alxayo/rflow/internal/rflow/handshake"
	"github.com/alxayo/rflow/internal/rflow/wire"
)

// DefaultTimeout bounds the entire connect sequence (resolve, dial,
// handshake) as one cumulative budget, and is reused as the per-write
// deadline for TrySend.
const DefaultTimeout = 5 * time.Second

// DefaultQueueSize is the capacity of the channel the reader goroutine
// delivers classified messages into.
const DefaultQueueSize = 128

// Message is one classified line delivered to the application.
type Message struct {
	Direction wire.Direction
	Payload   string
}

// Options configures Connect. ConnectWithOptions replaces a zero or
// negative field with its default from DefaultOptions.
type Options struct {
	Timeout   time.Duration
	QueueSize int
}

// DefaultOptions returns the options Connect uses implicitly.
func DefaultOptions() Options {
	return Options{Timeout: DefaultTimeout, QueueSize: DefaultQueueSize}
}

// Client is one dialed, handshaken connection to an rflow server.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	log    *slog.Logger

	writeMu   sync.Mutex
	writeTO   time.Duration
	connected atomic.Bool

	incoming chan Message
	taken    atomic.Bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect dials addr with DefaultOptions.
func Connect(addr string) (*Client, error) {
	return ConnectWithOptions(addr, DefaultOptions())
}

// ConnectWithOptions resolves addr, dials it, and runs the handshake, all
// under a single cumulative deadline. On success the returned Client's
// reader goroutine is already running.
func ConnectWithOptions(addr string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	addr = withDefaultPort(addr)

	op := deadline.New(opts.Timeout)

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, rerrors.ErrInvalidAddress
	}
	remaining, err := op.Remaining()
	if err != nil {
		return nil, err
	}
	ips, err := lookupHost(host, remaining)
	if err != nil || len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s", rerrors.ErrInvalidAddress, host)
	}

	remaining, err = op.Remaining()
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: remaining}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, rerrors.NewIOError("client.dial", err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	reader := bufio.NewReader(conn)
	if err := handshake.Client(conn, reader, op); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, rerrors.NewIOError("client.clear_read_deadline", err)
	}

	c := &Client{
		conn:     conn,
		reader:   reader,
		log:      logger.WithConn(logger.Logger(), conn.RemoteAddr().String()),
		writeTO:  opts.Timeout,
		incoming: make(chan Message, opts.QueueSize),
	}
	c.connected.Store(true)
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func lookupHost(host string, timeout time.Duration) ([]net.IPAddr, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if strings.Contains(addr, ":") {
		return addr
	}
	return net.JoinHostPort(addr, wire.DefaultPort)
}

// IsConnected reports whether the connection is still believed open. It can
// go stale between the check and a subsequent TrySend if the peer just
// closed the socket; TrySend's own error is authoritative.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// TrySend writes one raw, unprefixed line to the server under the client's
// configured write timeout. Direction prefixes are a server-outbound-stream
// concept only (disambiguating ServerToClient sends from ClientToServer
// loopback); the server always tags everything it reads from a client
// ClientToServer without inspecting the line's content.
func (c *Client) TrySend(payload string) error {
	if !c.connected.Load() {
		return rerrors.NewIOError("client.send", net.ErrClosed)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTO)); err != nil {
		return rerrors.NewIOError("client.set_write_deadline", err)
	}
	line := []byte(payload + "\n")
	if _, err := c.conn.Write(line); err != nil {
		c.connected.Store(false)
		return rerrors.NewIOError("client.write", err)
	}
	return nil
}

// TakeDataChannel hands out the receive-only channel of classified incoming
// messages. It may be called exactly once; subsequent calls return
// ErrDataChannelTaken, mirroring the server's single-take registry channel.
func (c *Client) TakeDataChannel() (<-chan Message, error) {
	if !c.taken.CompareAndSwap(false, true) {
		return nil, rerrors.ErrDataChannelTaken
	}
	return c.incoming, nil
}

// Close shuts down the connection and waits for the reader goroutine to
// exit. Safe to call more than once.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		closeErr = c.conn.Close()
		c.wg.Wait()
	})
	return closeErr
}

// readLoop classifies every line the server sends. A line carrying a
// recognized direction prefix updates the "last direction" local state; a
// bare line with no prefix inherits that state as a continuation of the
// previous frame. A bare line observed before any prefixed line has ever
// arrived is a protocol violation and terminates the connection, per the
// handshake/framing contract.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.incoming)
	defer c.connected.Store(false)

	var lastDir wire.Direction
	haveLastDir := false

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if line == "" {
				c.log.Debug("read loop closed", "error", err)
				return
			}
			// fall through: process the partial line read before the error,
			// then exit on the next iteration's read failure.
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if line == "" {
			if err != nil {
				return
			}
			continue
		}

		dir, payload, ok := wire.SplitPrefix(line)
		if ok {
			lastDir = dir
			haveLastDir = true
		} else {
			if !haveLastDir {
				c.log.Warn("continuation line before any direction was established; closing")
				_ = c.conn.Close()
				return
			}
			dir = lastDir
			payload = line
		}

		// Blocking send: a client that never drains incoming backs up the
		// reader intentionally rather than silently dropping its own
		// inbound stream (the server's per-client queue is where drops are
		// acceptable, not here).
		c.incoming <- Message{Direction: dir, Payload: payload}

		if err != nil {
			return
		}
	}
}
