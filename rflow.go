// Package rflow is a line-oriented, bidirectional TCP messaging protocol:
// a broadcast server that fans every client's lines out to every connected
// client (including the sender), and a client that dials it. Most
// applications only need the package-level default server below; the
// internal/rflow/server and internal/rflow/client packages are available
// directly for multi-server or advanced use.
package rflow

import (
	"net"
	"sync"

	rerrors "github.com/alxayo/rflow/internal/errors"
	"github.com/alxayo/rflow/internal/rflow/client"
	"github.com/alxayo/rflow/internal/rflow/server"
	"github.com/alxayo/rflow/internal/rflow/wire"
)

// Direction tags a message as originating from a client or the server.
type Direction = wire.Direction

// ClientToServer and ServerToClient are the two Direction values a Message
// can carry.
const (
	ClientToServer = wire.ClientToServer
	ServerToClient = wire.ServerToClient
)

// Message is one classified line: a direction tag and its payload.
type Message = server.Message

var (
	defaultOnce   sync.Once
	defaultServer *server.Server
)

// defaultServerInstance lazily constructs the package-level default server,
// the way the reference implementation's default server is a lazily
// initialized global singleton rather than something every caller must
// construct themselves.
func defaultServerInstance() *server.Server {
	defaultOnce.Do(func() {
		defaultServer = server.New()
	})
	return defaultServer
}

// Serve starts the default server listening on addr and blocks until it is
// closed.
func Serve(addr string) error {
	return defaultServerInstance().Serve(addr)
}

// Spawn starts the default server listening on addr in a background
// goroutine and returns its authoritative incoming channel. The data
// channel can only be taken once across the process, whether via Spawn or
// TakeDataChannel.
func Spawn(addr string) (<-chan Message, error) {
	srv := defaultServerInstance()
	ch, err := srv.TakeDataChannel()
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, rerrors.NewIOError("rflow.spawn.listen", err)
	}
	go func() { _ = srv.ServeWithListener(ln) }()
	return ch, nil
}

// Send broadcasts payload to every client connected to the default server.
func Send(payload string) {
	defaultServerInstance().Send(payload)
}

// TakeDataChannel hands out the default server's authoritative incoming
// channel. It may be called exactly once.
func TakeDataChannel() (<-chan Message, error) {
	return defaultServerInstance().TakeDataChannel()
}

// Connect dials addr as a client of an rflow server using the reference
// default options.
func Connect(addr string) (*client.Client, error) {
	return client.Connect(addr)
}

// ConnectWithOptions dials addr as a client with caller-supplied options.
func ConnectWithOptions(addr string, opts client.Options) (*client.Client, error) {
	return client.ConnectWithOptions(addr, opts)
}
