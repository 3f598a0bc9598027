package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	rerrors "github.com/alxayo/rflow/internal/errors"
	"github.com/alxayo/rflow/internal/rflow/wire"
)

func startTestServer(t *testing.T, configure func(*Server)) (*Server, string, func()) {
	t.Helper()
	s := New()
	s.SetTimeout(2 * time.Second)
	if configure != nil {
		configure(s)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = s.ServeWithListener(ln)
		close(done)
	}()
	return s, ln.Addr().String(), func() {
		_ = s.Close()
		<-done
	}
}

func dialAndHandshake(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil || line != "RFLOW/1\n" {
		t.Fatalf("unexpected greeting: %q err=%v", line, err)
	}
	line, err = r.ReadString('\n')
	if err != nil || line != "---\n" {
		t.Fatalf("unexpected headers-end: %q err=%v", line, err)
	}
	return conn
}

func TestHandshakeAndEcho(t *testing.T) {
	_, addr, stop := startTestServer(t, nil)
	defer stop()

	conn := dialAndHandshake(t, addr)
	defer conn.Close()

	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != ">>>hello\n" {
		t.Fatalf("expected loopback broadcast, got %q", line)
	}
}

func TestTakeDataChannelDeliversClientMessage(t *testing.T) {
	srv, addr, stop := startTestServer(t, nil)
	defer stop()

	ch, err := srv.TakeDataChannel()
	if err != nil {
		t.Fatalf("take data channel: %v", err)
	}

	conn := dialAndHandshake(t, addr)
	defer conn.Close()
	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Direction != wire.ClientToServer || msg.Payload != "ping" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestTakeDataChannelOnlyOnce(t *testing.T) {
	srv, _, stop := startTestServer(t, nil)
	defer stop()

	if _, err := srv.TakeDataChannel(); err != nil {
		t.Fatalf("first take: %v", err)
	}
	if _, err := srv.TakeDataChannel(); err != rerrors.ErrDataChannelTaken {
		t.Fatalf("expected ErrDataChannelTaken, got %v", err)
	}
}

func TestSetIncomingQueueSizeAfterTakeFails(t *testing.T) {
	srv := New()
	if _, err := srv.TakeDataChannel(); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := srv.SetIncomingQueueSize(4); err != rerrors.ErrDataChannelTaken {
		t.Fatalf("expected ErrDataChannelTaken, got %v", err)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	_, addr, stop := startTestServer(t, nil)
	defer stop()

	a := dialAndHandshake(t, addr)
	defer a.Close()
	b := dialAndHandshake(t, addr)
	defer b.Close()

	// Give the server a moment to register both connections before sending.
	time.Sleep(50 * time.Millisecond)

	if _, err := a.Write([]byte("hi\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, conn := range []net.Conn{a, b} {
		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		if err != nil || line != ">>>hi\n" {
			t.Fatalf("unexpected broadcast on one client: %q err=%v", line, err)
		}
	}
}

func TestSlowConsumerDropsWithoutBlockingOthers(t *testing.T) {
	_, addr, stop := startTestServer(t, func(s *Server) {
		_ = s.SetIncomingQueueSize(128)
		s.SetOutgoingQueueSize(1)
	})
	defer stop()

	slow := dialAndHandshake(t, addr)
	defer slow.Close()
	fast := dialAndHandshake(t, addr)
	defer fast.Close()

	time.Sleep(50 * time.Millisecond)

	// Send several lines. The slow client never reads, so anything that backs
	// up in its queue of one is dropped for it. Fast reads each loopback
	// before sending the next line, so its own queue of one never overflows
	// and it must receive every broadcast.
	r := bufio.NewReader(fast)
	for i := 0; i < 5; i++ {
		if _, err := fast.Write([]byte("msg\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := r.ReadString('\n'); err != nil {
			t.Fatalf("fast client should keep receiving broadcasts: %v", err)
		}
	}
}

func TestAdmissionControlBlocksBeyondMaxClients(t *testing.T) {
	_, addr, stop := startTestServer(t, func(s *Server) {
		s.SetMaxClients(1)
	})
	defer stop()

	// First connection consumes the sole permit and completes its handshake.
	first, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	r1 := bufio.NewReader(first)
	if _, err := r1.ReadString('\n'); err != nil {
		t.Fatalf("first handshake line: %v", err)
	}

	// Second connection is accepted at the TCP level but must not receive a
	// greeting until the first client disconnects and releases its permit.
	second, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	r2 := bufio.NewReader(second)
	if _, err := r2.ReadString('\n'); err == nil {
		t.Fatal("expected second client to be blocked pending admission")
	}

	_ = first.Close()

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r2.ReadString('\n')
	if err != nil || line != "RFLOW/1\n" {
		t.Fatalf("expected second client to be admitted after first disconnected: %q err=%v", line, err)
	}
}

// TestInboundLinesAreAlwaysClientToServer pins the server-side rule that
// inbound lines are never direction-classified: try_send never frames its
// payload, so every line read from a client is tagged ClientToServer
// unconditionally, regardless of its content. A line that happens to look
// like a direction-prefixed frame is still delivered and broadcast verbatim,
// with the server's own outgoing framing layered on top of the whole thing.
func TestInboundLinesAreAlwaysClientToServer(t *testing.T) {
	srv, addr, stop := startTestServer(t, nil)
	defer stop()

	ch, err := srv.TakeDataChannel()
	if err != nil {
		t.Fatalf("take data channel: %v", err)
	}

	conn := dialAndHandshake(t, addr)
	defer conn.Close()

	for _, payload := range []string{"no-prefix", ">>>looks-prefixed"} {
		if _, err := conn.Write([]byte(payload + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}

		select {
		case msg := <-ch:
			if msg.Direction != wire.ClientToServer || msg.Payload != payload {
				t.Fatalf("unexpected message: %+v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}

		r := bufio.NewReader(conn)
		want := ">>>" + payload + "\n"
		line, err := r.ReadString('\n')
		if err != nil || line != want {
			t.Fatalf("unexpected loopback broadcast: got %q want %q err=%v", line, want, err)
		}
	}
}
