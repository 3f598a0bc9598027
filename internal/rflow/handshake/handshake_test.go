package handshake

import (
	"bufio"
	"bytes"
	"net"
	"testing"
	"time"

	rerrors "github.com/alxayo/rflow/internal/errors"
	"github.com/alxayo/rflow/internal/rflow/deadline"
)

func TestServerWritesGreetingVerbatim(t *testing.T) {
	var buf bytes.Buffer
	if err := Server(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "RFLOW/1\n---\n" {
		t.Fatalf("unexpected bytes: %q", buf.String())
	}
}

func TestClientAcceptsValidGreeting(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		_, _ = c2.Write([]byte("RFLOW/1\nx-custom: ignored\n---\n"))
	}()

	op := deadline.New(time.Second)
	if err := Client(c1, bufio.NewReader(c1), op); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientRejectsBadGreeting(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		_, _ = c2.Write([]byte("NOPE/1\n---\n"))
	}()

	op := deadline.New(time.Second)
	err := Client(c1, bufio.NewReader(c1), op)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClientRejectsUnsupportedVersion(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		_, _ = c2.Write([]byte("RFLOW/99\n---\n"))
	}()

	op := deadline.New(time.Second)
	err := Client(c1, bufio.NewReader(c1), op)
	var apiErr *rerrors.APIVersionError
	if err == nil {
		t.Fatal("expected error")
	}
	if !errorsAs(err, &apiErr) {
		t.Fatalf("expected APIVersionError, got %v (%T)", err, err)
	}
	if apiErr.Version != 99 {
		t.Fatalf("unexpected version: %d", apiErr.Version)
	}
}

func TestClientTimesOutOnExpiredOperation(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	op := deadline.New(1 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	err := Client(c1, bufio.NewReader(c1), op)
	if !rerrors.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func errorsAs(err error, target **rerrors.APIVersionError) bool {
	if ve, ok := err.(*rerrors.APIVersionError); ok {
		*target = ve
		return true
	}
	return false
}
