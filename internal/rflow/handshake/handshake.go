// Package handshake implements the rflow greeting exchange: the server emits
// a fixed two-line preamble and the client validates it under a cumulative
// deadline. Mirrors the teacher's handshake package split (a server-side
// writer, a client-side reader) but the protocol itself is a one-directional
// greeting, not a multi-round-trip FSM.
package handshake

import (
	"bufio"
	stdErrors "errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	rerrors "github.com/alxayo/rflow/internal/errors"
	"github.com/alxayo/rflow/internal/logger"
	"github.com/alxayo/rflow/internal/rflow/deadline"
	"github.com/alxayo/rflow/internal/rflow/wire"
)

// Server writes the handshake bytes verbatim to w. The caller is responsible
// for setting any write deadline beforehand; this is a single Write call so
// the "exact byte sequence before any other bytes" invariant holds as long as
// nothing else has written to w yet.
func Server(w io.Writer) error {
	if _, err := io.WriteString(w, wire.GreetingLines()); err != nil {
		return rerrors.NewIOError("handshake.write", err)
	}
	return nil
}

// Client validates the server's greeting and consumes the header block,
// applying the Operation's remaining budget to every individual read. On
// success the reader is positioned immediately after the "---" line.
func Client(conn net.Conn, r *bufio.Reader, op *deadline.Operation) error {
	log := logger.Logger().With("phase", "handshake", "side", "client")

	if err := applyReadDeadline(conn, op); err != nil {
		return err
	}
	line, err := readLine(r)
	if err != nil {
		return wrapReadErr(err)
	}
	version, err := parseGreeting(line)
	if err != nil {
		return err
	}
	if version != wire.APIVersion {
		return rerrors.NewAPIVersionError(version)
	}

	log.Debug("reading headers")
	for {
		if err := applyReadDeadline(conn, op); err != nil {
			return err
		}
		line, err := readLine(r)
		if err != nil {
			return wrapReadErr(err)
		}
		if line == wire.HeadersEnd {
			log.Debug("handshake complete", "api_version", version)
			return nil
		}
		// headers are reserved for future use; ignore their content.
	}
}

// parseGreeting validates the "GREETING/VERSION" line and extracts VERSION.
func parseGreeting(line string) (uint8, error) {
	parts := strings.SplitN(line, "/", 2)
	if len(parts) != 2 || parts[0] != wire.Greeting {
		return 0, rerrors.ErrInvalidData
	}
	v, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 8)
	if err != nil {
		return 0, rerrors.ErrInvalidData
	}
	return uint8(v), nil
}

// applyReadDeadline sets conn's read deadline to the operation's remaining
// budget, converting an already-expired operation into a Timeout error.
func applyReadDeadline(conn net.Conn, op *deadline.Operation) error {
	remaining, err := op.Remaining()
	if err != nil {
		return err
	}
	if err := conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
		return rerrors.NewIOError("handshake.set_read_deadline", err)
	}
	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// wrapReadErr classifies a failed header/greeting read: a network timeout
// becomes a Timeout error, anything else (including EOF) is invalid data
// since the handshake grammar was not satisfied.
func wrapReadErr(err error) error {
	var netErr interface{ Timeout() bool }
	if stdErrors.As(err, &netErr) && netErr.Timeout() {
		return rerrors.NewTimeoutError("handshake.read", err)
	}
	return fmt.Errorf("%w: %v", rerrors.ErrInvalidData, err)
}
