// Package deadline tracks a single cumulative deadline across a sequence of
// otherwise-independent blocking steps (DNS resolution, dial, handshake
// reads), the way the connect-time "operation" budget in the protocol this
// module is modelled on is tracked.
package deadline

import (
	"time"

	rerrors "github.com/alxayo/rflow/internal/errors"
)

// Operation is a cumulative deadline started at construction time.
type Operation struct {
	deadline time.Time
}

// New starts an Operation that expires after timeout.
func New(timeout time.Duration) *Operation {
	return &Operation{deadline: time.Now().Add(timeout)}
}

// Remaining returns the time left before the operation's deadline. It
// returns a *rerrors.TimeoutError if the deadline has already passed.
func (o *Operation) Remaining() (time.Duration, error) {
	d := time.Until(o.deadline)
	if d <= 0 {
		return 0, rerrors.NewTimeoutError("operation", nil)
	}
	return d, nil
}
