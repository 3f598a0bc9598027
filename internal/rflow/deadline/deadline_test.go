package deadline

import (
	"testing"
	"time"

	rerrors "github.com/alxayo/rflow/internal/errors"
)

func TestRemainingWithinBudget(t *testing.T) {
	op := New(50 * time.Millisecond)
	d, err := op.Remaining()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d <= 0 || d > 50*time.Millisecond {
		t.Fatalf("unexpected remaining duration: %v", d)
	}
}

func TestRemainingExpired(t *testing.T) {
	op := New(1 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, err := op.Remaining()
	if !rerrors.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
