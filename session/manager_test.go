package session

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager(zerolog.Nop())

	s, err := m.Acquire("conv-1", "msg-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if m.Active() != s {
		t.Fatalf("acquired session must be active")
	}

	if _, err := m.Acquire("conv-2", "msg-2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second acquire must fail with ErrBusy, got %v", err)
	}

	s.Release()
	if m.Active() != nil {
		t.Fatalf("released session must clear active")
	}

	if _, err := m.Acquire("conv-2", "msg-2"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(zerolog.Nop())

	s1, err := m.Acquire("conv-1", "msg-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s1.Release()

	s2, err := m.Acquire("conv-2", "msg-2")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// A stale double release must not evict the new holder.
	s1.Release()
	if m.Active() != s2 {
		t.Fatalf("stale release evicted the current session")
	}
}
