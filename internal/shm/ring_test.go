package shm

import (
	"bytes"
	"testing"
)

func newTestRing(capacity uint64) *Ring {
	region := make([]byte, 16+capacity)
	return NewRing(region, 0, 8, 16, capacity)
}

func TestRingFIFO(t *testing.T) {
	r := newTestRing(16)

	if _, err := r.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := r.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 10)
	n := r.Read(buf)
	if n != 10 || string(buf) != "helloworld" {
		t.Fatalf("expected FIFO order helloworld, got %q (n=%d)", buf[:n], n)
	}
}

func TestRingAtCapacityMinusOneAcceptsOneMoreAfterRead(t *testing.T) {
	r := newTestRing(4)

	if _, err := r.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if r.IsFull() {
		t.Fatalf("ring with 3 of 4 bytes used should not yet be full")
	}
	if _, err := r.Write([]byte{4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !r.IsFull() {
		t.Fatalf("expected ring to be full at capacity")
	}
	if _, err := r.Write([]byte{5}); err == nil {
		t.Fatalf("expected write to fail when ring is full")
	}

	buf := make([]byte, 1)
	r.Read(buf)
	if r.IsFull() {
		t.Fatalf("expected ring to accept a write again after a read frees a byte")
	}
	if _, err := r.Write([]byte{5}); err != nil {
		t.Fatalf("expected write to succeed after a read freed one byte: %v", err)
	}
}

func TestRingWraparound(t *testing.T) {
	r := newTestRing(4)

	r.Write([]byte{1, 2, 3, 4})
	out := make([]byte, 2)
	r.Read(out) // consumes 1, 2; tail now at data offset 2

	r.Write([]byte{5, 6}) // wraps: head is 4, so 5 and 6 land at data positions 0 and 1

	rest := make([]byte, 4)
	n := r.Read(rest)
	if n != 4 || !bytes.Equal(rest, []byte{3, 4, 5, 6}) {
		t.Fatalf("expected wraparound order [3 4 5 6], got %v (n=%d)", rest[:n], n)
	}
}

func TestRingEmptyTransition(t *testing.T) {
	r := newTestRing(16)

	transitioned, err := r.Write([]byte("a"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !transitioned {
		t.Fatalf("expected the first write into an empty ring to report a transition")
	}

	transitioned, err = r.Write([]byte("b"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if transitioned {
		t.Fatalf("expected a write into a non-empty ring to not report a transition (spec.md §4.B invariant i)")
	}
}
