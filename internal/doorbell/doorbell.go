// Package doorbell implements the kernel-level wake primitive between
// the host and each cell (spec.md §4.B). Linux gets a real eventfd via
// golang.org/x/sys/unix; other platforms fall back to a socketpair
// (a blocking-read byte channel over a pair of connected file
// descriptors), which gives the same "write one byte to wake a
// blocked reader" contract at the cost of one extra byte per wake
// instead of eventfd's coalescing counter.
package doorbell

import (
	"sync/atomic"
)

// Doorbell is one direction of a peer's wake channel: a writer rings it
// after pushing a frame to a now-non-empty ring; a reader blocks on it
// until rung, then drains the ring.
type Doorbell struct {
	fd      int
	pending atomic.Bool // best-effort: collapses bursts before the syscall observes them
}

// New wraps an already-created file descriptor (inherited by a spawned
// cell, or the host's half of a pair created by NewPair).
func New(fd int) *Doorbell {
	return &Doorbell{fd: fd}
}

// FD returns the underlying file descriptor, for passing to a spawned
// cell's environment (spec.md §6) or for registering with a poller.
func (d *Doorbell) FD() int { return d.fd }

// Ring writes one wake byte iff no byte is already pending, satisfying
// spec.md §4.B invariant (ii): "at most one pending byte per peer
// direction is outstanding". The actual write happens in write,
// implemented per-OS in doorbell_linux.go / doorbell_other.go.
func (d *Doorbell) Ring() error {
	if !d.pending.CompareAndSwap(false, true) {
		return nil
	}
	return d.write()
}

// Wait blocks until rung, then clears pending and returns. Callers must
// re-check ring emptiness after waking (spurious-wakeup safety, §9):
// Wait only promises "you were rung at least once", not "the ring is
// non-empty right now".
func (d *Doorbell) Wait() error {
	defer d.pending.Store(false)
	return d.read()
}

// NewPair creates a doorbell pair: peerFD is the peer's end (handed to
// the spawned cell, inherited across fork/exec), hostFD is the host's
// end. On Linux these are two independent eventfds; elsewhere they are
// the two ends of one connected socketpair.
func NewPair() (peerFD, hostFD int, err error) {
	return newPairOS()
}
