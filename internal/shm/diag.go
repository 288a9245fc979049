package shm

import "sync/atomic"

// PeerSnapshot is one peer row's diagnostic view.
type PeerSnapshot struct {
	PeerID uint32
	State  PeerState
}

// SlotClassSnapshot is one size class's diagnostic view.
type SlotClassSnapshot struct {
	SizeBytes uint32
	Total     uint32
	Free      uint32
}

// Snapshot is the hub's signal-safe diagnostic view (spec.md §4.A
// "Diagnostics"): obtainable without locks. Each call allocates the
// Peers and SlotClasses slices it returns.
type Snapshot struct {
	Epoch       uint64
	Peers       []PeerSnapshot
	SlotClasses []SlotClassSnapshot
}

// Snapshot reads the hub's current diagnostic state using only atomic
// loads over the mapped region — no mutex is taken, so this is safe to
// call from a signal handler or a concurrently-racing monitor goroutine.
func (h *Hub) Snapshot() Snapshot {
	s := Snapshot{
		Epoch:       atomic.LoadUint64(h.u64At(16)),
		Peers:       make([]PeerSnapshot, 0, h.peerCap),
		SlotClasses: make([]SlotClassSnapshot, 0, len(h.slotClasses)),
	}
	for id := uint32(0); id < h.peerCap; id++ {
		off := h.peerRowOff(id)
		state := PeerState(atomic.LoadUint32(h.u32At(off + 4)))
		if state == PeerVacant {
			continue
		}
		s.Peers = append(s.Peers, PeerSnapshot{PeerID: id, State: state})
	}
	for _, c := range h.slotClasses {
		free := uint32(0)
		idx := atomic.LoadUint32(h.u32At(c.headerOff))
		for idx != nilSlotIndex && free < c.count {
			free++
			idx = atomic.LoadUint32(h.u32At(c.nextLinkOff + uint64(idx)*4))
		}
		s.SlotClasses = append(s.SlotClasses, SlotClassSnapshot{
			SizeBytes: c.sizeBytes,
			Total:     c.count,
			Free:      free,
		})
	}
	return s
}
