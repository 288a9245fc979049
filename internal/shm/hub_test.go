package shm

import (
	"testing"

	"github.com/bearcove/dodeca-sub000/internal/logging"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	classes := []SlotClassConfig{
		{SizeBytes: 64, Count: 4},
		{SizeBytes: 256, Count: 2},
	}
	h, err := Open("", 1<<20, classes, logging.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestAllocateAndFreeConserveSlots(t *testing.T) {
	h := newTestHub(t)

	var allocated []struct {
		class int
		slot  uint32
	}
	for i := 0; i < 6; i++ {
		class, slot, err := h.Allocate(64)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		allocated = append(allocated, struct {
			class int
			slot  uint32
		}{class, slot})
	}

	if _, _, err := h.Allocate(64); err == nil {
		t.Fatalf("expected SlotExhausted once the first class and its fallback are both drained")
	}

	for _, a := range allocated {
		h.Free(a.class, a.slot)
	}

	snap := h.Snapshot()
	var total uint32
	for _, c := range snap.SlotClasses {
		if c.Free != c.Total {
			t.Fatalf("class %d: expected all %d slots free after returning them, got %d", c.SizeBytes, c.Total, c.Free)
		}
		total += c.Total
	}
	if total != 6 {
		t.Fatalf("expected 6 total slots across classes, got %d", total)
	}
}

func TestAllocateFallsBackToNextClass(t *testing.T) {
	h := newTestHub(t)

	// Drain the small class entirely.
	for i := 0; i < 4; i++ {
		if _, _, err := h.Allocate(64); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}

	class, _, err := h.Allocate(64)
	if err != nil {
		t.Fatalf("expected fallback to the 256-byte class, got error: %v", err)
	}
	if class != 1 {
		t.Fatalf("expected fallback class index 1, got %d", class)
	}
}

func TestAddPeerAndReclaim(t *testing.T) {
	h := newTestHub(t)

	handles, err := h.AddPeer(0, 0)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	snap := h.Snapshot()
	if len(snap.Peers) != 1 || snap.Peers[0].PeerID != handles.PeerID {
		t.Fatalf("expected one active peer %d in snapshot, got %+v", handles.PeerID, snap.Peers)
	}
	if snap.Peers[0].State != PeerActive {
		t.Fatalf("expected PeerActive, got %v", snap.Peers[0].State)
	}

	h.Reclaim(handles.PeerID)

	snap = h.Snapshot()
	if len(snap.Peers) != 0 {
		t.Fatalf("expected no active peers after Reclaim, got %+v", snap.Peers)
	}
}

func TestAddPeerFailsWhenTableFull(t *testing.T) {
	h := newTestHub(t)
	h.peerCap = 1 // shrink the table to exercise PeerTableFull without allocating 256 rows

	if _, err := h.AddPeer(0, 0); err != nil {
		t.Fatalf("first AddPeer: %v", err)
	}
	if _, err := h.AddPeer(0, 0); err == nil {
		t.Fatalf("expected PeerTableFull on the second AddPeer")
	}
}
