// Package shm implements the fixed-region shared-memory hub (spec.md
// §4.A): a single mapped region carrying a global header, a peer table,
// and a variable-size slot allocator, shared between the host process
// and every cell process it spawns.
//
// The region is laid out as:
//
//	[global header][peer table][slot free-lists by size class][slot arena]
//
// Every field a concurrent reader or writer touches after construction
// (ring head/tail, slot free-list heads, peer state, the liveness
// epoch) lives at a fixed byte offset and is accessed through
// sync/atomic over an unsafe.Pointer into the mapped bytes, so it is
// valid across process boundaries: atomicity here is a property of the
// CPU's memory model, not of a Go-level mutex that only synchronizes
// goroutines in one process.
package shm

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/rs/zerolog"

	"github.com/bearcove/dodeca-sub000/internal/doorbell"
	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

const (
	magic         uint32 = 0xD0DECA01
	headerVersion uint32 = 1
	nilSlotIndex  uint32 = 0xFFFFFFFF
	headerSize           = 64
	peerRowSize          = 48
	slotClassSize        = 32
)

// PeerState enumerates a peer table row's lifecycle state (spec.md §3 Peer).
type PeerState uint32

const (
	PeerVacant PeerState = iota
	PeerActive
	PeerDead
)

// SlotClassConfig describes one segregated free-list size class to
// provision when creating a hub.
type SlotClassConfig struct {
	SizeBytes uint32
	Count     uint32
}

// Handles returned by AddPeer: the host hands the peer-side doorbell FD
// to the spawned cell via its environment (spec.md §6).
type PeerHandles struct {
	PeerID         uint32
	PeerDoorbellFD int
	HostDoorbellFD int
}

// Hub owns the mapped region and provides peer lifecycle and slot
// allocation on top of it.
type Hub struct {
	log zerolog.Logger

	region mmap.MMap
	file   *os.File // nil for anonymous regions

	peerCap      uint32
	slotClasses  []resolvedSlotClass
	peerTableOff uint64

	mu        sync.Mutex // serializes add_peer/reclaim only; never held during Snapshot
	doorbells map[uint32]doorbellPair
}

type resolvedSlotClass struct {
	sizeBytes   uint32
	count       uint32
	headerOff   uint64 // offset of this class's free-list head (atomic uint32, slot index or nilSlotIndex)
	arenaOff    uint64 // offset of the first slot of this class in the arena
	nextLinkOff uint64 // offset of the per-slot "next free index" links table for this class
}

type doorbellPair struct {
	peerFD int
	hostFD int
}

// Open creates a hub of the given total size with the given slot
// classes, always writing a fresh layout (a path-backed file is created
// or truncated); joining an existing region is Attach. A non-empty path
// backs the region with a file so a forked cell can inherit the mapping
// by path; an empty path uses an anonymous mapping suitable for
// same-process use (tests, or a single-process dev mode).
func Open(path string, totalSize int, classes []SlotClassConfig, log zerolog.Logger) (*Hub, error) {
	if totalSize <= headerSize {
		return nil, dodecaerr.New(dodecaerr.Resource, "shm: total size too small for header")
	}

	var f *os.File
	var region mmap.MMap
	var err error

	if path != "" {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "shm: open backing file")
		}
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "shm: truncate backing file")
		}
		region, err = mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			f.Close()
			return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "shm: mmap backing file")
		}
	} else {
		region, err = mmap.MapRegion(nil, totalSize, mmap.RDWR, mmap.ANON, 0)
		if err != nil {
			return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "shm: anonymous mmap")
		}
	}

	h := &Hub{
		log:       log,
		region:    region,
		file:      f,
		doorbells: make(map[uint32]doorbellPair),
	}

	if err := h.initLayout(totalSize, classes); err != nil {
		_ = h.Close()
		return nil, err
	}

	return h, nil
}

// Attach opens an existing, already-initialized region for a cell
// process to join (identified by CorruptHeader if the magic/version
// don't match what this binary expects).
func Attach(path string, log zerolog.Logger) (*Hub, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "shm: open backing file")
	}
	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "shm: mmap backing file")
	}
	h := &Hub{log: log, region: region, file: f, doorbells: make(map[uint32]doorbellPair)}
	if err := h.readLayout(); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Hub) initLayout(totalSize int, classes []SlotClassConfig) error {
	binary.LittleEndian.PutUint32(h.region[0:4], magic)
	binary.LittleEndian.PutUint32(h.region[4:8], headerVersion)
	binary.LittleEndian.PutUint64(h.region[8:16], uint64(totalSize))
	atomic.StoreUint64(h.u64At(16), 0) // epoch

	const peerCap = 256
	binary.LittleEndian.PutUint32(h.region[24:28], peerCap)
	binary.LittleEndian.PutUint32(h.region[28:32], uint32(len(classes)))

	h.peerCap = peerCap
	h.peerTableOff = headerSize
	slotClassTableOff := h.peerTableOff + uint64(peerCap)*peerRowSize
	binary.LittleEndian.PutUint64(h.region[32:40], slotClassTableOff)
	binary.LittleEndian.PutUint64(h.region[40:48], h.peerTableOff)

	// Zero the peer table.
	for i := uint32(0); i < peerCap; i++ {
		off := h.peerTableOff + uint64(i)*peerRowSize
		atomic.StoreUint32(h.u32At(off+4), uint32(PeerVacant))
	}

	arenaOff := slotClassTableOff + uint64(len(classes))*slotClassSize
	binary.LittleEndian.PutUint64(h.region[48:56], arenaOff)

	resolved := make([]resolvedSlotClass, len(classes))
	cursor := arenaOff
	for i, c := range classes {
		entryOff := slotClassTableOff + uint64(i)*slotClassSize
		nextLinkOff := cursor
		cursor += uint64(c.Count) * 4 // one uint32 "next free" link per slot
		dataOff := cursor
		cursor += uint64(c.Count) * uint64(c.SizeBytes)

		if cursor > uint64(totalSize) {
			return dodecaerr.New(dodecaerr.Resource, "shm: slot classes exceed region size")
		}

		binary.LittleEndian.PutUint32(h.region[entryOff:entryOff+4], c.SizeBytes)
		binary.LittleEndian.PutUint32(h.region[entryOff+4:entryOff+8], c.Count)
		binary.LittleEndian.PutUint64(h.region[entryOff+8:entryOff+16], nextLinkOff)
		binary.LittleEndian.PutUint64(h.region[entryOff+16:entryOff+24], dataOff)

		// Build the initial free list: every slot points to the next, last points to nil.
		for s := uint32(0); s < c.Count; s++ {
			next := nilSlotIndex
			if s+1 < c.Count {
				next = s + 1
			}
			binary.LittleEndian.PutUint32(h.region[nextLinkOff+uint64(s)*4:nextLinkOff+uint64(s)*4+4], next)
		}
		headOff := entryOff + 24
		if c.Count > 0 {
			atomic.StoreUint32(h.u32At(headOff), 0)
		} else {
			atomic.StoreUint32(h.u32At(headOff), nilSlotIndex)
		}

		resolved[i] = resolvedSlotClass{
			sizeBytes:   c.SizeBytes,
			count:       c.Count,
			headerOff:   headOff,
			arenaOff:    dataOff,
			nextLinkOff: nextLinkOff,
		}
	}
	h.slotClasses = resolved
	return nil
}

func (h *Hub) readLayout() error {
	if binary.LittleEndian.Uint32(h.region[0:4]) != magic {
		return dodecaerr.New(dodecaerr.Protocol, "shm: magic mismatch").WithHelp("CorruptHeader")
	}
	if binary.LittleEndian.Uint32(h.region[4:8]) != headerVersion {
		return dodecaerr.New(dodecaerr.Protocol, "shm: version mismatch").WithHelp("CorruptHeader")
	}
	h.peerCap = binary.LittleEndian.Uint32(h.region[24:28])
	classCount := binary.LittleEndian.Uint32(h.region[28:32])
	slotClassTableOff := binary.LittleEndian.Uint64(h.region[32:40])
	h.peerTableOff = binary.LittleEndian.Uint64(h.region[40:48])

	resolved := make([]resolvedSlotClass, classCount)
	for i := uint32(0); i < classCount; i++ {
		entryOff := slotClassTableOff + uint64(i)*slotClassSize
		resolved[i] = resolvedSlotClass{
			sizeBytes:   binary.LittleEndian.Uint32(h.region[entryOff : entryOff+4]),
			count:       binary.LittleEndian.Uint32(h.region[entryOff+4 : entryOff+8]),
			nextLinkOff: binary.LittleEndian.Uint64(h.region[entryOff+8 : entryOff+16]),
			arenaOff:    binary.LittleEndian.Uint64(h.region[entryOff+16 : entryOff+24]),
			headerOff:   entryOff + 24,
		}
	}
	h.slotClasses = resolved
	return nil
}

// Close unmaps the region and, for a path-backed hub, closes the file.
func (h *Hub) Close() error {
	var err error
	if h.region != nil {
		err = h.region.Unmap()
	}
	if h.file != nil {
		if cerr := h.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (h *Hub) u32At(off uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&h.region[off]))
}

func (h *Hub) u64At(off uint64) *uint64 {
	return (*uint64)(unsafe.Pointer(&h.region[off]))
}

// Epoch returns the current liveness epoch.
func (h *Hub) Epoch() uint64 {
	return atomic.LoadUint64(h.u64At(16))
}

// BumpEpoch advances the liveness epoch, used when the supervisor
// restarts (so stale owner_epoch values in peer rows are recognizable).
func (h *Hub) BumpEpoch() uint64 {
	return atomic.AddUint64(h.u64At(16), 1)
}

// classForSize picks the smallest class fitting size, per spec.md §4.A.
func (h *Hub) classForSize(size int) int {
	best := -1
	for i, c := range h.slotClasses {
		if uint32(size) <= c.sizeBytes {
			if best == -1 || c.sizeBytes < h.slotClasses[best].sizeBytes {
				best = i
			}
		}
	}
	return best
}

// Allocate reserves a slot of at least size bytes, returning its class
// index and slot index within that class's arena. Falls back to the
// next larger class if the chosen class's free list is empty.
func (h *Hub) Allocate(size int) (classIdx int, slotIdx uint32, err error) {
	start := h.classForSize(size)
	if start == -1 {
		return 0, 0, dodecaerr.New(dodecaerr.Resource, "shm: no slot class fits requested size").WithHelp("SlotExhausted")
	}
	for i := start; i < len(h.slotClasses); i++ {
		if idx, ok := h.popFree(i); ok {
			return i, idx, nil
		}
	}
	return 0, 0, dodecaerr.New(dodecaerr.Resource, "shm: slot exhausted").WithHelp("SlotExhausted")
}

func (h *Hub) popFree(classIdx int) (uint32, bool) {
	c := &h.slotClasses[classIdx]
	for {
		head := atomic.LoadUint32(h.u32At(c.headerOff))
		if head == nilSlotIndex {
			return 0, false
		}
		nextOff := c.nextLinkOff + uint64(head)*4
		next := atomic.LoadUint32(h.u32At(nextOff))
		if atomic.CompareAndSwapUint32(h.u32At(c.headerOff), head, next) {
			return head, true
		}
	}
}

// Free returns a previously allocated slot to its class's free list.
func (h *Hub) Free(classIdx int, slotIdx uint32) {
	c := &h.slotClasses[classIdx]
	nextOff := c.nextLinkOff + uint64(slotIdx)*4
	for {
		head := atomic.LoadUint32(h.u32At(c.headerOff))
		atomic.StoreUint32(h.u32At(nextOff), head)
		if atomic.CompareAndSwapUint32(h.u32At(c.headerOff), head, slotIdx) {
			return
		}
	}
}

// SlotBytes returns the byte slice backing a slot, for the caller to
// read or write the framed payload into.
func (h *Hub) SlotBytes(classIdx int, slotIdx uint32) []byte {
	c := &h.slotClasses[classIdx]
	off := c.arenaOff + uint64(slotIdx)*uint64(c.sizeBytes)
	return h.region[off : off+uint64(c.sizeBytes)]
}

// SlotOffset returns the absolute region offset of a slot's first byte,
// for callers (the cell supervisor) that need to hand a ring's backing
// bytes to the rpc package as an offset into Region().
func (h *Hub) SlotOffset(classIdx int, slotIdx uint32) uint64 {
	c := &h.slotClasses[classIdx]
	return c.arenaOff + uint64(slotIdx)*uint64(c.sizeBytes)
}

// MaxSlotSize returns the largest class's size, the ceiling for FrameTooLarge.
func (h *Hub) MaxSlotSize() int {
	max := 0
	for _, c := range h.slotClasses {
		if int(c.sizeBytes) > max {
			max = int(c.sizeBytes)
		}
	}
	return max
}

func (h *Hub) peerRowOff(peerID uint32) uint64 {
	return h.peerTableOff + uint64(peerID)*peerRowSize
}

// AddPeer finds a free peer-table row, initializes it, and returns
// identifying handles for the caller to pass to a spawned cell.
func (h *Hub) AddPeer(sendRingOff, recvRingOff uint64) (PeerHandles, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := uint32(0); id < h.peerCap; id++ {
		off := h.peerRowOff(id)
		if PeerState(atomic.LoadUint32(h.u32At(off+4))) == PeerVacant {
			binary.LittleEndian.PutUint32(h.region[off:off+4], id)
			binary.LittleEndian.PutUint64(h.region[off+8:off+16], sendRingOff)
			binary.LittleEndian.PutUint64(h.region[off+16:off+24], recvRingOff)
			binary.LittleEndian.PutUint64(h.region[off+32:off+40], h.Epoch())

			peerFD, hostFD, err := doorbell.NewPair()
			if err != nil {
				return PeerHandles{}, dodecaerr.Wrap(dodecaerr.Resource, err, "shm: create doorbell pair")
			}
			binary.LittleEndian.PutUint64(h.region[off+24:off+32], uint64(peerFD))
			h.doorbells[id] = doorbellPair{peerFD: peerFD, hostFD: hostFD}

			atomic.StoreUint32(h.u32At(off+4), uint32(PeerActive))

			h.log.Info().Uint32("peer_id", id).Msg("shm: peer added")
			return PeerHandles{PeerID: id, PeerDoorbellFD: peerFD, HostDoorbellFD: hostFD}, nil
		}
	}
	return PeerHandles{}, dodecaerr.New(dodecaerr.Resource, "shm: peer table full").WithHelp("PeerTableFull")
}

// Reclaim marks a peer row dead, then flips it back to Vacant and
// forgets the peer's doorbell record. The hub does not track which
// slots a peer owns, so Reclaim frees no slots; the caller frees them
// with Free.
func (h *Hub) Reclaim(peerID uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	off := h.peerRowOff(peerID)
	atomic.StoreUint32(h.u32At(off+4), uint32(PeerDead))
	atomic.StoreUint32(h.u32At(off+4), uint32(PeerVacant))
	delete(h.doorbells, peerID)
	h.log.Info().Uint32("peer_id", peerID).Msg("shm: peer reclaimed")
}

// PeerDoorbells returns the host/peer FD pair recorded for a peer.
func (h *Hub) PeerDoorbells(peerID uint32) (peerFD, hostFD int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.doorbells[peerID]
	return d.peerFD, d.hostFD, ok
}

// RingOffsets returns the recorded send/recv ring offsets for a peer row.
func (h *Hub) RingOffsets(peerID uint32) (sendOff, recvOff uint64) {
	off := h.peerRowOff(peerID)
	return binary.LittleEndian.Uint64(h.region[off+8 : off+16]), binary.LittleEndian.Uint64(h.region[off+16 : off+24])
}

// Region exposes the raw backing bytes, e.g. for the ring package to
// construct Ring views at specific offsets.
func (h *Hub) Region() []byte { return h.region }

func (h *Hub) String() string {
	return fmt.Sprintf("Hub{peerCap=%d classes=%d}", h.peerCap, len(h.slotClasses))
}
