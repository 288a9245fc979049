package shm

import (
	"sync/atomic"
	"unsafe"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// Ring is a lock-free SPSC byte queue over a fixed wrap-around region
// (spec.md §3 Ring, §4.B doorbell protocol, §8 "Ring FIFO"). head/tail
// are absolute monotonically-increasing counters mod 2^64; the data
// offset into the region is counter mod capacity. One writer owns
// head, one reader owns tail; head==tail means empty, and head-tail==
// capacity means full (the counter scheme avoids the classic "reserve
// one byte" trick while keeping full vs. empty unambiguous).
type Ring struct {
	region   []byte
	headOff  uint64 // offset of the atomic head counter (writer-owned)
	tailOff  uint64 // offset of the atomic tail counter (reader-owned)
	dataOff  uint64 // offset of the wrap-around data region
	capacity uint64
}

// NewRing constructs a Ring view over pre-allocated header+data space
// inside region. Callers (the RPC session's ring-pair setup) are
// responsible for reserving 16 bytes for the head/tail counters
// immediately before dataOff.
func NewRing(region []byte, headOff, tailOff, dataOff, capacity uint64) *Ring {
	return &Ring{region: region, headOff: headOff, tailOff: tailOff, dataOff: dataOff, capacity: capacity}
}

func (r *Ring) head() uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&r.region[r.headOff])))
}
func (r *Ring) tail() uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&r.region[r.tailOff])))
}

func (r *Ring) storeHead(v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.region[r.headOff])), v)
}

func (r *Ring) storeTail(v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&r.region[r.tailOff])), v)
}

// IsEmpty reports head == tail.
func (r *Ring) IsEmpty() bool { return r.head() == r.tail() }

// IsFull reports head - tail == capacity.
func (r *Ring) IsFull() bool { return r.head()-r.tail() == r.capacity }

// Available returns free byte capacity for the writer.
func (r *Ring) Available() uint64 { return r.capacity - (r.head() - r.tail()) }

// Buffered returns unread byte count for the reader.
func (r *Ring) Buffered() uint64 { return r.head() - r.tail() }

// Write appends data to the ring, wrapping as needed. Returns
// transitionedFromEmpty=true if the ring was empty before this write,
// so the caller (the doorbell-ringing writer, §4.B) knows to ring.
func (r *Ring) Write(data []byte) (transitionedFromEmpty bool, err error) {
	wasEmpty := r.IsEmpty()
	if uint64(len(data)) > r.Available() {
		return false, dodecaerr.New(dodecaerr.Resource, "shm: ring write exceeds available capacity")
	}
	h := r.head()
	for i, b := range data {
		pos := (h + uint64(i)) % r.capacity
		r.region[r.dataOff+pos] = b
	}
	// Release: the data bytes above must be visible before head moves,
	// so a reader observing the new head also observes the payload.
	r.storeHead(h + uint64(len(data)))
	return wasEmpty, nil
}

// Read copies up to len(buf) buffered bytes out of the ring and
// advances tail, returning the number of bytes read.
func (r *Ring) Read(buf []byte) int {
	t := r.tail()
	avail := r.Buffered()
	n := uint64(len(buf))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		pos := (t + i) % r.capacity
		buf[i] = r.region[r.dataOff+pos]
	}
	r.storeTail(t + n)
	return int(n)
}

// Peek reads without advancing tail, for a reader that needs to see a
// length prefix before deciding how much to consume.
func (r *Ring) Peek(buf []byte) int {
	t := r.tail()
	avail := r.Buffered()
	n := uint64(len(buf))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		pos := (t + i) % r.capacity
		buf[i] = r.region[r.dataOff+pos]
	}
	return int(n)
}

// Advance moves tail forward by n bytes without copying, for use after Peek.
func (r *Ring) Advance(n uint64) { r.storeTail(r.tail() + n) }
