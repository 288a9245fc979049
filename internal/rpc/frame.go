// Package rpc implements the framed request/response/notification/stream
// session over a ring pair (spec.md §4.C): channel-id correlation,
// bidirectional dispatch, and cancellation.
package rpc

import (
	"encoding/binary"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// Kind discriminates a Frame's role (spec.md §3 Frame).
type Kind uint8

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
	KindStreamItem
	KindStreamEnd
	KindCancel
)

// Frame is one RPC message (spec.md §3 Frame).
type Frame struct {
	ChannelID uint64
	Kind      Kind
	MethodID  uint32 // meaningful for Request and Notification
	Payload   []byte
	IsError   bool // meaningful for Response: payload is an encoded error
}

// Encode serializes f as: kind(1) channel_id(varint) method_id(varint)
// is_error(1) payload_len(varint) payload. This is the core's own wire
// codec — spec.md §1 Non-goals explicitly leaves the wire codec
// unprescribed, so this format is ours, not a reimplementation of any
// particular upstream scheme.
func (f Frame) Encode() []byte {
	buf := make([]byte, 0, 16+len(f.Payload))
	buf = append(buf, byte(f.Kind))
	buf = appendUvarint(buf, f.ChannelID)
	buf = appendUvarint(buf, uint64(f.MethodID))
	if f.IsError {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUvarint(buf, uint64(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf
}

// Decode parses a Frame from the front of b, returning the frame, the
// number of bytes consumed, and whether a complete frame was available.
func Decode(b []byte) (Frame, int, bool) {
	if len(b) < 1 {
		return Frame{}, 0, false
	}
	var f Frame
	f.Kind = Kind(b[0])
	off := 1

	cid, n := binary.Uvarint(b[off:])
	if n <= 0 {
		return Frame{}, 0, false
	}
	f.ChannelID = cid
	off += n

	mid, n := binary.Uvarint(b[off:])
	if n <= 0 {
		return Frame{}, 0, false
	}
	f.MethodID = uint32(mid)
	off += n

	if off >= len(b) {
		return Frame{}, 0, false
	}
	f.IsError = b[off] == 1
	off++

	plen, n := binary.Uvarint(b[off:])
	if n <= 0 {
		return Frame{}, 0, false
	}
	off += n

	if uint64(len(b)-off) < plen {
		return Frame{}, 0, false // incomplete; caller should wait for more bytes
	}
	f.Payload = append([]byte(nil), b[off:off+int(plen)]...)
	off += int(plen)
	return f, off, true
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// errFrameTooLarge is returned by a session when an outgoing frame would
// exceed the largest configured slot class.
func errFrameTooLarge(size, max int) error {
	return dodecaerr.New(dodecaerr.Protocol, "rpc: frame too large").
		WithHelp("FrameTooLarge").
		WithSpan(dodecaerr.Span{Source: "frame", Length: size, Offset: max})
}
