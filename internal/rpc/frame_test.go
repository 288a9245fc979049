package rpc

import "testing"

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{ChannelID: 1, Kind: KindRequest, MethodID: 99, Payload: []byte("hello")},
		{ChannelID: 0, Kind: KindNotification, MethodID: 3, Payload: nil},
		{ChannelID: 42, Kind: KindResponse, Payload: []byte("boom"), IsError: true},
		{ChannelID: 7, Kind: KindStreamItem, Payload: []byte{0x00, 0xFF, 0x10}},
	}

	for _, f := range cases {
		encoded := f.Encode()
		decoded, n, ok := Decode(encoded)
		if !ok {
			t.Fatalf("Decode failed for %+v", f)
		}
		if n != len(encoded) {
			t.Fatalf("expected to consume all %d bytes, consumed %d", len(encoded), n)
		}
		if decoded.ChannelID != f.ChannelID || decoded.Kind != f.Kind || decoded.MethodID != f.MethodID || decoded.IsError != f.IsError {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, f)
		}
		if string(decoded.Payload) != string(f.Payload) {
			t.Fatalf("payload mismatch: got %q, want %q", decoded.Payload, f.Payload)
		}
	}
}

func TestDecodeIncompleteReturnsFalse(t *testing.T) {
	f := Frame{ChannelID: 1, Kind: KindRequest, MethodID: 1, Payload: []byte("hello world")}
	encoded := f.Encode()

	_, _, ok := Decode(encoded[:len(encoded)-3])
	if ok {
		t.Fatalf("expected Decode to report incomplete for a truncated frame")
	}
}
