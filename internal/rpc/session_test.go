package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/bearcove/dodeca-sub000/internal/doorbell"
	"github.com/bearcove/dodeca-sub000/internal/logging"
	"github.com/bearcove/dodeca-sub000/internal/shm"
)

// newSessionPair wires two in-process Sessions over two byte-slice-backed
// rings and a real doorbell pair, simulating a host/cell RPC session
// (spec.md §4.C) without requiring an actual spawned process.
func newSessionPair(t *testing.T, hostDispatcher, peerDispatcher Dispatcher) (host, peer *Session) {
	t.Helper()

	const ringCap = 4096
	hostToPeer := shm.NewRing(make([]byte, 16+ringCap), 0, 8, 16, ringCap)
	peerToHost := shm.NewRing(make([]byte, 16+ringCap), 0, 8, 16, ringCap)

	peerFD, hostFD, err := doorbell.NewPair()
	if err != nil {
		t.Fatalf("doorbell.NewPair: %v", err)
	}
	t.Cleanup(func() {})

	host = New(hostToPeer, peerToHost, doorbell.New(peerFD), doorbell.New(hostFD), ringCap, hostDispatcher, true, logging.Nop())
	peer = New(peerToHost, hostToPeer, doorbell.New(hostFD), doorbell.New(peerFD), ringCap, peerDispatcher, false, logging.Nop())

	host.Start()
	peer.Start()
	t.Cleanup(func() {
		_ = host.Close()
		_ = peer.Close()
	})
	return host, peer
}

func TestCallRoundTrip(t *testing.T) {
	peerDispatcher := DispatcherFunc(func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})
	host, _ := newSessionPair(t, DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) {
		return nil, nil
	}), peerDispatcher)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := host.Call(ctx, 42, []byte("hi"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != "echo:hi" {
		t.Fatalf("expected echo:hi, got %q", resp)
	}
}

func TestBidirectionalCall(t *testing.T) {
	// Both sides can originate requests; channel IDs are partitioned by
	// parity so they never collide (spec.md §4.C Bidirectionality).
	hostDispatcher := DispatcherFunc(func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
		return []byte("host-handled"), nil
	})
	peerDispatcher := DispatcherFunc(func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
		return []byte("peer-handled"), nil
	})
	host, peer := newSessionPair(t, hostDispatcher, peerDispatcher)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var hostResp, peerResp []byte
	var hostErr, peerErr error
	done := make(chan struct{}, 2)
	go func() { hostResp, hostErr = host.Call(ctx, 1, nil); done <- struct{}{} }()
	go func() { peerResp, peerErr = peer.Call(ctx, 1, nil); done <- struct{}{} }()
	<-done
	<-done

	if hostErr != nil || string(hostResp) != "peer-handled" {
		t.Fatalf("host->peer call: resp=%q err=%v", hostResp, hostErr)
	}
	if peerErr != nil || string(peerResp) != "host-handled" {
		t.Fatalf("peer->host call: resp=%q err=%v", peerResp, peerErr)
	}
}

func TestCallCancellation(t *testing.T) {
	blockCh := make(chan struct{})
	peerDispatcher := DispatcherFunc(func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
		<-blockCh
		return []byte("too-late"), nil
	})
	host, _ := newSessionPair(t, DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) { return nil, nil }), peerDispatcher)
	defer close(blockCh)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := host.Call(ctx, 1, nil)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestCallCancellationAbortsPeerDispatch(t *testing.T) {
	// The local ctx.Done() firing (TestCallCancellation) proves nothing
	// about the peer: this asserts the Cancel frame actually reaches the
	// dispatcher handling the in-flight request, per spec.md §4.C/§5
	// "the receiver of Cancel must best-effort abort its handler."
	dispatchCtxDone := make(chan struct{}, 1)
	peerDispatcher := DispatcherFunc(func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
		<-ctx.Done()
		dispatchCtxDone <- struct{}{}
		return nil, ctx.Err()
	})
	host, _ := newSessionPair(t, DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) { return nil, nil }), peerDispatcher)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := host.Call(ctx, 1, nil); err == nil {
		t.Fatalf("expected cancellation error")
	}

	select {
	case <-dispatchCtxDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the peer's Dispatch context to be cancelled")
	}
}

func TestNotificationDiscardsReturn(t *testing.T) {
	received := make(chan uint32, 1)
	peerDispatcher := DispatcherFunc(func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
		received <- methodID
		return []byte("ignored"), nil
	})
	host, _ := newSessionPair(t, DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) { return nil, nil }), peerDispatcher)

	if err := host.Notify(7, nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case mid := <-received:
		if mid != 7 {
			t.Fatalf("expected method 7, got %d", mid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification dispatch")
	}
}

func TestOrphanResponseCounted(t *testing.T) {
	host, peer := newSessionPair(t,
		DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) { return nil, nil }),
		DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) { return nil, nil }))

	// Peer sends a Response for a channel the host never opened.
	if err := peer.writeFrame(Frame{ChannelID: 999, Kind: KindResponse, Payload: []byte("stray")}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if host.OrphanResponses() != 1 {
		t.Fatalf("expected 1 orphan response, got %d", host.OrphanResponses())
	}
}
