package rpc

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bearcove/dodeca-sub000/internal/doorbell"
	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
	"github.com/bearcove/dodeca-sub000/internal/shm"
)

// Dispatcher handles an inbound Request or Notification. Returning an
// error fails the call with that error's message; the caller (§4.C)
// frames it into the Response's error payload rather than propagating
// a Go panic across the process boundary.
type Dispatcher interface {
	Dispatch(ctx context.Context, methodID uint32, payload []byte) ([]byte, error)
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
	return f(ctx, methodID, payload)
}

// StreamSink receives StreamItem payloads for one outgoing channel,
// until StreamEnd closes it.
type StreamSink chan []byte

type waiter struct {
	resultCh chan waiterResult
	cancel   context.CancelFunc
}

type waiterResult struct {
	payload []byte
	isError bool
}

// Session is one direction-aware RPC session over a ring pair
// (spec.md §4.C). Channel IDs are partitioned by direction (odd for
// the side that dialed, even for the side that was dialed) so both
// parties can originate requests without colliding, and each side
// keeps its own independent dispatcher.
type Session struct {
	log zerolog.Logger

	sendRing     *shm.Ring
	recvRing     *shm.Ring
	sendDoorbell *doorbell.Doorbell
	recvDoorbell *doorbell.Doorbell
	maxFrameSize int

	dispatcher Dispatcher

	sendMu sync.Mutex // single-writer discipline over sendRing

	nextChannelID uint64 // incremented by 2; starting parity fixes direction
	waitersMu     sync.Mutex
	waiters       map[uint64]*waiter

	streamsMu sync.Mutex
	streams   map[uint64]StreamSink

	inflightMu sync.Mutex
	inflight   map[uint64]context.CancelFunc // inbound requests this session is currently dispatching

	closed atomic.Bool
	wg     sync.WaitGroup

	orphanResponses atomic.Uint64
}

// New constructs a Session. isDialer selects channel-ID parity: the
// dialing side allocates odd IDs, the dialed side even IDs, per
// spec.md §4.C "Bidirectionality".
func New(sendRing, recvRing *shm.Ring, sendDoorbell, recvDoorbell *doorbell.Doorbell, maxFrameSize int, dispatcher Dispatcher, isDialer bool, log zerolog.Logger) *Session {
	start := uint64(2)
	if isDialer {
		start = 1
	}
	s := &Session{
		log:           log,
		sendRing:      sendRing,
		recvRing:      recvRing,
		sendDoorbell:  sendDoorbell,
		recvDoorbell:  recvDoorbell,
		maxFrameSize:  maxFrameSize,
		dispatcher:    dispatcher,
		nextChannelID: start,
		waiters:       make(map[uint64]*waiter),
		streams:       make(map[uint64]StreamSink),
		inflight:      make(map[uint64]context.CancelFunc),
	}
	return s
}

// Start launches the receive loop in a background goroutine. Call
// Close to stop it.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.receiveLoop()
}

// Close marks the session closed and unblocks the receive loop on its
// next wake. Outstanding waiters are failed with SessionClosed.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.recvDoorbell.Ring() // wake the receive loop so it observes closed
	s.wg.Wait()

	s.waitersMu.Lock()
	for id, w := range s.waiters {
		w.resultCh <- waiterResult{payload: []byte("session closed"), isError: true}
		delete(s.waiters, id)
	}
	s.waitersMu.Unlock()

	s.streamsMu.Lock()
	for id, sink := range s.streams {
		close(sink)
		delete(s.streams, id)
	}
	s.streamsMu.Unlock()

	s.inflightMu.Lock()
	for id, cancel := range s.inflight {
		cancel()
		delete(s.inflight, id)
	}
	s.inflightMu.Unlock()
	return nil
}

func (s *Session) allocChannelID() uint64 {
	id := s.nextChannelID
	s.nextChannelID += 2
	return id
}

func (s *Session) writeFrame(f Frame) error {
	encoded := f.Encode()
	if len(encoded) > s.maxFrameSize {
		return errFrameTooLarge(len(encoded), s.maxFrameSize)
	}
	// Length-prefix each frame in the byte ring so the reader knows
	// where one frame ends and the next begins.
	var lenPrefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenPrefix[:], uint64(len(encoded)))

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if uint64(n+len(encoded)) > s.sendRing.Available() {
		return dodecaerr.New(dodecaerr.Transient, "rpc: send ring full")
	}
	wasEmpty, err := s.sendRing.Write(lenPrefix[:n])
	if err != nil {
		return err
	}
	if _, err := s.sendRing.Write(encoded); err != nil {
		return err
	}
	// Invariant (i), §4.B: only ring the doorbell if the ring
	// transitioned from empty; a non-empty ring guarantees the reader
	// already observed (or will observe before sleeping) our data.
	if wasEmpty {
		return s.sendDoorbell.Ring()
	}
	return nil
}

// Call issues a Request and blocks until Response, ctx cancellation,
// or session close. Cancelling ctx sends a Cancel notification on the
// same channel, per spec.md §4.C "Cancellation".
func (s *Session) Call(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, dodecaerr.New(dodecaerr.Transient, "rpc: session closed").WithHelp("SessionClosed")
	}

	cid := s.allocChannelID()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &waiter{resultCh: make(chan waiterResult, 1), cancel: cancel}
	s.waitersMu.Lock()
	s.waiters[cid] = w
	s.waitersMu.Unlock()

	defer func() {
		s.waitersMu.Lock()
		delete(s.waiters, cid)
		s.waitersMu.Unlock()
	}()

	if err := s.writeFrame(Frame{ChannelID: cid, Kind: KindRequest, MethodID: methodID, Payload: payload}); err != nil {
		return nil, err
	}

	select {
	case res := <-w.resultCh:
		if res.isError {
			return nil, dodecaerr.New(dodecaerr.Protocol, string(res.payload))
		}
		return res.payload, nil
	case <-ctx.Done():
		_ = s.writeFrame(Frame{ChannelID: cid, Kind: KindCancel})
		return nil, dodecaerr.New(dodecaerr.Transient, "rpc: call cancelled").WithHelp("Cancelled")
	}
}

// Notify sends a fire-and-forget Notification frame.
func (s *Session) Notify(methodID uint32, payload []byte) error {
	return s.writeFrame(Frame{ChannelID: 0, Kind: KindNotification, MethodID: methodID, Payload: payload})
}

// OpenStream issues a Request expecting a stream of StreamItem frames
// terminated by StreamEnd, returning a channel of item payloads.
func (s *Session) OpenStream(methodID uint32, payload []byte) (StreamSink, error) {
	cid := s.allocChannelID()
	sink := make(StreamSink, 32)

	s.streamsMu.Lock()
	s.streams[cid] = sink
	s.streamsMu.Unlock()

	if err := s.writeFrame(Frame{ChannelID: cid, Kind: KindRequest, MethodID: methodID, Payload: payload}); err != nil {
		s.streamsMu.Lock()
		delete(s.streams, cid)
		s.streamsMu.Unlock()
		return nil, err
	}
	return sink, nil
}

// CloseStream unilaterally ends an outgoing stream subscription,
// sending StreamEnd in the reverse direction (spec.md §4.C).
func (s *Session) CloseStream(cid uint64) error {
	s.streamsMu.Lock()
	if sink, ok := s.streams[cid]; ok {
		close(sink)
		delete(s.streams, cid)
	}
	s.streamsMu.Unlock()
	return s.writeFrame(Frame{ChannelID: cid, Kind: KindStreamEnd})
}

// OrphanResponses reports the count of Response frames received for a
// channel with no registered waiter (spec.md §4.C).
func (s *Session) OrphanResponses() uint64 { return s.orphanResponses.Load() }

func (s *Session) receiveLoop() {
	defer s.wg.Done()

	var pending []byte
	readBuf := make([]byte, 64*1024)

	for {
		if s.closed.Load() {
			return
		}
		if err := s.recvDoorbell.Wait(); err != nil {
			s.log.Error().Err(err).Msg("rpc: doorbell wait failed")
			return
		}
		if s.closed.Load() {
			return
		}

		// Re-check emptiness after waking: spurious-wakeup safety (§9).
		for !s.recvRing.IsEmpty() {
			n := s.recvRing.Read(readBuf)
			pending = append(pending, readBuf[:n]...)
			pending = s.drainFrames(pending)
		}
	}
}

// drainFrames decodes as many complete length-prefixed frames as are
// present in buf, dispatching each, and returns the unconsumed tail.
func (s *Session) drainFrames(buf []byte) []byte {
	for {
		plen, n := binary.Uvarint(buf)
		if n <= 0 {
			return buf
		}
		if uint64(len(buf)-n) < plen {
			return buf // wait for more bytes
		}
		frameBytes := buf[n : n+int(plen)]
		buf = buf[n+int(plen):]

		f, _, ok := Decode(frameBytes)
		if !ok {
			s.log.Warn().Msg("rpc: malformed frame discarded")
			continue
		}
		s.handleFrame(f)
	}
}

func (s *Session) handleFrame(f Frame) {
	switch f.Kind {
	case KindResponse:
		s.waitersMu.Lock()
		w, ok := s.waiters[f.ChannelID]
		if ok {
			delete(s.waiters, f.ChannelID)
		}
		s.waitersMu.Unlock()
		if !ok {
			s.orphanResponses.Add(1)
			return
		}
		w.resultCh <- waiterResult{payload: f.Payload, isError: f.IsError}

	case KindRequest:
		go s.handleRequest(f)

	case KindNotification:
		go func() {
			if _, err := s.dispatcher.Dispatch(context.Background(), f.MethodID, f.Payload); err != nil {
				s.log.Debug().Err(err).Uint32("method_id", f.MethodID).Msg("rpc: notification handler failed")
			}
		}()

	case KindStreamItem:
		s.streamsMu.Lock()
		sink, ok := s.streams[f.ChannelID]
		s.streamsMu.Unlock()
		if ok {
			select {
			case sink <- f.Payload:
			default:
				s.log.Warn().Uint64("channel_id", f.ChannelID).Msg("rpc: stream sink full, dropping item")
			}
		}

	case KindStreamEnd:
		s.streamsMu.Lock()
		sink, ok := s.streams[f.ChannelID]
		if ok {
			delete(s.streams, f.ChannelID)
		}
		s.streamsMu.Unlock()
		if ok {
			close(sink)
		}

	case KindCancel:
		// Cancel targets a request the *peer* is asking us to abort, so
		// it's keyed into inflight (our inbound dispatches), not waiters
		// (our own outbound calls awaiting a response).
		s.inflightMu.Lock()
		cancel, ok := s.inflight[f.ChannelID]
		s.inflightMu.Unlock()
		if ok {
			cancel()
		}
	}
}

func (s *Session) handleRequest(f Frame) {
	ctx, cancel := context.WithCancel(context.Background())
	s.inflightMu.Lock()
	s.inflight[f.ChannelID] = cancel
	s.inflightMu.Unlock()
	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, f.ChannelID)
		s.inflightMu.Unlock()
		cancel()
	}()

	result, err := s.dispatcher.Dispatch(ctx, f.MethodID, f.Payload)
	resp := Frame{ChannelID: f.ChannelID, Kind: KindResponse}
	if err != nil {
		resp.IsError = true
		resp.Payload = []byte(err.Error())
	} else {
		resp.Payload = result
	}
	if werr := s.writeFrame(resp); werr != nil {
		s.log.Error().Err(werr).Msg("rpc: failed to write response")
	}
}
