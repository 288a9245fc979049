// Package supervisor spawns cell processes, hands them their SHM/peer/
// doorbell handles, enforces death-with-parent, and reclaims slots when
// a cell exits (spec.md §4.E). It generalizes the teacher's
// session.Manager subprocess-lifecycle pattern (internal/session in the
// original claude-ops tree) from a single scheduled CLI subprocess to a
// pool of long-lived, RPC-addressable cell processes supervised with
// sourcegraph/conc so a partial spawn failure never leaks a goroutine.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/bearcove/dodeca-sub000/internal/doorbell"
	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
	"github.com/bearcove/dodeca-sub000/internal/rpc"
	"github.com/bearcove/dodeca-sub000/internal/shm"
)

// EnvSHMPath, EnvPeerID, and EnvDoorbellFD name the environment
// variables passed to every spawned cell (spec.md §6 "Process spawn
// interface").
const (
	EnvSHMPath = "DODECA_SHM_PATH"
	EnvPeerID  = "DODECA_PEER_ID"
	// EnvDoorbellFD names the fd the cell waits on for the host's wake
	// (the host's own send-side eventfd, inherited by the cell).
	EnvDoorbellFD = "DODECA_DOORBELL_FD"
	// EnvDoorbellRingFD names the fd the cell rings to wake the host
	// (the host's own recv-side eventfd, also inherited by the cell —
	// each direction is its own one-way eventfd, never a shared pipe).
	EnvDoorbellRingFD = "DODECA_DOORBELL_RING_FD"
	EnvLogFallback    = "DODECA_LOG_FALLBACK_STDERR"

	RingCapacity = 64 * 1024 // exported so cmd/cell-highlight can reconstruct its own ring views without a side channel
)

// Cell is a supervised cell process and its RPC session.
type Cell struct {
	Name    string
	PeerID  uint32
	Session *rpc.Session

	cmd *exec.Cmd
}

// Supervisor owns the SHM hub and the set of cell processes spawned
// against it.
type Supervisor struct {
	log     zerolog.Logger
	hub     *shm.Hub
	shmPath string

	mu    sync.Mutex
	cells map[uint32]*Cell
	wg    conc.WaitGroup
}

// New constructs a Supervisor over an already-opened hub. shmPath must
// be the path the hub was opened with (Open requires a real file path
// for a spawned cell to attach to; an anonymous hub can only supervise
// in-process test doubles).
func New(hub *shm.Hub, shmPath string, log zerolog.Logger) *Supervisor {
	return &Supervisor{log: log, hub: hub, shmPath: shmPath, cells: make(map[uint32]*Cell)}
}

// Spawn forks/execs binary with args, wires its ring pair and doorbells
// through the hub, registers a death-watch, and returns a ready Session
// the host can issue calls over (spec.md §4.E steps 1-4).
func (s *Supervisor) Spawn(ctx context.Context, name, binary string, args []string, dispatcher rpc.Dispatcher) (*Cell, error) {
	hostToPeerClass, hostToPeerSlot, err := s.hub.Allocate(RingCapacity)
	if err != nil {
		return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "supervisor: allocate host->peer ring")
	}
	peerToHostClass, peerToHostSlot, err := s.hub.Allocate(RingCapacity)
	if err != nil {
		return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "supervisor: allocate peer->host ring")
	}

	sendOff := s.hub.SlotOffset(hostToPeerClass, hostToPeerSlot)
	recvOff := s.hub.SlotOffset(peerToHostClass, peerToHostSlot)

	handles, err := s.hub.AddPeer(sendOff, recvOff)
	if err != nil {
		return nil, err
	}

	region := s.hub.Region()
	sendRing := shm.NewRing(region, sendOff, sendOff+8, sendOff+16, RingCapacity-16)
	recvRing := shm.NewRing(region, recvOff, recvOff+8, recvOff+16, RingCapacity-16)

	hostSession := rpc.New(
		sendRing, recvRing,
		doorbell.New(handles.PeerDoorbellFD), // host rings this to wake the peer
		doorbell.New(handles.HostDoorbellFD), // host waits on this for the peer's wakes
		s.hub.MaxSlotSize(), dispatcher, true, s.log,
	)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", EnvSHMPath, s.shmPath),
		fmt.Sprintf("%s=%d", EnvPeerID, handles.PeerID),
		fmt.Sprintf("%s=%d", EnvDoorbellFD, 3),     // inherited at fd 3 via ExtraFiles below
		fmt.Sprintf("%s=%d", EnvDoorbellRingFD, 4), // inherited at fd 4 via ExtraFiles below
	)
	cmd.ExtraFiles = []*os.File{
		os.NewFile(uintptr(handles.PeerDoorbellFD), "peer-doorbell-wait"),
		os.NewFile(uintptr(handles.HostDoorbellFD), "peer-doorbell-ring"),
	}
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	configureDeathWithParent(cmd)

	if err := cmd.Start(); err != nil {
		s.hub.Reclaim(handles.PeerID)
		return nil, dodecaerr.Wrap(dodecaerr.Resource, err, "supervisor: start cell process")
	}

	hostSession.Start()

	cell := &Cell{Name: name, PeerID: handles.PeerID, Session: hostSession, cmd: cmd}

	s.mu.Lock()
	s.cells[handles.PeerID] = cell
	s.mu.Unlock()

	s.wg.Go(func() {
		waitErr := cmd.Wait()
		s.log.Info().Str("cell", name).Uint32("peer_id", handles.PeerID).Err(waitErr).Msg("supervisor: cell exited")
		_ = hostSession.Close()
		s.hub.Reclaim(handles.PeerID)
		s.hub.Free(hostToPeerClass, hostToPeerSlot)
		s.hub.Free(peerToHostClass, peerToHostSlot)

		s.mu.Lock()
		delete(s.cells, handles.PeerID)
		s.mu.Unlock()
	})

	s.log.Info().Str("cell", name).Uint32("peer_id", handles.PeerID).Msg("supervisor: cell spawned")
	return cell, nil
}

// Cell looks up a spawned cell by peer ID.
func (s *Supervisor) Cell(peerID uint32) (*Cell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[peerID]
	return c, ok
}

// Cells returns a snapshot of all currently-supervised cells.
func (s *Supervisor) Cells() []*Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Cell, 0, len(s.cells))
	for _, c := range s.cells {
		out = append(out, c)
	}
	return out
}

// Shutdown terminates every supervised cell and waits for their
// death-watch goroutines to finish.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	cells := make([]*Cell, 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.Unlock()

	for _, c := range cells {
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
	}
	s.wg.Wait()
}
