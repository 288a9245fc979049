package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bearcove/dodeca-sub000/internal/logging"
	"github.com/bearcove/dodeca-sub000/internal/rpc"
	"github.com/bearcove/dodeca-sub000/internal/shm"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *shm.Hub) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.shm")
	hub, err := shm.Open(path, 4<<20, []shm.SlotClassConfig{
		{SizeBytes: 64 * 1024, Count: 8},
	}, logging.Nop())
	if err != nil {
		t.Fatalf("shm.Open: %v", err)
	}
	t.Cleanup(func() { _ = hub.Close() })
	return New(hub, path, logging.Nop()), hub
}

func TestSpawnRegistersAndReclaimsOnExit(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dispatcher := rpc.DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) { return nil, nil })

	cell, err := sup.Spawn(ctx, "sleeper", "/bin/sh", []string{"-c", "sleep 0.2"}, dispatcher)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if _, ok := sup.Cell(cell.PeerID); !ok {
		t.Fatalf("expected cell %d to be tracked right after spawn", cell.PeerID)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sup.Cell(cell.PeerID); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected cell %d to be reclaimed after the process exited", cell.PeerID)
}

func TestShutdownKillsAllCells(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	sup, _ := newTestSupervisor(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dispatcher := rpc.DispatcherFunc(func(context.Context, uint32, []byte) ([]byte, error) { return nil, nil })

	if _, err := sup.Spawn(ctx, "long-runner", "/bin/sh", []string{"-c", "sleep 30"}, dispatcher); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	sup.Shutdown()
	if len(sup.Cells()) != 0 {
		t.Fatalf("expected no cells left after Shutdown, got %d", len(sup.Cells()))
	}
}
