package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/bearcove/dodeca-sub000/internal/build"
	"github.com/bearcove/dodeca-sub000/internal/config"
	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
	"github.com/bearcove/dodeca-sub000/internal/rpc"
	"github.com/bearcove/dodeca-sub000/internal/shm"
	"github.com/bearcove/dodeca-sub000/internal/supervisor"
)

// highlightCell wraps the spawned cmd/cell-highlight process and the
// shm.Hub it was spawned against, so callers can release both
// together.
type highlightCell struct {
	hub *shm.Hub
	sup *supervisor.Supervisor
}

func (h *highlightCell) Close() {
	if h == nil {
		return
	}
	h.sup.Shutdown()
	_ = h.hub.Close()
}

// startHighlightCell spawns cmd/cell-highlight (if installed alongside
// this binary or on PATH) and wires its RPC session into pipeline, per
// spec.md §4.E+. A missing binary or any spawn failure is logged and
// treated as "highlighting disabled" rather than fatal: code fences
// still render, just without syntax highlighting.
func startHighlightCell(ctx context.Context, cfg *config.Config, pipeline *build.Pipeline, log zerolog.Logger) *highlightCell {
	if !cfg.HighlightEnabled {
		return nil
	}
	binary, err := resolveCellBinary("cell-highlight")
	if err != nil {
		log.Warn().Err(err).Msg("cell-highlight binary not found, code fences will render unhighlighted")
		return nil
	}

	slotClasses := make([]shm.SlotClassConfig, len(cfg.SlotClasses))
	for i, c := range cfg.SlotClasses {
		slotClasses[i] = shm.SlotClassConfig{SizeBytes: uint32(c.SizeBytes), Count: uint32(c.Count)}
	}
	hub, err := shm.Open(cfg.SHMPath, cfg.SHMTotalSize, slotClasses, log)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open shm hub, code fences will render unhighlighted")
		return nil
	}

	sup := supervisor.New(hub, cfg.SHMPath, log)
	noInboundCalls := rpc.DispatcherFunc(func(ctx context.Context, methodID uint32, payload []byte) ([]byte, error) {
		return nil, fmt.Errorf("dodeca: unexpected inbound call from highlight cell (method %d)", methodID)
	})
	cell, err := sup.Spawn(ctx, "highlight", binary, nil, noInboundCalls)
	if err != nil {
		log.Warn().Err(err).Msg("failed to spawn cell-highlight, code fences will render unhighlighted")
		_ = hub.Close()
		return nil
	}

	pipeline.SetHighlightSession(cell.Session)
	log.Info().Str("binary", binary).Msg("cell-highlight spawned")
	return &highlightCell{hub: hub, sup: sup}
}

// resolveCellBinary looks for name next to the running dodeca binary
// first (the common packaged-together layout), falling back to PATH.
func resolveCellBinary(name string) (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", dodecaerr.Wrap(dodecaerr.Resource, err, "resolve cell binary "+name)
	}
	return path, nil
}
