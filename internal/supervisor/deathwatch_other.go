//go:build !linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureDeathWithParent sets process-group isolation only; Pdeathsig
// is Linux-specific, so non-Linux platforms rely solely on Shutdown's
// explicit kill of tracked children.
func configureDeathWithParent(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
