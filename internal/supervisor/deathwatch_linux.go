//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// configureDeathWithParent asks the kernel to deliver SIGKILL to the
// cell process if this process dies first, so a crashed supervisor
// never leaves orphaned cells running (spec.md §4.E "enforces
// death-with-parent").
func configureDeathWithParent(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
