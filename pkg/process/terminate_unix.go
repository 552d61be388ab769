//go:build !windows

package process

import (
	"syscall"
)

// SendTerminationSignal sends SIGTERM to the process group (negative PID)
// so the whole tree gets a chance to shut down cleanly. Falls back to the
// single PID when the child was not started in its own group.
func SendTerminationSignal(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err == nil {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

// ForceKill sends SIGKILL to the process group, then the single PID.
func ForceKill(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
