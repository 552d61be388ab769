//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
)

// SendTerminationSignal asks the process tree to exit via taskkill. Windows
// has no SIGTERM equivalent for arbitrary PIDs, so this is the closest
// graceful request available outside our own console group.
func SendTerminationSignal(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T").Run()
}

// ForceKill terminates the process tree unconditionally.
func ForceKill(pid int) error {
	if err := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run(); err == nil {
		return nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}
