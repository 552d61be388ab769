package process

import (
	"context"
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/processstate"
)

const forceKillWait = 5 * time.Second

// Terminate stops a process by PID: termination signal first, a bounded
// graceful wait, then a forced kill. Works uniformly for processes we
// spawned and for orphans we merely discovered, since liveness is polled
// rather than read from an exec.Cmd.
func Terminate(ctx context.Context, pid int, gracefulTimeout time.Duration, logger logging.Logger) error {
	if gracefulTimeout <= 0 {
		gracefulTimeout = 10 * time.Second
	}

	logger.Infof("Terminating process, PID: %d, graceful timeout: %v", pid, gracefulTimeout)

	if err := SendTerminationSignal(pid); err != nil {
		logger.Warnf("Failed to send termination signal, PID: %d, error: %v", pid, err)
	}

	if waitForExit(ctx, pid, gracefulTimeout) {
		logger.Infof("Process terminated gracefully, PID: %d", pid)
		return nil
	}

	logger.Warnf("Process did not exit within %v, force killing, PID: %d", gracefulTimeout, pid)

	if err := ForceKill(pid); err != nil {
		return errors.NewInternalError("failed to kill process", err).WithContext("pid", pid)
	}

	if waitForExit(ctx, pid, forceKillWait) {
		logger.Infof("Process force terminated, PID: %d", pid)
		return nil
	}

	return errors.NewInternalError("process did not exit even after force kill", nil).WithContext("pid", pid)
}

// waitForExit polls process liveness until it exits, the timeout elapses,
// or the context is cancelled. Returns true once the process is gone.
func waitForExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		running, _ := processstate.IsProcessRunning(pid)
		if !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
}
