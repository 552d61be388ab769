package supervisor

import (
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/process"
)

// ProcessHandle is a live sidecar process as seen by the supervisor.
type ProcessHandle interface {
	PID() int
	Port() int
	// Alive reports whether the process has not yet been reaped.
	Alive() bool
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Terminate stops the process, graceful first, forced after the
	// timeout, and waits for the exit to be observed.
	Terminate(ctx context.Context, gracefulTimeout time.Duration) error
}

// sidecarHandle wraps a spawned engine process. It owns the single
// Wait call and the output drain goroutine; everything else observes
// the process through Alive/Done.
type sidecarHandle struct {
	cmd    *exec.Cmd
	port   int
	logger logging.Logger

	tail *process.OutputTail
	done chan struct{}
	// waitErr is written once before done is closed.
	waitErr error
}

func newSidecarHandle(cmd *exec.Cmd, output io.ReadCloser, port int, logger logging.Logger) *sidecarHandle {
	h := &sidecarHandle{
		cmd:    cmd,
		port:   port,
		logger: logger,
		tail:   process.NewOutputTail(process.DefaultTailLines),
		done:   make(chan struct{}),
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		process.Drain(output, func(line string) {
			h.tail.Append(line)
			logger.Infof("engine: %s", line)
		})
	}()

	go func() {
		<-drained
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	return h
}

func (h *sidecarHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *sidecarHandle) Port() int {
	return h.port
}

func (h *sidecarHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *sidecarHandle) Done() <-chan struct{} {
	return h.done
}

// WaitErr is valid once Done is closed.
func (h *sidecarHandle) WaitErr() error {
	return h.waitErr
}

// OutputTail returns the last lines of merged process output, for
// failure diagnostics.
func (h *sidecarHandle) OutputTail() string {
	return h.tail.String()
}

func (h *sidecarHandle) Terminate(ctx context.Context, gracefulTimeout time.Duration) error {
	if !h.Alive() {
		return nil
	}
	err := process.Terminate(ctx, h.PID(), gracefulTimeout, h.logger)

	// Wait for our own reap so a subsequent relaunch never races the
	// old process over the port or the identity record.
	select {
	case <-h.done:
	case <-time.After(gracefulTimeout + 10*time.Second):
		h.logger.Warnf("Timed out waiting for engine process %d to be reaped", h.PID())
	case <-ctx.Done():
	}
	return err
}
