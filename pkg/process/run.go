package process

import (
	"context"

	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
)

// Run executes a tool to completion, draining its combined output while it
// runs and returning the tail of that output. Used for synchronous
// invocations (venv creation, pip install, version checks) where the child
// may produce arbitrary amounts of log output.
func Run(ctx context.Context, spec Spec, id string, logger logging.Logger) (string, error) {
	cmd, output, err := Spawn(ctx, spec, id, logger)
	if err != nil {
		return "", err
	}

	tail := NewOutputTail(DefaultTailLines)
	drained := make(chan struct{})
	go func() {
		Drain(output, func(line string) {
			tail.Append(line)
			logger.Debugf("tool output, id: %s, line: %s", id, line)
		})
		close(drained)
	}()

	waitErr := cmd.Wait()
	<-drained

	if waitErr != nil {
		logger.Warnf("Tool exited with error, id: %s, error: %v", id, waitErr)
		return tail.String(), waitErr
	}

	logger.Debugf("Tool completed, id: %s", id)
	return tail.String(), nil
}
