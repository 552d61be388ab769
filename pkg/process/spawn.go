package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
)

// Spec describes one child process invocation.
type Spec struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"` // appended to os.Environ()
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
}

// Spawn starts the process described by spec with stdout and stderr merged
// into a single pipe. The caller owns the pipe and must drain it for the
// lifetime of the child; an undrained pipe fills up and blocks the child.
func Spawn(ctx context.Context, spec Spec, id string, logger logging.Logger) (*exec.Cmd, io.ReadCloser, error) {
	if ctx == nil {
		return nil, nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}
	if spec.ExecutablePath == "" {
		return nil, nil, errors.NewValidationError("executable path cannot be empty", nil).WithContext("id", id)
	}

	workDir := spec.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(spec.ExecutablePath)
		if err != nil {
			return nil, nil, errors.NewIOError("failed to get absolute path", err).WithContext("id", id).WithContext("executable_path", spec.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Spawning process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, spec.ExecutablePath, spec.Args, workDir)

	env := os.Environ()
	env = append(env, spec.Environment...)

	cmd := exec.CommandContext(ctx, spec.ExecutablePath, spec.Args...)
	cmd.Dir = workDir
	cmd.Env = env

	// Platform-specific setup is in attrs_unix.go / attrs_windows.go
	setupProcessAttributes(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.NewInternalError("failed to create stdout pipe", err).WithContext("id", id)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, nil, errors.NewLaunchFailedError("failed to start the process", err).WithContext("id", id).WithContext("executable_path", spec.ExecutablePath)
	}

	logger.Infof("Process spawned, id: %s, PID: %d", id, cmd.Process.Pid)

	return cmd, stdout, nil
}
