package supervisor

import (
	"context"
	"fmt"

	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/ports"
	"github.com/loopmaker/engine-supervisor-go/pkg/process"
	"github.com/loopmaker/engine-supervisor-go/pkg/procrecord"
	"github.com/loopmaker/engine-supervisor-go/pkg/sidecarenv"
)

// launcher starts the engine process: picks a free port, spawns the
// sidecar under the provisioned interpreter and persists the identity
// record. The returned handle owns the process lifetime.
type launcher struct {
	config    SidecarConfig
	allocator *ports.Allocator
	env       *sidecarenv.Provisioner
	store     *procrecord.Store
	// spawnCtx scopes spawned engine processes to the supervisor
	// lifetime rather than to the triggering operation.
	spawnCtx context.Context
	logger   logging.Logger
}

func newLauncher(config SidecarConfig, allocator *ports.Allocator, env *sidecarenv.Provisioner,
	store *procrecord.Store, spawnCtx context.Context, logger logging.Logger) *launcher {
	return &launcher{
		config:    config,
		allocator: allocator,
		env:       env,
		store:     store,
		spawnCtx:  spawnCtx,
		logger:    logger,
	}
}

func (l *launcher) Launch(ctx context.Context) (ProcessHandle, error) {
	port, err := l.allocator.PickFree(ctx)
	if err != nil {
		return nil, err
	}

	args := []string{l.config.Entrypoint, "--host", "127.0.0.1", "--port", fmt.Sprintf("%d", port)}
	args = append(args, l.config.ExtraArgs...)

	spec := process.Spec{
		ExecutablePath:   l.env.PythonPath(),
		Args:             args,
		WorkingDirectory: l.env.SidecarDir(),
		// Unbuffered output keeps the drain goroutine current with the
		// engine's own logging.
		Environment: []string{"PYTHONUNBUFFERED=1"},
	}

	cmd, output, err := process.Spawn(l.spawnCtx, spec, "engine", l.logger)
	if err != nil {
		return nil, err
	}

	handle := newSidecarHandle(cmd, output, port, l.logger)
	l.logger.Infof("Engine process started, pid: %d, port: %d", handle.PID(), port)

	// Persist identity immediately so a crash of the host application
	// still leaves enough to reconcile the orphan on the next start.
	if err := l.store.Write(procrecord.Record{PID: handle.PID(), Port: port}); err != nil {
		l.logger.Warnf("Failed to persist process identity record: %v", err)
	}

	return handle, nil
}
