package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/health"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/ports"
	"github.com/loopmaker/engine-supervisor-go/pkg/procrecord"
	"github.com/loopmaker/engine-supervisor-go/pkg/reaper"
	"github.com/loopmaker/engine-supervisor-go/pkg/runtimedetect"
	"github.com/loopmaker/engine-supervisor-go/pkg/sidecarenv"
)

// Collaborator contracts, narrowed to what the supervisor calls so
// tests can substitute fakes.

type runtimeDetector interface {
	Detect(ctx context.Context) (string, error)
}

type environmentProvisioner interface {
	Complete() bool
	EnsureEnvironment(ctx context.Context, runtimePath string, progress sidecarenv.ProgressFunc) error
	Discard() error
}

type healthProber interface {
	WaitUntilHealthy(ctx context.Context, port int, timeout time.Duration, alive func() bool) error
	Check(ctx context.Context, port int) (bool, string)
}

type sidecarLauncher interface {
	Launch(ctx context.Context) (ProcessHandle, error)
}

type orphanReaper interface {
	Reconcile(ctx context.Context)
}

// Supervisor drives the engine sidecar through its lifecycle: orphan
// cleanup, runtime detection, environment provisioning, launch, health
// wait and crash monitoring. All entry points are safe for concurrent
// use; while one operation is in flight, further operation requests
// are dropped as no-ops.
type Supervisor struct {
	config Config
	logger logging.Logger

	detector    runtimeDetector
	provisioner environmentProvisioner
	prober      healthProber
	launcher    sidecarLauncher
	reaper      orphanReaper
	store       *procrecord.Store

	// baseCtx scopes background work (spawned processes, the monitor
	// loop) to the supervisor lifetime. Close shuts it down.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu             sync.Mutex
	state          State
	listener       func(State)
	handle         ProcessHandle
	monitorStop    chan struct{}
	runtimePath    string
	crashRestarts  int
	firstTimeSetup bool
	busy           bool
	opCancel       context.CancelFunc
}

// NewSupervisor wires the concrete collaborators from config. The
// config must already have defaults applied and be valid.
func NewSupervisor(config Config, logger logging.Logger) *Supervisor {
	baseCtx, baseCancel := context.WithCancel(context.Background())

	store := procrecord.NewStore(filepath.Join(config.DataDir, procrecord.RecordFileName), config.Ports.First, logger)
	inspector := ports.NewLsofInspector(logger)
	provisioner := sidecarenv.NewProvisioner(sidecarenv.Config{
		SourceDir:        config.Sidecar.SourceDir,
		WorkDir:          config.Sidecar.WorkDir,
		EnvDir:           config.Sidecar.EnvDir,
		RequirementsFile: config.Sidecar.RequirementsFile,
	}, logger)

	s := &Supervisor{
		config:      config,
		logger:      logger,
		detector:    runtimedetect.NewDetector(config.Runtime, logger),
		provisioner: provisioner,
		prober:      health.NewProber(config.ProbeInterval, logger),
		reaper:      reaper.NewReaper(store, inspector, config.GracefulTimeout, logger),
		store:       store,
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		state:       StateAt(PhaseNotStarted),
	}
	s.launcher = newLauncher(config.Sidecar, ports.NewAllocator(config.Ports, inspector, logger),
		provisioner, store, baseCtx, logger)
	return s
}

// RecordPath returns the on-disk location of the process identity
// record.
func (s *Supervisor) RecordPath() string {
	return s.store.Path()
}

// SetStateListener registers the callback invoked on every state
// transition. The callback runs outside the supervisor lock but on the
// transitioning goroutine; GUI layers hop to their own thread.
func (s *Supervisor) SetStateListener(listener func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FirstTimeSetup reports whether the current session had to provision
// the environment from scratch. The GUI uses it to choose between a
// "setting up" and a "starting" presentation.
func (s *Supervisor) FirstTimeSetup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstTimeSetup
}

// EnsureRunning drives the sidecar to the running state: reconciles
// orphans, detects the runtime, provisions the environment when
// missing, launches the process and waits for it to become healthy.
// A call while another operation is in flight is a logged no-op.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	opCtx, ok := s.beginOperation(ctx, "ensure-running")
	if !ok {
		return nil
	}
	defer s.endOperation()
	return s.ensureRunning(opCtx)
}

// RetrySetup discards any partially provisioned environment and runs
// the full startup sequence again. Intended for the GUI retry action
// after a provisioning failure.
func (s *Supervisor) RetrySetup(ctx context.Context) error {
	opCtx, ok := s.beginOperation(ctx, "retry-setup")
	if !ok {
		return nil
	}
	defer s.endOperation()

	if !s.provisioner.Complete() {
		if err := s.provisioner.Discard(); err != nil {
			s.logger.Warnf("Failed to discard partial environment: %v", err)
		}
	}
	return s.ensureRunning(opCtx)
}

// RestartProcess stops the current process if any and starts a fresh
// one. resetRetryCounter distinguishes a user-requested restart (true,
// the crash budget starts over) from the monitor's automatic restart
// (false, crashes keep accumulating toward the bound).
func (s *Supervisor) RestartProcess(ctx context.Context, resetRetryCounter bool) error {
	opCtx, ok := s.beginOperation(ctx, "restart")
	if !ok {
		return nil
	}
	defer s.endOperation()
	return s.restart(opCtx, resetRetryCounter)
}

// CleanInstall stops the process, deletes the provisioned environment
// and rebuilds everything from scratch. The recovery of last resort.
func (s *Supervisor) CleanInstall(ctx context.Context) error {
	opCtx, ok := s.beginOperation(ctx, "clean-install")
	if !ok {
		return nil
	}
	defer s.endOperation()

	s.stopMonitor()
	s.stopProcess(opCtx)
	if err := s.provisioner.Discard(); err != nil {
		return err
	}
	return s.ensureRunning(opCtx)
}

// Stop terminates the sidecar and cancels any in-flight operation,
// including a long provisioning step. Called on application exit.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.opCancel != nil {
		s.opCancel()
	}
	s.mu.Unlock()

	s.stopMonitor()
	s.stopProcess(ctx)
	s.setState(StateAt(PhaseNotStarted))
	return nil
}

// Close releases the supervisor's background resources. Stop first.
func (s *Supervisor) Close() {
	s.baseCancel()
}

// beginOperation claims the single-flight slot. It returns a context
// derived from ctx that Stop can cancel, and false when another
// operation already holds the slot.
func (s *Supervisor) beginOperation(ctx context.Context, name string) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		s.logger.Infof("Operation already in flight, dropping request: %s", name)
		return nil, false
	}
	s.busy = true
	opCtx, cancel := context.WithCancel(ctx)
	s.opCancel = cancel
	s.logger.Debugf("Operation started: %s", name)
	return opCtx, true
}

func (s *Supervisor) endOperation() {
	s.mu.Lock()
	cancel := s.opCancel
	s.busy = false
	s.opCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ensureRunning is the cold-start sequence. Callers hold the operation
// slot.
func (s *Supervisor) ensureRunning(ctx context.Context) error {
	s.mu.Lock()
	alreadyRunning := s.state.Is(PhaseRunning) && s.handle != nil && s.handle.Alive()
	s.mu.Unlock()
	if alreadyRunning {
		s.logger.Debugf("Engine already running, nothing to ensure")
		return nil
	}

	s.stopMonitor()
	s.reaper.Reconcile(ctx)

	s.setState(StateAt(PhaseCheckingRuntime))
	runtimePath, err := s.detector.Detect(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.runtimePath = runtimePath
	s.mu.Unlock()

	s.setState(StateAt(PhaseCheckingEnvironment))
	if !s.provisioner.Complete() {
		s.mu.Lock()
		s.firstTimeSetup = true
		s.mu.Unlock()

		s.setState(StateAt(PhaseCreatingEnvironment))
		err := s.provisioner.EnsureEnvironment(ctx, runtimePath, func(p float64) {
			s.setState(StateInstalling(p))
		})
		if err != nil {
			return s.fail(err)
		}
	}

	return s.startProcess(ctx, true)
}

// restart replaces the current process. Callers hold the operation
// slot.
func (s *Supervisor) restart(ctx context.Context, resetRetryCounter bool) error {
	s.stopMonitor()
	s.stopProcess(ctx)
	return s.startProcess(ctx, resetRetryCounter)
}

// startProcess launches the sidecar and waits for health. On success it
// enters the running state and starts the crash monitor. resetCounter
// clears the crash budget once running; automatic restarts keep it.
func (s *Supervisor) startProcess(ctx context.Context, resetCounter bool) error {
	// A stop may have cancelled the operation while it was provisioning;
	// never launch into a shutdown.
	if ctx.Err() != nil {
		return s.fail(errors.NewCancelledError("startup cancelled", ctx.Err()))
	}

	s.setState(StateAt(PhaseStartingProcess))
	handle, err := s.launcher.Launch(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	s.setState(StateAt(PhaseWaitingForHealth))
	err = s.prober.WaitUntilHealthy(ctx, handle.Port(), s.config.HealthTimeout, handle.Alive)
	if err != nil {
		// The identity record stays behind on purpose: if the process
		// is alive but unhealthy, the next cold start reconciles it.
		return s.fail(err)
	}

	s.mu.Lock()
	if resetCounter {
		s.crashRestarts = 0
	}
	s.mu.Unlock()

	s.setState(StateAt(PhaseRunning))
	s.startMonitor(handle)
	return nil
}

// stopProcess terminates the current process, if any, and removes its
// identity record. A record is only kept for processes that may still
// be running.
func (s *Supervisor) stopProcess(ctx context.Context) {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()
	if handle == nil {
		return
	}

	if err := handle.Terminate(ctx, s.config.GracefulTimeout); err != nil {
		s.logger.Warnf("Failed to terminate engine process %d: %v", handle.PID(), err)
	}
	if err := s.store.Remove(); err != nil {
		s.logger.Warnf("Failed to remove process identity record: %v", err)
	}
}

// fail maps an error to the terminal state for this attempt and
// returns it. A missing runtime has its own phase; everything else is
// the generic error phase with a user-presentable message.
func (s *Supervisor) fail(err error) error {
	switch {
	case errors.IsCancelledError(err):
		s.logger.Infof("Operation cancelled")
		s.setState(StateAt(PhaseNotStarted))
	case errors.IsRuntimeMissingError(err):
		s.setState(StateRuntimeMissing(errors.UserMessage(err)))
	default:
		s.setState(StateError(errors.UserMessage(err)))
	}
	return err
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	previous := s.state
	s.state = state
	listener := s.listener
	s.mu.Unlock()

	if previous.Phase != state.Phase {
		s.logger.Infof("State transition: %s -> %s", previous, state)
	}
	if listener != nil {
		listener(state)
	}
}
