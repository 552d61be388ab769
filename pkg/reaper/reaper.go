package reaper

import (
	"context"
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/ports"
	"github.com/loopmaker/engine-supervisor-go/pkg/process"
	"github.com/loopmaker/engine-supervisor-go/pkg/procrecord"
	"github.com/loopmaker/engine-supervisor-go/pkg/processstate"
)

// Reaper cleans up sidecar processes left behind by a previous app run
// (crash, force-quit, kill -9). It is driven once, at supervisor startup,
// before any new launch attempt.
type Reaper struct {
	store           *procrecord.Store
	inspector       ports.Inspector
	gracefulTimeout time.Duration
	logger          logging.Logger

	// swappable in tests
	isRunning func(pid int) (bool, error)
	terminate func(ctx context.Context, pid int, graceful time.Duration, logger logging.Logger) error
}

func NewReaper(store *procrecord.Store, inspector ports.Inspector, gracefulTimeout time.Duration, logger logging.Logger) *Reaper {
	if gracefulTimeout <= 0 {
		gracefulTimeout = 5 * time.Second
	}
	return &Reaper{
		store:           store,
		inspector:       inspector,
		gracefulTimeout: gracefulTimeout,
		logger:          logger,
		isRunning:       processstate.IsProcessRunning,
		terminate:       process.Terminate,
	}
}

// Reconcile terminates a recorded orphan if it is demonstrably still ours:
// the PID must be alive and listed among the listeners on the recorded
// port, guarding against coincidental PID reuse. Best-effort: it never
// returns an error, and the stale record is removed in every outcome so a
// failed reconciliation cannot wedge future runs.
func (r *Reaper) Reconcile(ctx context.Context) {
	rec, found, err := r.store.Read()
	if err != nil {
		r.logger.Warnf("Failed to read process record, removing it, error: %v", err)
		_ = r.store.Remove()
		return
	}
	if !found {
		r.logger.Debugf("No process record from a previous run, nothing to reconcile")
		return
	}

	// Whatever happens below, the record is stale after this pass
	defer func() {
		if err := r.store.Remove(); err != nil {
			r.logger.Warnf("Failed to remove stale process record: %v", err)
		}
	}()

	r.logger.Infof("Found process record from previous run, pid: %d, port: %d", rec.PID, rec.Port)

	running, err := r.isRunning(rec.PID)
	if err != nil {
		r.logger.Warnf("Liveness check failed for recorded pid %d: %v", rec.PID, err)
		return
	}
	if !running {
		r.logger.Infof("Recorded process %d is no longer running, record was stale", rec.PID)
		return
	}

	if !r.confirmOwnership(ctx, rec) {
		r.logger.Warnf("Recorded pid %d is alive but not listening on port %d, likely PID reuse; leaving it alone",
			rec.PID, rec.Port)
		return
	}

	r.logger.Warnf("Terminating orphaned sidecar, pid: %d, port: %d", rec.PID, rec.Port)
	if err := r.terminate(ctx, rec.PID, r.gracefulTimeout, r.logger); err != nil {
		r.logger.Errorf("Failed to terminate orphaned sidecar, pid: %d, error: %v", rec.PID, err)
	}
}

// confirmOwnership checks the recorded pid actually owns a listener on
// the recorded port. When PID-level inspection is unavailable, a plain
// listener check plus the liveness already established is accepted.
func (r *Reaper) confirmOwnership(ctx context.Context, rec procrecord.Record) bool {
	pids, err := r.inspector.ListenerPIDs(ctx, rec.Port)
	if err != nil {
		r.logger.Debugf("Listener inspection unavailable (%v); falling back to connection probe", err)
		return ports.HasListener(rec.Port, 500*time.Millisecond)
	}
	for _, pid := range pids {
		if pid == rec.PID {
			return true
		}
	}
	return false
}
