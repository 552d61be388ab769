package supervisor

import (
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
)

// startMonitor begins the periodic liveness check for handle. Any
// previous monitor must have been stopped first; the caller holds the
// operation slot when it calls this.
func (s *Supervisor) startMonitor(handle ProcessHandle) {
	stop := make(chan struct{})
	s.mu.Lock()
	s.monitorStop = stop
	s.mu.Unlock()
	go s.monitorLoop(handle, stop)
}

// stopMonitor halts the current monitor loop, if any. Idempotent.
func (s *Supervisor) stopMonitor() {
	s.mu.Lock()
	stop := s.monitorStop
	s.monitorStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// monitorLoop watches one process generation. Liveness is checked
// before health on every tick: a dead process must never be reported
// as merely unhealthy. The loop ends when the process dies, the
// monitor is stopped, or the supervisor shuts down.
func (s *Supervisor) monitorLoop(handle ProcessHandle, stop chan struct{}) {
	ticker := time.NewTicker(s.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.baseCtx.Done():
			return
		case <-handle.Done():
			s.handleCrash(handle, stop)
			return
		case <-ticker.C:
			if !handle.Alive() {
				s.handleCrash(handle, stop)
				return
			}
			// Diagnostic only. A generating engine can be slow to
			// answer; an unhealthy response never triggers a restart
			// while the process is alive.
			if healthy, detail := s.prober.Check(s.baseCtx, handle.Port()); !healthy {
				s.logger.Debugf("Engine busy or degraded, port: %d, detail: %s", handle.Port(), detail)
			}
		}
	}
}

// handleCrash reacts to an observed process death: restart while the
// crash budget lasts, give up terminally once it is spent.
func (s *Supervisor) handleCrash(handle ProcessHandle, stop chan struct{}) {
	s.mu.Lock()
	// Only the current generation gets to react; a stopped monitor
	// observing a late exit stays quiet.
	if s.monitorStop != stop {
		s.mu.Unlock()
		return
	}
	s.monitorStop = nil
	if s.handle == handle {
		s.handle = nil
	}
	exhausted := s.crashRestarts >= s.config.MaxCrashRestarts
	if !exhausted {
		s.crashRestarts++
	}
	attempt := s.crashRestarts
	s.mu.Unlock()

	if err := s.store.Remove(); err != nil {
		s.logger.Warnf("Failed to remove process identity record: %v", err)
	}

	if exhausted {
		s.logger.Errorf("Engine process died, pid: %d, crash restart budget spent (%d)",
			handle.PID(), s.config.MaxCrashRestarts)
		err := errors.NewCrashExhaustedError("engine keeps crashing; automatic restarts disabled", nil)
		s.setState(StateError(errors.UserMessage(err)))
		return
	}

	s.logger.Warnf("Engine process died, pid: %d, restarting (attempt %d of %d)",
		handle.PID(), attempt, s.config.MaxCrashRestarts)

	opCtx, ok := s.beginOperation(s.baseCtx, "auto-restart")
	if !ok {
		// A user operation is already reshaping the world; it will
		// launch or stop as it sees fit.
		return
	}
	defer s.endOperation()

	if err := s.restart(opCtx, false); err != nil {
		s.logger.Errorf("Automatic restart failed: %v", err)
	}
}
