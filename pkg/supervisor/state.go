package supervisor

import "fmt"

// Phase is the tag of the supervisor state. Exactly one phase holds at a
// time; transitions are monotonic within one EnsureRunning pass and only
// the explicit retry/restart entry points revisit earlier phases.
type Phase string

const (
	PhaseNotStarted             Phase = "not_started"
	PhaseCheckingRuntime        Phase = "checking_runtime"
	PhaseRuntimeMissing         Phase = "runtime_missing"
	PhaseCheckingEnvironment    Phase = "checking_environment"
	PhaseCreatingEnvironment    Phase = "creating_environment"
	PhaseInstallingDependencies Phase = "installing_dependencies"
	PhaseStartingProcess        Phase = "starting_process"
	PhaseWaitingForHealth       Phase = "waiting_for_health"
	PhaseRunning                Phase = "running"
	PhaseError                  Phase = "error"
)

// State is the GUI-observable supervisor state: a phase tag plus the
// payload that phase carries. Progress is meaningful only while
// installing dependencies; Message only in the error phases.
type State struct {
	Phase    Phase
	Progress float64
	Message  string
}

// Is compares on the tag alone, ignoring payload. GUI code switching on
// the state compares this way.
func (s State) Is(phase Phase) bool {
	return s.Phase == phase
}

func (s State) String() string {
	switch s.Phase {
	case PhaseInstallingDependencies:
		return fmt.Sprintf("%s(%.0f%%)", s.Phase, s.Progress*100)
	case PhaseError, PhaseRuntimeMissing:
		return fmt.Sprintf("%s(%s)", s.Phase, s.Message)
	default:
		return string(s.Phase)
	}
}

// StateAt returns a payload-free state for the given phase.
func StateAt(phase Phase) State {
	return State{Phase: phase}
}

// StateInstalling carries the current install progress estimate (0.0–1.0).
func StateInstalling(progress float64) State {
	return State{Phase: PhaseInstallingDependencies, Progress: progress}
}

// StateRuntimeMissing carries the user-action message for a missing
// runtime. Terminal until the user installs a compatible interpreter.
func StateRuntimeMissing(message string) State {
	return State{Phase: PhaseRuntimeMissing, Message: message}
}

// StateError carries a short human-readable failure message for the GUI.
func StateError(message string) State {
	return State{Phase: PhaseError, Message: message}
}
