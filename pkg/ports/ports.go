package ports

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
)

const (
	// DefaultFirstPort matches the port the engine historically always
	// used, so legacy pid-only identity records resolve against it.
	DefaultFirstPort = 8000
	DefaultRangeSize = 10
)

// Range is the fixed contiguous candidate range of localhost TCP ports,
// tried in ascending order. Never persisted: a free port is re-derived by
// probing before every launch, because a previous instance may still hold
// an earlier candidate.
type Range struct {
	First int `yaml:"first,omitempty"`
	Count int `yaml:"count,omitempty"`
}

// Candidates returns the candidate ports in ascending order.
func (r Range) Candidates() []int {
	candidates := make([]int, 0, r.Count)
	for i := 0; i < r.Count; i++ {
		candidates = append(candidates, r.First+i)
	}
	return candidates
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.First, r.First+r.Count-1)
}

// Inspector answers "who is listening on this port" at the OS level.
type Inspector interface {
	// ListenerPIDs returns the PIDs with a TCP listener on the port. An
	// empty slice means the port is free. An error means the question
	// could not be answered (inspection tool unavailable).
	ListenerPIDs(ctx context.Context, port int) ([]int, error)
}

// LsofInspector shells out to lsof, the same utility the app has always
// relied on for listener discovery.
type LsofInspector struct {
	logger logging.Logger
}

func NewLsofInspector(logger logging.Logger) *LsofInspector {
	return &LsofInspector{logger: logger}
}

func (i *LsofInspector) ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	cmd := exec.CommandContext(ctx, "lsof", "-nP", "-t", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN")
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when it finds nothing; that simply means "free"
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 && len(output) == 0 {
			return nil, nil
		}
		return nil, errors.NewIOError("lsof invocation failed", err).WithContext("port", port)
	}
	return ParseListenerPIDs(string(output)), nil
}

// ParseListenerPIDs parses `lsof -t` output: one PID per line.
func ParseListenerPIDs(output string) []int {
	var pids []int
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// Allocator picks a launch port from the candidate range.
type Allocator struct {
	rng       Range
	inspector Inspector
	logger    logging.Logger
}

func NewAllocator(rng Range, inspector Inspector, logger logging.Logger) *Allocator {
	return &Allocator{
		rng:       rng,
		inspector: inspector,
		logger:    logger,
	}
}

// PickFree returns the first candidate port with no listener, checked via
// the OS inspector immediately before use. When the inspector is
// unavailable (no lsof on PATH), a bind probe stands in. Exhausting the
// range is a port-conflict error, fatal for this launch attempt.
func (a *Allocator) PickFree(ctx context.Context) (int, error) {
	for _, port := range a.rng.Candidates() {
		pids, err := a.inspector.ListenerPIDs(ctx, port)
		if err != nil {
			a.logger.Warnf("Listener inspection unavailable, falling back to bind probe, port: %d, error: %v", port, err)
			if bindProbeFree(port) {
				return port, nil
			}
			continue
		}
		if len(pids) == 0 {
			a.logger.Debugf("Selected free port %d", port)
			return port, nil
		}
		a.logger.Debugf("Port %d is occupied, listeners: %v", port, pids)
	}
	return 0, errors.NewPortConflictError(
		fmt.Sprintf("no free port in range %s", a.rng), nil).WithContext("range", a.rng.String())
}

// bindProbeFree checks availability by briefly binding the port.
func bindProbeFree(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// HasListener reports whether anything accepts connections on the port.
// Used as a best-effort confirmation when PID-level inspection fails.
func HasListener(port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
