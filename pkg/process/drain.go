package process

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// DefaultTailLines bounds how much child output is retained for
// failure diagnostics.
const DefaultTailLines = 50

// OutputTail retains the last maxLines lines written to it. Child process
// output is captured for diagnostics only, so a bounded tail is enough to
// attach to an error without holding a full install log in memory.
type OutputTail struct {
	mu       sync.Mutex
	lines    []string
	maxLines int
}

func NewOutputTail(maxLines int) *OutputTail {
	if maxLines <= 0 {
		maxLines = DefaultTailLines
	}
	return &OutputTail{maxLines: maxLines}
}

func (t *OutputTail) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.maxLines {
		t.lines = t.lines[len(t.lines)-t.maxLines:]
	}
}

func (t *OutputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

// Drain reads r line by line until EOF, forwarding each line to onLine.
// It blocks, so callers run it in a dedicated goroutine for the lifetime
// of the pipe. Draining continuously is a correctness requirement: a full
// 64KB pipe buffer stalls the child while the parent waits for its exit.
func Drain(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	// pip and uvicorn occasionally emit very long single lines
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
}
