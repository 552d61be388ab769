package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputTailKeepsLastLines(t *testing.T) {
	tail := NewOutputTail(3)
	for _, line := range []string{"one", "two", "three", "four", "five"} {
		tail.Append(line)
	}
	assert.Equal(t, "three\nfour\nfive", tail.String())
}

func TestOutputTailEmpty(t *testing.T) {
	tail := NewOutputTail(3)
	assert.Equal(t, "", tail.String())
}

func TestOutputTailDefaultsBound(t *testing.T) {
	tail := NewOutputTail(0)
	for i := 0; i < DefaultTailLines*2; i++ {
		tail.Append("line")
	}
	assert.Len(t, strings.Split(tail.String(), "\n"), DefaultTailLines)
}

func TestDrainForwardsLines(t *testing.T) {
	var lines []string
	Drain(strings.NewReader("alpha\nbeta\ngamma\n"), func(line string) {
		lines = append(lines, line)
	})
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, lines)
}

func TestDrainLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	var lines []string
	Drain(strings.NewReader(long+"\nshort\n"), func(line string) {
		lines = append(lines, line)
	})
	assert.Len(t, lines, 2)
	assert.Len(t, lines[0], 200*1024)
	assert.Equal(t, "short", lines[1])
}

func TestDrainNilCallback(t *testing.T) {
	assert.NotPanics(t, func() {
		Drain(strings.NewReader("a\nb\n"), nil)
	})
}
