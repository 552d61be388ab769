package process

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
)

func testLogger(t *testing.T) logging.Logger {
	return logging.NewLogger("test , ", logging.LogFuncs{
		Debugf: t.Logf,
		Infof:  t.Logf,
		Warnf:  t.Logf,
		Errorf: t.Logf,
	})
}

func TestSpawnValidation(t *testing.T) {
	logger := testLogger(t)

	_, _, err := Spawn(nil, Spec{ExecutablePath: "/bin/true"}, "test", logger) //nolint:staticcheck
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	_, _, err = Spawn(context.Background(), Spec{}, "test", logger)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, _, err := Spawn(context.Background(), Spec{
		ExecutablePath: "/nonexistent/engine-python",
	}, "test", testLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsLaunchFailedError(err))
}

func TestRunCapturesOutputTail(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tail, err := Run(context.Background(), Spec{
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", "echo line-one; echo line-two"},
	}, "test", testLogger(t))
	require.NoError(t, err)
	assert.Contains(t, tail, "line-one")
	assert.Contains(t, tail, "line-two")
}

func TestRunReportsFailureWithTail(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tail, err := Run(context.Background(), Spec{
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", "echo broken; exit 3"},
	}, "test", testLogger(t))
	require.Error(t, err)
	assert.Contains(t, tail, "broken")
}
