package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormatting(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewLaunchFailedError("failed to start the process", cause)

	assert.Equal(t, "launch_failed: failed to start the process: connection refused", err.Error())
	assert.Equal(t, "failed to start the process", err.UserMessage())
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestDomainErrorWithoutCause(t *testing.T) {
	err := NewRuntimeMissingError("no compatible interpreter found", nil)
	assert.Equal(t, "runtime_missing: no compatible interpreter found", err.Error())
}

func TestTypeClassification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		matches func(error) bool
	}{
		{"runtime missing", NewRuntimeMissingError("m", nil), IsRuntimeMissingError},
		{"provisioning failed", NewProvisioningFailedError("m", nil), IsProvisioningFailedError},
		{"port conflict", NewPortConflictError("m", nil), IsPortConflictError},
		{"launch failed", NewLaunchFailedError("m", nil), IsLaunchFailedError},
		{"health timeout", NewHealthTimeoutError("m", nil), IsHealthTimeoutError},
		{"process died", NewProcessDiedError("m", nil), IsProcessDiedError},
		{"crash exhausted", NewCrashExhaustedError("m", nil), IsCrashExhaustedError},
		{"validation", NewValidationError("m", nil), IsValidationError},
		{"io", NewIOError("m", nil), IsIOError},
		{"cancelled", NewCancelledError("m", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.matches(tt.err))
			assert.False(t, IsInternalError(tt.err))
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := NewHealthTimeoutError("engine did not become healthy", nil)
	wrapped := fmt.Errorf("startup failed: %w", inner)

	assert.True(t, IsHealthTimeoutError(wrapped))
	assert.False(t, IsProcessDiedError(wrapped))
}

func TestIsMatchesOnTypeOnly(t *testing.T) {
	a := NewPortConflictError("no free port in range 8000..8009", nil)
	b := NewPortConflictError("different message", nil)
	assert.True(t, stderrors.Is(a, b))
}

func TestWithContext(t *testing.T) {
	err := NewIOError("failed to write process record", nil).
		WithContext("path", "/tmp/engine.pid").
		WithContext("attempt", 2)

	require.NotNil(t, err.Context)
	assert.Equal(t, "/tmp/engine.pid", err.Context["path"])
	assert.Equal(t, 2, err.Context["attempt"])
}

func TestUserMessageHelper(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "plain failure", UserMessage(stderrors.New("plain failure")))

	err := fmt.Errorf("wrap: %w", NewProcessDiedError("engine process exited during startup", stderrors.New("signal: killed")))
	assert.Equal(t, "engine process exited during startup", UserMessage(err))
}
