package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopmaker/engine-supervisor-go/pkg/ports"
	"github.com/loopmaker/engine-supervisor-go/pkg/procrecord"
	"github.com/loopmaker/engine-supervisor-go/pkg/sidecarenv"
)

type allFreeInspector struct{}

func (allFreeInspector) ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	return nil, nil
}

// fakeEngineEnv lays out a provisioned-looking environment whose
// interpreter is a shell script that just sleeps, so Launch spawns a
// real long-lived child.
func fakeEngineEnv(t *testing.T) (sidecarConfig SidecarConfig, env *sidecarenv.Provisioner) {
	t.Helper()
	root := t.TempDir()
	sourceDir := filepath.Join(root, "engine-src")
	envDir := filepath.Join(root, "engine-venv")
	require.NoError(t, os.MkdirAll(sourceDir, 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(envDir, "bin"), 0755))

	script := "#!/bin/sh\necho started\nsleep 60\n"
	require.NoError(t, os.WriteFile(filepath.Join(envDir, "bin", "python"), []byte(script), 0755))

	sidecarConfig = SidecarConfig{
		SourceDir:  sourceDir,
		EnvDir:     envDir,
		Entrypoint: "main.py",
	}
	env = sidecarenv.NewProvisioner(sidecarenv.Config{
		SourceDir: sourceDir,
		EnvDir:    envDir,
	}, testLogger(t))
	return sidecarConfig, env
}

func TestLaunchSpawnsAndPersistsRecord(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	logger := testLogger(t)
	sidecarConfig, env := fakeEngineEnv(t)
	store := procrecord.NewStore(filepath.Join(t.TempDir(), procrecord.RecordFileName), 8000, logger)
	allocator := ports.NewAllocator(ports.Range{First: 8000, Count: 3}, allFreeInspector{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := newLauncher(sidecarConfig, allocator, env, store, ctx, logger)
	handle, err := l.Launch(context.Background())
	require.NoError(t, err)
	defer handle.Terminate(context.Background(), time.Second)

	assert.True(t, handle.Alive())
	assert.Greater(t, handle.PID(), 0)
	assert.Equal(t, 8000, handle.Port())

	rec, found, err := store.Read()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, procrecord.Record{PID: handle.PID(), Port: handle.Port()}, rec)

	require.NoError(t, handle.Terminate(context.Background(), time.Second))
	assert.False(t, handle.Alive())
}

func TestLaunchFailsWhenInterpreterMissing(t *testing.T) {
	logger := testLogger(t)
	sidecarConfig, env := fakeEngineEnv(t)
	require.NoError(t, os.RemoveAll(filepath.Join(sidecarConfig.EnvDir, "bin")))

	store := procrecord.NewStore(filepath.Join(t.TempDir(), procrecord.RecordFileName), 8000, logger)
	allocator := ports.NewAllocator(ports.Range{First: 8000, Count: 1}, allFreeInspector{}, logger)

	l := newLauncher(sidecarConfig, allocator, env, store, context.Background(), logger)
	_, err := l.Launch(context.Background())
	require.Error(t, err)

	_, found, readErr := store.Read()
	require.NoError(t, readErr)
	assert.False(t, found)
}
