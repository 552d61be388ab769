package reaper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/procrecord"
)

func testLogger(t *testing.T) logging.Logger {
	return logging.NewLogger("test , ", logging.LogFuncs{
		Debugf: t.Logf,
		Infof:  t.Logf,
		Warnf:  t.Logf,
		Errorf: t.Logf,
	})
}

type fakeInspector struct {
	listeners map[int][]int
	err       error
}

func (i *fakeInspector) ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	if i.err != nil {
		return nil, i.err
	}
	return i.listeners[port], nil
}

type reaperFixture struct {
	reaper     *Reaper
	store      *procrecord.Store
	inspector  *fakeInspector
	running    map[int]bool
	terminated []int
}

func newFixture(t *testing.T) *reaperFixture {
	t.Helper()
	logger := testLogger(t)
	store := procrecord.NewStore(filepath.Join(t.TempDir(), procrecord.RecordFileName), 8000, logger)
	inspector := &fakeInspector{listeners: map[int][]int{}}

	f := &reaperFixture{
		store:     store,
		inspector: inspector,
		running:   map[int]bool{},
	}
	f.reaper = NewReaper(store, inspector, time.Second, logger)
	f.reaper.isRunning = func(pid int) (bool, error) {
		return f.running[pid], nil
	}
	f.reaper.terminate = func(ctx context.Context, pid int, graceful time.Duration, logger logging.Logger) error {
		f.terminated = append(f.terminated, pid)
		return nil
	}
	return f
}

func (f *reaperFixture) recordGone(t *testing.T) {
	t.Helper()
	_, found, err := f.store.Read()
	require.NoError(t, err)
	assert.False(t, found, "record must be removed after reconciliation")
}

func TestReconcileNoRecord(t *testing.T) {
	f := newFixture(t)
	f.reaper.Reconcile(context.Background())
	assert.Empty(t, f.terminated)
}

func TestReconcileTerminatesConfirmedOrphan(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(procrecord.Record{PID: 4711, Port: 8002}))
	f.running[4711] = true
	f.inspector.listeners[8002] = []int{4711}

	f.reaper.Reconcile(context.Background())

	assert.Equal(t, []int{4711}, f.terminated)
	f.recordGone(t)
}

func TestReconcileStaleRecordDeadProcess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(procrecord.Record{PID: 4711, Port: 8002}))
	f.running[4711] = false

	f.reaper.Reconcile(context.Background())

	assert.Empty(t, f.terminated)
	f.recordGone(t)
}

func TestReconcilePIDReuseLeavesProcessAlone(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(procrecord.Record{PID: 4711, Port: 8002}))
	f.running[4711] = true
	// Alive, but some other process owns the port listener
	f.inspector.listeners[8002] = []int{9999}

	f.reaper.Reconcile(context.Background())

	assert.Empty(t, f.terminated)
	f.recordGone(t)
}

func TestReconcileAliveButNotListening(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(procrecord.Record{PID: 4711, Port: 8002}))
	f.running[4711] = true
	// No listeners on the recorded port at all

	f.reaper.Reconcile(context.Background())

	assert.Empty(t, f.terminated)
	f.recordGone(t)
}

func TestReconcileCorruptRecordRemoved(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.store.Path()), 0755))
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("not-a-record\n"), 0644))

	f.reaper.Reconcile(context.Background())

	assert.Empty(t, f.terminated)
	f.recordGone(t)
}

func TestReconcileLegacyRecordUsesDefaultPort(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.store.Path()), 0755))
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("4711\n"), 0644))
	f.running[4711] = true
	f.inspector.listeners[8000] = []int{4711}

	f.reaper.Reconcile(context.Background())

	assert.Equal(t, []int{4711}, f.terminated)
	f.recordGone(t)
}

func TestReconcileTerminationFailureStillRemovesRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(procrecord.Record{PID: 4711, Port: 8002}))
	f.running[4711] = true
	f.inspector.listeners[8002] = []int{4711}
	f.reaper.terminate = func(ctx context.Context, pid int, graceful time.Duration, logger logging.Logger) error {
		return errors.NewInternalError("permission denied", nil)
	}

	f.reaper.Reconcile(context.Background())

	f.recordGone(t)
}
