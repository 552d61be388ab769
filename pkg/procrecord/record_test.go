package procrecord

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		defaultPort int
		want        Record
		wantError   bool
	}{
		{
			name:        "pid and port",
			content:     "12345:8003",
			defaultPort: 8000,
			want:        Record{PID: 12345, Port: 8003},
		},
		{
			name:        "legacy pid only uses default port",
			content:     "12345",
			defaultPort: 8000,
			want:        Record{PID: 12345, Port: 8000},
		},
		{
			name:        "surrounding whitespace",
			content:     "  12345:8003\n",
			defaultPort: 8000,
			want:        Record{PID: 12345, Port: 8003},
		},
		{
			name:        "empty content",
			content:     "",
			defaultPort: 8000,
			wantError:   true,
		},
		{
			name:        "garbage pid",
			content:     "abc:8003",
			defaultPort: 8000,
			wantError:   true,
		},
		{
			name:        "garbage port",
			content:     "12345:engine",
			defaultPort: 8000,
			wantError:   true,
		},
		{
			name:        "negative pid",
			content:     "-4:8003",
			defaultPort: 8000,
			wantError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.content, tt.defaultPort)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordFormatRoundTrip(t *testing.T) {
	rec := Record{PID: 4711, Port: 8005}
	parsed, err := Parse(rec.Format(), 8000)
	require.NoError(t, err)
	assert.Equal(t, rec, parsed)
}

func TestStoreWriteReadRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "nested", RecordFileName), 8000, testLogger(t))

	_, found, err := store.Read()
	require.NoError(t, err)
	assert.False(t, found)

	rec := Record{PID: 4711, Port: 8002}
	require.NoError(t, store.Write(rec))

	got, found, err := store.Read()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)

	require.NoError(t, store.Remove())
	_, found, err = store.Read()
	require.NoError(t, err)
	assert.False(t, found)

	// Removing again is not an error
	require.NoError(t, store.Remove())
}

func TestStoreReadLegacyFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, RecordFileName)
	require.NoError(t, os.WriteFile(path, []byte("999\n"), 0644))

	store := NewStore(path, 8000, testLogger(t))
	rec, found, err := store.Read()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, Record{PID: 999, Port: 8000}, rec)
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath("LoopMaker")
	assert.Equal(t, RecordFileName, filepath.Base(path))
	assert.Contains(t, path, "LoopMaker")
}
