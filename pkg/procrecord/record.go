package procrecord

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
)

// Default application name used for the private data directory.
const DefaultAppName = "LoopMaker"

// Record is the durable identity of a launched sidecar process. Its
// presence after an unclean exit is the signal that an orphan may exist.
type Record struct {
	PID  int
	Port int
}

// Format renders the on-disk "<pid>:<port>" form.
func (r Record) Format() string {
	return fmt.Sprintf("%d:%d", r.PID, r.Port)
}

// Parse reads a record in "<pid>:<port>" form. The legacy single-integer
// form (pid only, from app versions that always used one port) is still
// accepted; defaultPort fills in the missing half.
func Parse(content string, defaultPort int) (Record, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Record{}, errors.NewValidationError("process record is empty", nil)
	}

	pidPart := content
	portPart := ""
	if idx := strings.IndexByte(content, ':'); idx >= 0 {
		pidPart = content[:idx]
		portPart = content[idx+1:]
	}

	pid, err := strconv.Atoi(strings.TrimSpace(pidPart))
	if err != nil || pid <= 0 {
		return Record{}, errors.NewValidationError("invalid PID in process record", err).WithContext("content", content)
	}

	port := defaultPort
	if portPart != "" {
		port, err = strconv.Atoi(strings.TrimSpace(portPart))
		if err != nil || port <= 0 {
			return Record{}, errors.NewValidationError("invalid port in process record", err).WithContext("content", content)
		}
	}

	return Record{PID: pid, Port: port}, nil
}

// Store reads and writes the process identity record at a fixed path.
type Store struct {
	path        string
	defaultPort int
	logger      logging.Logger
}

func NewStore(path string, defaultPort int, logger logging.Logger) *Store {
	return &Store{
		path:        path,
		defaultPort: defaultPort,
		logger:      logger,
	}
}

func (s *Store) Path() string {
	return s.path
}

// Write persists the record, creating the data directory if needed.
func (s *Store) Write(rec Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create record directory", err).WithContext("directory", dir)
	}
	if err := os.WriteFile(s.path, []byte(rec.Format()+"\n"), 0644); err != nil {
		return errors.NewIOError("failed to write process record", err).WithContext("path", s.path)
	}
	s.logger.Debugf("Process record written, pid: %d, port: %d, path: %s", rec.PID, rec.Port, s.path)
	return nil
}

// Read returns the stored record. The second return is false when no
// record exists (no prior run to reconcile).
func (s *Store) Read() (Record, bool, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, errors.NewIOError("failed to read process record", err).WithContext("path", s.path)
	}

	rec, err := Parse(string(content), s.defaultPort)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Remove deletes the record. Absence is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove process record", err).WithContext("path", s.path)
	}
	s.logger.Debugf("Process record removed, path: %s", s.path)
	return nil
}

// DefaultDataDirectory returns the OS-appropriate private data directory
// for the app, mirroring where the sidecar itself keeps its state.
func DefaultDataDirectory(appName string) string {
	if appName == "" {
		appName = DefaultAppName
	}

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile != "" {
				localAppData = filepath.Join(userProfile, "AppData", "Local")
			} else {
				localAppData = os.TempDir()
			}
		}
		return filepath.Join(localAppData, appName)

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		return filepath.Join(homeDir, "Library", "Application Support", appName)

	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, appName)
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		return filepath.Join(homeDir, ".local", "share", appName)
	}
}

// RecordFileName is the fixed record file name under the app data
// directory.
const RecordFileName = "engine.pid"

// DefaultPath returns the fixed record path under the app data directory.
func DefaultPath(appName string) string {
	return filepath.Join(DefaultDataDirectory(appName), RecordFileName)
}
