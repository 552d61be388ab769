package runtimedetect

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
)

// The sidecar's ML stack needs at least Python 3.10.
const DefaultMinMinorVersion = 10

// Config controls where the detector looks and what it accepts.
type Config struct {
	// A runtime shipped inside the application package. Trusted as-is
	// when present; the packager already pinned its version.
	BundledPath string `yaml:"bundled_path,omitempty"`

	// Well-known install locations tried before the PATH fallback.
	// Empty means OS defaults.
	SearchPaths []string `yaml:"search_paths,omitempty"`

	// Minimum accepted 3.x minor version.
	MinMinorVersion int `yaml:"min_minor_version,omitempty"`
}

// Detector locates a usable Python interpreter on the host.
type Detector struct {
	config Config
	logger logging.Logger

	// probeVersion is swappable in tests
	probeVersion func(ctx context.Context, path string) (string, error)
}

func NewDetector(config Config, logger logging.Logger) *Detector {
	if config.MinMinorVersion <= 0 {
		config.MinMinorVersion = DefaultMinMinorVersion
	}
	if len(config.SearchPaths) == 0 {
		config.SearchPaths = defaultSearchPaths()
	}
	return &Detector{
		config:       config,
		logger:       logger,
		probeVersion: probeVersion,
	}
}

// Detect returns the first acceptable interpreter: bundled runtime, then
// well-known install locations, then a PATH lookup. Each system candidate
// is verified by executing it with --version and parsing major/minor. A
// runtime-missing error signals that user action is required; it is never
// retried automatically.
func (d *Detector) Detect(ctx context.Context) (string, error) {
	if d.config.BundledPath != "" {
		if _, err := os.Stat(d.config.BundledPath); err == nil {
			d.logger.Infof("Using bundled runtime: %s", d.config.BundledPath)
			return d.config.BundledPath, nil
		}
		d.logger.Debugf("Bundled runtime not present: %s", d.config.BundledPath)
	}

	candidates := make([]string, 0, len(d.config.SearchPaths)+1)
	candidates = append(candidates, d.config.SearchPaths...)
	if pathCandidate, err := exec.LookPath(pythonExecutableName()); err == nil {
		candidates = append(candidates, pathCandidate)
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		major, minor, err := d.versionOf(ctx, candidate)
		if err != nil {
			d.logger.Debugf("Runtime candidate rejected, path: %s, error: %v", candidate, err)
			continue
		}
		if major != 3 || minor < d.config.MinMinorVersion {
			d.logger.Debugf("Runtime candidate too old, path: %s, version: %d.%d, required: 3.%d+",
				candidate, major, minor, d.config.MinMinorVersion)
			continue
		}
		d.logger.Infof("Runtime detected, path: %s, version: %d.%d", candidate, major, minor)
		return candidate, nil
	}

	return "", errors.NewRuntimeMissingError(
		fmt.Sprintf("no Python 3.%d+ interpreter found; please install a compatible Python", d.config.MinMinorVersion),
		nil)
}

func (d *Detector) versionOf(ctx context.Context, path string) (int, int, error) {
	output, err := d.probeVersion(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	return ParseVersion(output)
}

var versionPattern = regexp.MustCompile(`Python\s+(\d+)\.(\d+)`)

// ParseVersion extracts major/minor from `python --version` output.
func ParseVersion(output string) (int, int, error) {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, 0, errors.NewValidationError("unrecognized version output", nil).WithContext("output", output)
	}
	major, _ := strconv.Atoi(match[1])
	minor, _ := strconv.Atoi(match[2])
	return major, minor, nil
}

// probeVersion runs the candidate with --version. Output is read combined:
// Python 2 and some 3.x builds print the version to stderr.
func probeVersion(ctx context.Context, path string) (string, error) {
	output, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func pythonExecutableName() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python3"
}

func defaultSearchPaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/opt/homebrew/bin/python3",
			"/usr/local/bin/python3",
			"/usr/bin/python3",
		}
	case "windows":
		return []string{
			`C:\Python312\python.exe`,
			`C:\Python311\python.exe`,
			`C:\Python310\python.exe`,
		}
	default:
		return []string{
			"/usr/local/bin/python3",
			"/usr/bin/python3",
		}
	}
}
