package sidecarenv

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/process"
)

const (
	// markerContent is a fixed literal; only the marker's presence matters.
	markerContent = "complete\n"

	DefaultRequirementsFile = "requirements.txt"

	progressTickInterval = 500 * time.Millisecond
)

// Config describes where the sidecar's files and environment live. The
// source directory is injected: bundled, provisioned and dev-tree layouts
// all collapse into this one root.
type Config struct {
	// SourceDir holds the sidecar's source and dependency manifest.
	SourceDir string `yaml:"source_dir"`

	// WorkDir is the writable staging directory the sidecar runs from.
	// Empty means run directly out of SourceDir (dev setup).
	WorkDir string `yaml:"work_dir,omitempty"`

	// EnvDir is the isolated environment directory. Callers version it
	// (e.g. "engine-venv-v2") so runtime upgrades provision fresh.
	EnvDir string `yaml:"env_dir"`

	// RequirementsFile is the manifest name inside the sidecar directory.
	RequirementsFile string `yaml:"requirements_file,omitempty"`
}

// ProgressFunc receives install progress in 0.0–1.0. Values are a smoothed
// estimate, not a correctness signal: pip exposes no real progress.
type ProgressFunc func(float64)

// Provisioner creates the sidecar's isolated runtime environment and
// installs its declared dependency set into it.
type Provisioner struct {
	config Config
	logger logging.Logger

	// runTool is swappable in tests
	runTool func(ctx context.Context, spec process.Spec, id string, logger logging.Logger) (string, error)
}

func NewProvisioner(config Config, logger logging.Logger) *Provisioner {
	if config.RequirementsFile == "" {
		config.RequirementsFile = DefaultRequirementsFile
	}
	return &Provisioner{
		config:  config,
		logger:  logger,
		runTool: process.Run,
	}
}

// markerPath is a sibling of the environment directory, deliberately not
// inside it: the directory existing says nothing about whether
// provisioning finished.
func (p *Provisioner) markerPath() string {
	return p.config.EnvDir + ".complete"
}

// SidecarDir is where the sidecar's runnable files live after staging.
func (p *Provisioner) SidecarDir() string {
	if p.config.WorkDir != "" {
		return p.config.WorkDir
	}
	return p.config.SourceDir
}

// PythonPath is the environment's interpreter, used to launch the sidecar.
func (p *Provisioner) PythonPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(p.config.EnvDir, "Scripts", "python.exe")
	}
	return filepath.Join(p.config.EnvDir, "bin", "python")
}

// Complete reports whether a prior provisioning run fully succeeded. The
// environment directory alone is not enough: without the marker it is
// partial state from an interrupted install and must not be reused.
func (p *Provisioner) Complete() bool {
	if _, err := os.Stat(p.config.EnvDir); err != nil {
		return false
	}
	if _, err := os.Stat(p.markerPath()); err != nil {
		return false
	}
	return true
}

// EnsureEnvironment makes the environment ready. Idempotent: a complete
// environment returns immediately; a partial one is discarded wholesale
// and recreated, never incrementally repaired.
func (p *Provisioner) EnsureEnvironment(ctx context.Context, runtimePath string, progress ProgressFunc) error {
	if runtimePath == "" {
		return errors.NewValidationError("runtime path cannot be empty", nil)
	}
	if progress == nil {
		progress = func(float64) {}
	}

	if p.Complete() {
		p.logger.Debugf("Environment already provisioned: %s", p.config.EnvDir)
		progress(1.0)
		return nil
	}

	if _, err := os.Stat(p.config.EnvDir); err == nil {
		p.logger.Warnf("Discarding partial environment (no completion marker): %s", p.config.EnvDir)
		if err := os.RemoveAll(p.config.EnvDir); err != nil {
			return errors.NewIOError("failed to discard partial environment", err).WithContext("env_dir", p.config.EnvDir)
		}
	}
	// A stale marker without a directory is equally meaningless
	_ = os.Remove(p.markerPath())

	if err := p.stageSidecarFiles(); err != nil {
		return err
	}

	p.logger.Infof("Creating environment, runtime: %s, env: %s", runtimePath, p.config.EnvDir)
	tail, err := p.runTool(ctx, process.Spec{
		ExecutablePath: runtimePath,
		Args:           []string{"-m", "venv", "--clear", p.config.EnvDir},
	}, "venv", p.logger)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelledError("environment creation cancelled", ctx.Err())
		}
		return errors.NewProvisioningFailedError("failed to create environment", err).WithContext("output", tail)
	}

	// Progress callbacks begin with the dependency install. Staging and
	// environment creation are fast; the install is the long step.
	reporter := newProgressReporter(progress)
	reporter.report(0.0)

	if err := p.installDependencies(ctx, reporter); err != nil {
		return err
	}

	if err := os.WriteFile(p.markerPath(), []byte(markerContent), 0644); err != nil {
		return errors.NewIOError("failed to write completion marker", err).WithContext("path", p.markerPath())
	}
	reporter.report(1.0)

	p.logger.Infof("Environment provisioned: %s", p.config.EnvDir)
	return nil
}

// installDependencies runs pip against the manifest. Its output streams
// are drained continuously while it runs; progress is advanced on a fixed
// cadence as a simulated estimate during the install.
func (p *Provisioner) installDependencies(ctx context.Context, reporter *progressReporter) error {
	requirements := filepath.Join(p.SidecarDir(), p.config.RequirementsFile)
	if _, err := os.Stat(requirements); err != nil {
		return errors.NewProvisioningFailedError("dependency manifest not found", err).WithContext("path", requirements)
	}

	p.logger.Infof("Installing dependencies from %s", requirements)

	stopSimulation := reporter.simulateUntil(0.9)
	tail, err := p.runTool(ctx, process.Spec{
		ExecutablePath:   p.PythonPath(),
		Args:             []string{"-m", "pip", "install", "-r", requirements},
		WorkingDirectory: p.SidecarDir(),
	}, "pip-install", p.logger)
	stopSimulation()

	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCancelledError("dependency installation cancelled", ctx.Err())
		}
		return errors.NewProvisioningFailedError("dependency installation failed", err).WithContext("output", tail)
	}

	reporter.report(0.95)
	return nil
}

// Discard removes the environment directory and its completion marker.
// Used by retry-setup and clean-install recovery paths.
func (p *Provisioner) Discard() error {
	p.logger.Infof("Discarding environment: %s", p.config.EnvDir)
	if err := os.RemoveAll(p.config.EnvDir); err != nil {
		return errors.NewIOError("failed to remove environment directory", err).WithContext("env_dir", p.config.EnvDir)
	}
	if err := os.Remove(p.markerPath()); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove completion marker", err).WithContext("path", p.markerPath())
	}
	return nil
}

// stageSidecarFiles copies the sidecar source and manifest into the
// writable working directory. Skipped when running directly from source.
func (p *Provisioner) stageSidecarFiles() error {
	if p.config.WorkDir == "" || p.config.WorkDir == p.config.SourceDir {
		return nil
	}
	if _, err := os.Stat(p.config.SourceDir); err != nil {
		return errors.NewProvisioningFailedError("sidecar source directory not found", err).WithContext("source_dir", p.config.SourceDir)
	}
	p.logger.Infof("Staging sidecar files, source: %s, work: %s", p.config.SourceDir, p.config.WorkDir)
	if err := copyTree(p.config.SourceDir, p.config.WorkDir); err != nil {
		return errors.NewIOError("failed to stage sidecar files", err).WithContext("source_dir", p.config.SourceDir)
	}
	return nil
}

// copyTree copies src into dst, skipping caches and hidden entries.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if path != src && (strings.HasPrefix(name, ".") || name == "__pycache__") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// progressReporter keeps reported progress monotonic and drives the
// simulated advance while pip runs.
type progressReporter struct {
	mu       sync.Mutex
	current  float64
	callback ProgressFunc
}

func newProgressReporter(callback ProgressFunc) *progressReporter {
	return &progressReporter{callback: callback}
}

func (r *progressReporter) report(value float64) {
	r.mu.Lock()
	if value < r.current {
		value = r.current
	}
	if value > 1.0 {
		value = 1.0
	}
	r.current = value
	r.mu.Unlock()
	r.callback(value)
}

// simulateUntil advances progress asymptotically toward ceiling on a fixed
// cadence until the returned stop function is called.
func (r *progressReporter) simulateUntil(ceiling float64) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(progressTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.mu.Lock()
				next := r.current + (ceiling-r.current)*0.02
				r.mu.Unlock()
				if next >= ceiling {
					next = ceiling
				}
				r.report(next)
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
