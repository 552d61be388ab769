package supervisor

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loopmaker/engine-supervisor-go/pkg/errors"
	"github.com/loopmaker/engine-supervisor-go/pkg/health"
	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/ports"
	"github.com/loopmaker/engine-supervisor-go/pkg/procrecord"
	"github.com/loopmaker/engine-supervisor-go/pkg/runtimedetect"
)

const (
	DefaultHealthTimeout    = 90 * time.Second
	DefaultMonitorInterval  = 5 * time.Second
	DefaultGracefulTimeout  = 10 * time.Second
	DefaultMaxCrashRestarts = 3
	DefaultEntrypoint       = "main.py"
)

// SidecarConfig locates the engine files and controls how the sidecar
// process is started.
type SidecarConfig struct {
	// SourceDir holds the engine's runnable files as shipped with the
	// application bundle.
	SourceDir string `yaml:"source_dir"`
	// WorkDir, when set, receives a writable copy of SourceDir during
	// provisioning and becomes the process working directory. Leave
	// empty to run in place from SourceDir.
	WorkDir string `yaml:"work_dir,omitempty"`
	// EnvDir is where the private interpreter environment lives.
	// Defaults to <data_dir>/engine-venv.
	EnvDir           string   `yaml:"env_dir,omitempty"`
	Entrypoint       string   `yaml:"entrypoint,omitempty"`
	ExtraArgs        []string `yaml:"extra_args,omitempty"`
	RequirementsFile string   `yaml:"requirements_file,omitempty"`
}

// Config is the full supervisor configuration. Zero values are filled
// in by SetDefaults so an embedding application only has to point at
// the engine sources.
type Config struct {
	AppName string `yaml:"app_name,omitempty"`
	// DataDir is the per-user application support directory holding the
	// process identity record and the environment. Defaults to the
	// platform convention for AppName.
	DataDir string `yaml:"data_dir,omitempty"`

	Sidecar SidecarConfig        `yaml:"sidecar"`
	Runtime runtimedetect.Config `yaml:"runtime,omitempty"`
	Ports   ports.Range          `yaml:"ports,omitempty"`

	HealthTimeout    time.Duration `yaml:"health_timeout,omitempty"`
	ProbeInterval    time.Duration `yaml:"probe_interval,omitempty"`
	MonitorInterval  time.Duration `yaml:"monitor_interval,omitempty"`
	GracefulTimeout  time.Duration `yaml:"graceful_timeout,omitempty"`
	MaxCrashRestarts int           `yaml:"max_crash_restarts,omitempty"`

	Logging logging.ZapConfig `yaml:"logging,omitempty"`
}

// LoadConfigFromFile reads a YAML config, applies defaults and
// validates the result.
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read config file", err).WithContext("file", filename)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse config file", err).WithContext("file", filename)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) SetDefaults() {
	if c.AppName == "" {
		c.AppName = procrecord.DefaultAppName
	}
	if c.DataDir == "" {
		c.DataDir = procrecord.DefaultDataDirectory(c.AppName)
	}
	if c.Sidecar.EnvDir == "" {
		c.Sidecar.EnvDir = filepath.Join(c.DataDir, "engine-venv")
	}
	if c.Sidecar.Entrypoint == "" {
		c.Sidecar.Entrypoint = DefaultEntrypoint
	}
	if c.Runtime.MinMinorVersion == 0 {
		c.Runtime.MinMinorVersion = runtimedetect.DefaultMinMinorVersion
	}
	if c.Ports.First == 0 {
		c.Ports.First = ports.DefaultFirstPort
	}
	if c.Ports.Count == 0 {
		c.Ports.Count = ports.DefaultRangeSize
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = health.DefaultProbeInterval
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = DefaultGracefulTimeout
	}
	if c.MaxCrashRestarts == 0 {
		c.MaxCrashRestarts = DefaultMaxCrashRestarts
	}
}

func (c *Config) Validate() error {
	if c.Sidecar.SourceDir == "" {
		return errors.NewValidationError("sidecar source_dir is required", nil)
	}
	if c.Ports.Count < 1 {
		return errors.NewValidationError("port range must contain at least one port", nil).
			WithContext("count", c.Ports.Count)
	}
	if c.MaxCrashRestarts < 0 {
		return errors.NewValidationError("max_crash_restarts cannot be negative", nil)
	}
	return nil
}
