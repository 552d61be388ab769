package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapConfig configures the zap backend used by the headless runner and the
// GUI host. An empty FilePath logs to stderr only.
type ZapConfig struct {
	Level      string `yaml:"level,omitempty"`       // "debug", "info", "warn", "error"
	Format     string `yaml:"format,omitempty"`      // "json" or "console"
	FilePath   string `yaml:"file_path,omitempty"`   // rotating log file, optional
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"` // rotation threshold
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

type zapBackend struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a Logger backed by zap, with optional lumberjack file
// rotation when FilePath is set.
func NewZapLogger(config ZapConfig) (Logger, func(), error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if config.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if config.FilePath != "" {
		maxSize := config.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 20
		}
		maxBackups := config.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		rotator := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		sinks = append(sinks, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	zapLogger := zap.New(core)

	backend := &zapBackend{sugar: zapLogger.Sugar()}
	flush := func() {
		_ = zapLogger.Sync()
	}
	return backend, flush, nil
}

func (z *zapBackend) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelInfo:
		z.sugar.Infof(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	}
}

func (z *zapBackend) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *zapBackend) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *zapBackend) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *zapBackend) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}
