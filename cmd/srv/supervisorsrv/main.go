package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"github.com/loopmaker/engine-supervisor-go/pkg/logging"
	"github.com/loopmaker/engine-supervisor-go/pkg/supervisor"
)

type flagOptions struct {
	ConfigFile string `long:"config" description:"path to the supervisor configuration file" required:"true"`
	LogFile    string `long:"log-file" description:"log file path (defaults to stderr only)"`
	LogLevel   string `long:"log-level" description:"log level: debug, info, warn, error" default:"info"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	config, err := supervisor.LoadConfigFromFile(opts.ConfigFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if opts.LogFile != "" {
		config.Logging.FilePath = opts.LogFile
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}

	zapLogger, flush, err := logging.NewZapLogger(config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	logger := logging.NewLogger(logPrefix("engine-supervisor"), logging.LogFuncs{
		Debugf: zapLogger.Debugf,
		Infof:  zapLogger.Infof,
		Warnf:  zapLogger.Warnf,
		Errorf: zapLogger.Errorf,
	})

	logger.Infof("opts: %+v", opts)

	sv := supervisor.NewSupervisor(*config, logger)
	defer sv.Close()

	sv.SetStateListener(func(state supervisor.State) {
		logger.Infof("Engine state: %s", state)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Infof("Received signal: %v, shutting down...", sig)
		cancel()
	}()

	if err := sv.EnsureRunning(ctx); err != nil {
		logger.Errorf("Engine failed to start: %v", err)
		// Keep the record and state visible for diagnosis; the reaper
		// reconciles any leftovers on the next run.
		_ = sv.Stop(context.Background())
		os.Exit(1)
	}

	logger.Infof("Engine is running, pid record: %s", sv.RecordPath())

	<-ctx.Done()

	if err := sv.Stop(context.Background()); err != nil {
		logger.Errorf("Shutdown error: %v", err)
		os.Exit(1)
	}
	logger.Infof("Engine stopped")
}
