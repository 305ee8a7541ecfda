package main

import (
	"os"

	"go.uber.org/zap"

	"fifobus/pkg/app"
	"fifobus/pkg/config"
	"fifobus/pkg/observability"
)

type role string

const (
	rolePublish   role = "publish"
	roleIngest    role = "ingest"
	roleAnalytics role = "analytics"
)

// run loads configuration, installs signal handling and runs one role until
// it exits. It returns the process exit code.
func run(r role, opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	a := app.New(cfg, logger.Named(string(r)))
	coord := a.Coordinator()
	coord.Install()
	defer coord.Stop()

	zap.L().Info("fifobus started", zap.String("app", cfg.AppName), zap.String("role", string(r)), zap.String("run_id", a.RunID()))
	zap.L().Debug("effective configuration", zap.Any("config", cfg))

	switch r {
	case rolePublish:
		err = a.Publish()
	case roleIngest:
		err = a.Ingest()
	case roleAnalytics:
		err = a.Analytics()
	}
	if err != nil {
		zap.L().Error("role could not start", zap.String("role", string(r)), zap.Error(err))
		return 1
	}
	zap.L().Info("fifobus stopped", zap.String("role", string(r)), zap.String("reason", coord.Reason()))
	return 0
}
