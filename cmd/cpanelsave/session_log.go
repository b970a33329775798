package main

import (
	"github.com/tis24dev/cpanelsave/internal/config"
	"github.com/tis24dev/cpanelsave/internal/logging"
)

// startRunLogger builds the logger of the run. With LOG_PATH set the
// session is mirrored to a file; failing to open it only costs the file.
func startRunLogger(cfg *config.Config, useColor bool, bootstrap *logging.BootstrapLogger) (*logging.Logger, func()) {
	if cfg.LogPath == "" {
		return logging.New(cfg.DebugLevel, useColor), func() {}
	}

	logger, logPath, closeFn, err := logging.StartSessionLogger(logging.SessionOptions{
		Dir:      cfg.LogPath,
		Host:     cfg.Host,
		Level:    cfg.DebugLevel,
		UseColor: useColor,
		Keep:     cfg.LogKeep,
	})
	if err != nil {
		bootstrap.Warning("WARNING: Unable to start session log in %s: %v", cfg.LogPath, err)
		return logging.New(cfg.DebugLevel, useColor), func() {}
	}
	bootstrap.Info("Session log: %s", logPath)
	return logger, closeFn
}
