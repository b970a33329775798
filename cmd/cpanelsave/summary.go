package main

import (
	"errors"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/orchestrator"
	"github.com/tis24dev/cpanelsave/internal/types"
)

func printSummary(logger *logging.Logger, stats *orchestrator.RunStats, runErr error) {
	if stats == nil {
		return
	}
	code := types.ExitCode(stats.ExitCode)

	logger.Phase("Summary")
	if stats.RemoteFile != "" {
		logger.Info("Remote file:   %s", stats.RemoteFile)
	}
	if stats.LocalPath != "" {
		logger.Info("Local file:    %s", stats.LocalPath)
	}
	logger.Info("Transferred:   %s", backup.FormatByteCount(stats.BytesDownloaded))
	logger.Info("Elapsed:       %s", backup.FormatDuration(stats.Duration))
	logger.Info("Verified: %v  Encrypted: %v  Cloud: %v  Remote deleted: %v",
		stats.Verified, stats.Encrypted, stats.CloudUploaded, stats.RemoteDeleted)
	logger.Info("Issues:        %d warning(s), %d error(s)", stats.WarningCount, stats.ErrorCount)
	if stats.LogFilePath != "" {
		logger.Info("Log file:      %s", stats.LogFilePath)
	}

	if runErr == nil {
		logger.Info("Exit code:     %d (%s)", code.Int(), code)
		return
	}
	var backupErr *orchestrator.BackupError
	if errors.As(runErr, &backupErr) {
		logger.Critical("ERROR: %s (phase %s): %v", code, backupErr.Phase, backupErr.Err)
	} else {
		logger.Critical("ERROR: %s: %v", code, runErr)
	}
	logger.Info("Exit code:     %d", code.Int())
}
