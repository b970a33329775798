package orchestrator

import (
	"context"
	"os"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/notify"
)

// notify sends the run summary to every enabled notifier. Delivery problems
// are logged and never change the outcome.
func (o *Orchestrator) sendNotifications(ctx context.Context, stats *RunStats) {
	if len(o.deps.Notifiers) == 0 {
		return
	}
	data := buildNotificationData(stats)
	o.logger.Debug("Notification data: status=%s, exit_code=%d, remote=%s, errors=%d, warnings=%d",
		data.Status, data.ExitCode, data.RemoteFile, data.ErrorCount, data.WarningCount)

	for _, n := range o.deps.Notifiers {
		if n == nil || !n.IsEnabled() {
			continue
		}
		result, err := n.Send(ctx, data)
		switch {
		case err != nil:
			o.logger.Warning("%s: failed: %v", n.Name(), err)
		case !result.Success:
			o.logger.Warning("%s: failure reported: %v", n.Name(), result.Error)
		default:
			o.logger.Debug("%s: sent in %s", n.Name(), result.Duration)
		}
	}
}

func buildNotificationData(stats *RunStats) *notify.NotificationData {
	hostname, _ := os.Hostname()
	status := notify.StatusFromExitCode(stats.ExitCode, stats.WarningCount)
	message := "Backup completed successfully"
	switch status {
	case notify.StatusWarning:
		message = "Backup completed with warnings"
	case notify.StatusFailure:
		message = "Backup failed"
		if stats.FailedPhase != "" {
			message += " during " + stats.FailedPhase
		}
	}

	size := stats.BytesDownloaded
	return &notify.NotificationData{
		Status:         status,
		StatusMessage:  message,
		ExitCode:       stats.ExitCode,
		FailedPhase:    stats.FailedPhase,
		Host:           stats.Host,
		User:           stats.User,
		RunID:          stats.RunID,
		Hostname:       hostname,
		BackupDate:     stats.StartTime,
		BackupDuration: stats.Duration,
		RemoteFile:     stats.RemoteFile,
		BackupFile:     stats.LocalPath,
		BackupSize:     size,
		BackupSizeHR:   backup.FormatBytes(size),
		Checksum:       stats.Checksum,
		Encrypted:      stats.Encrypted,
		Verified:       stats.Verified,
		RemoteDeleted:  stats.RemoteDeleted,
		CloudUploaded:  stats.CloudUploaded,
		ErrorCount:     stats.ErrorCount,
		WarningCount:   stats.WarningCount,
		LogFilePath:    stats.LogFilePath,
		ToolVersion:    stats.ToolVersion,
	}
}
