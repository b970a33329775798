package orchestrator

import (
	"context"
	"regexp"
	"time"

	"github.com/tis24dev/cpanelsave/internal/ftp"
)

var backupNamePattern = regexp.MustCompile(`^backup-.*\.tar\.gz$`)

// findYoungest returns the name of the newest backup archive in files, or ""
// when none matches. On equal timestamps the first entry wins.
func findYoungest(files []ftp.RemoteFile) string {
	var (
		youngest string
		newest   time.Time
	)
	for _, f := range files {
		if f.IsDir || !backupNamePattern.MatchString(f.Name) {
			continue
		}
		if youngest == "" || f.ModifiedAt.After(newest) {
			youngest = f.Name
			newest = f.ModifiedAt
		}
	}
	return youngest
}

// waitForNewBackup polls the remote directory until its youngest backup
// differs from prev. Listing errors are returned immediately.
func (o *Orchestrator) waitForNewBackup(ctx context.Context, prev string, deadline time.Time) (string, error) {
	o.logger.Info("Polling for the backup we just started")
	for o.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		files, err := o.gateway.List(ctx, o.cfg.RemoteDir)
		if err != nil {
			return "", err
		}
		if name := findYoungest(files); name != "" && name != prev {
			o.logger.Info("Found new backup %s", name)
			return name, nil
		}
		o.logger.Debug("No new backup yet (youngest=%q), next check in %s", prev, o.cfg.PollInterval)
		o.clock.Sleep(o.cfg.PollInterval)
	}
	return "", ErrBackupNotFound
}

// waitForStableSize polls the size of remotePath until two consecutive
// readings agree and reach the configured minimum.
func (o *Orchestrator) waitForStableSize(ctx context.Context, remotePath string, deadline time.Time) (int64, error) {
	o.logger.Info("Polling for backup file size to become stable")
	var (
		last     int64
		haveLast bool
	)
	for o.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		file, err := o.gateway.Stat(ctx, remotePath)
		if err != nil {
			return 0, err
		}
		current := file.Size
		if haveLast && current == last && current >= o.cfg.MinBackupBytes {
			o.logger.Info("Backup size is stable at %d bytes", current)
			return current, nil
		}
		o.logger.Debug("Backup size now %d bytes (previous %d)", current, last)
		last, haveLast = current, true
		o.clock.Sleep(o.cfg.PollInterval)
	}
	return 0, ErrSizeUnstable
}
