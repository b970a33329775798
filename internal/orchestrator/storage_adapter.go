package orchestrator

import (
	"context"

	"github.com/tis24dev/cpanelsave/internal/backup"
)

// syncStorage mirrors the artifact to the cloud bucket and applies local
// retention. Neither step can fail the run.
func (o *Orchestrator) syncStorage(ctx context.Context, stats *RunStats) {
	if o.cfg.CloudEnabled && o.cloud != nil {
		files := append([]string{stats.LocalPath}, backup.SidecarPaths(stats.LocalPath)...)
		err := o.timed(stats, PhaseCloud, func() error {
			keys, serr := o.cloud.Store(ctx, files...)
			stats.CloudKeys = keys
			return serr
		})
		if err != nil {
			o.logger.Warning("Cloud upload failed: %v", err)
		} else {
			stats.CloudUploaded = true
			o.logger.Info("Mirrored %d file(s) to the cloud bucket", len(stats.CloudKeys))
		}
	} else {
		o.logger.Skip("Cloud mirror disabled")
	}

	if o.cfg.MaxLocalBackups > 0 {
		err := o.timed(stats, PhaseRetention, func() error {
			deleted, rerr := o.local.ApplyRetention(ctx, o.cfg.MaxLocalBackups)
			stats.RetentionDeleted = deleted
			return rerr
		})
		if err != nil {
			o.logger.Warning("Local retention failed: %v", err)
		}
	}

	if backups, err := o.local.List(ctx); err == nil {
		stats.LocalBackups = len(backups)
		o.logger.Debug("Local storage holds %d backup(s)", stats.LocalBackups)
	} else {
		o.logger.Debug("Could not count local backups: %v", err)
	}
}
