// Package orchestrator drives one cPanel backup run: trigger, detect,
// wait for a stable size, download, verify and clean up.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/config"
	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/metrics"
	"github.com/tis24dev/cpanelsave/internal/storage"
	"github.com/tis24dev/cpanelsave/internal/types"
)

// RunStats describes the outcome of one run.
type RunStats struct {
	RunID       string
	Host        string
	User        string
	ToolVersion string

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	PhaseDurations map[string]time.Duration

	PreviousBackup  string
	RemoteFile      string
	RemoteSize      int64
	BytesDownloaded int64
	LocalPath       string
	ManifestPath    string
	Checksum        string // SHA-256 of the downloaded (plain) archive

	Verified         bool
	Encrypted        bool
	CloudUploaded    bool
	CloudKeys        []string
	RemoteDeleted    bool
	LocalBackups     int
	RetentionDeleted int

	ExitCode     int
	FailedPhase  string
	ErrorCount   int
	WarningCount int
	LogFilePath  string
}

// Orchestrator coordinates one backup run.
type Orchestrator struct {
	logger     *logging.Logger
	cfg        *config.Config
	gateway    Gateway
	trigger    Trigger
	verifier   backup.Verifier
	local      *storage.LocalStorage
	cloud      *storage.CloudStorage
	clock      Clock
	version    string
	deps       Deps
	totalSteps int
}

// New creates an Orchestrator from deps.
func New(deps Deps) (*Orchestrator, error) {
	deps.applyDefaults()
	switch {
	case deps.Config == nil:
		return nil, errors.New("orchestrator: config is required")
	case deps.Gateway == nil:
		return nil, errors.New("orchestrator: gateway is required")
	case deps.Trigger == nil:
		return nil, errors.New("orchestrator: trigger is required")
	case deps.Local == nil:
		return nil, errors.New("orchestrator: local storage is required")
	}
	if deps.Config.EncryptArchive && len(deps.Recipients) == 0 {
		return nil, errors.New("orchestrator: encryption enabled without recipients")
	}
	return &Orchestrator{
		logger:     deps.Logger,
		cfg:        deps.Config,
		gateway:    deps.Gateway,
		trigger:    deps.Trigger,
		verifier:   deps.Verifier,
		local:      deps.Local,
		cloud:      deps.Cloud,
		clock:      deps.Clock,
		version:    deps.Version,
		deps:       deps,
		totalSteps: 9,
	}, nil
}

func (o *Orchestrator) logStep(step int, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	o.logger.Step("[%d/%d] %s", step, o.totalSteps, message)
}

// timed runs fn as the named phase, recording its duration and wrapping a
// failure in a BackupError.
func (o *Orchestrator) timed(stats *RunStats, phase string, fn func() error) error {
	start := o.clock.Now()
	err := fn()
	stats.PhaseDurations[phase] += o.clock.Now().Sub(start)
	if err != nil {
		return phaseError(phase, err)
	}
	return nil
}

func (o *Orchestrator) remotePath(name string) string {
	dir := o.cfg.RemoteDir
	if dir == "" {
		dir = "/"
	}
	return path.Join(dir, name)
}

// Run performs the whole backup. Fatal failures are returned as
// *BackupError; stats is always non-nil.
func (o *Orchestrator) Run(ctx context.Context) (stats *RunStats, err error) {
	stats = &RunStats{
		RunID:          uuid.NewString(),
		Host:           o.cfg.Host,
		User:           o.cfg.User,
		ToolVersion:    o.version,
		StartTime:      o.clock.Now(),
		PhaseDurations: make(map[string]time.Duration),
		LogFilePath:    o.logger.GetLogFilePath(),
	}
	o.logger.Info("Starting cPanel backup of %s as %s (run %s)", o.cfg.Host, o.cfg.User, stats.RunID)

	defer func() {
		if err != nil {
			o.gateway.Close()
		}
		o.finish(ctx, stats, err)
	}()

	o.logStep(1, "Preparing output directory %s", o.local.Path())
	if err = o.timed(stats, PhaseInitialize, func() error { return o.local.Prepare(ctx) }); err != nil {
		return stats, err
	}

	o.logStep(2, "Logging in to FTP and listing existing backups")
	if err = o.timed(stats, PhaseLogin, func() error { return o.gateway.Login(ctx) }); err != nil {
		return stats, err
	}
	err = o.timed(stats, PhaseBaseline, func() error {
		files, lerr := o.gateway.List(ctx, o.cfg.RemoteDir)
		if lerr != nil {
			return lerr
		}
		stats.PreviousBackup = findYoungest(files)
		return nil
	})
	if err != nil {
		return stats, err
	}
	if stats.PreviousBackup == "" {
		o.logger.Info("No previous backup found in %s", o.cfg.RemoteDir)
	} else {
		o.logger.Info("Most recent existing backup: %s", stats.PreviousBackup)
	}

	o.logStep(3, "Triggering full backup on cPanel")
	if err = o.timed(stats, PhaseTrigger, func() error { return o.trigger.TriggerFullBackup(ctx) }); err != nil {
		return stats, err
	}

	deadline := o.clock.Now().Add(o.cfg.BackupTimeout)
	o.logger.Debug("Polling deadline: %s (timeout %s)", deadline.Format(time.RFC3339), o.cfg.BackupTimeout)

	o.logStep(4, "Waiting for the new backup to appear")
	err = o.timed(stats, PhaseDetect, func() error {
		name, werr := o.waitForNewBackup(ctx, stats.PreviousBackup, deadline)
		stats.RemoteFile = name
		return werr
	})
	if err != nil {
		return stats, err
	}
	remote := o.remotePath(stats.RemoteFile)

	o.logStep(5, "Waiting for %s to reach its final size", stats.RemoteFile)
	err = o.timed(stats, PhaseStability, func() error {
		size, werr := o.waitForStableSize(ctx, remote, deadline)
		stats.RemoteSize = size
		return werr
	})
	if err != nil {
		return stats, err
	}

	o.logStep(6, "Downloading %s (%s)", stats.RemoteFile, backup.FormatByteCount(stats.RemoteSize))
	if err = o.timed(stats, PhaseDownload, func() error { return o.download(ctx, stats, remote) }); err != nil {
		return stats, err
	}

	if o.cfg.VerifyBackup {
		o.logStep(7, "Verifying downloaded archive")
		err = o.timed(stats, PhaseVerify, func() error { return o.verifier.Verify(ctx, stats.LocalPath) })
		if err != nil {
			return stats, err
		}
		stats.Verified = true
		o.logger.Info("Archive verified: %s", stats.LocalPath)
	} else {
		o.logger.Skip("[7/%d] Verification disabled", o.totalSteps)
	}

	if o.cfg.EncryptArchive {
		err = o.timed(stats, PhaseEncrypt, func() error {
			dst, eerr := backup.EncryptFile(ctx, o.logger, stats.LocalPath, o.deps.Recipients)
			if eerr != nil {
				return eerr
			}
			stats.LocalPath = dst
			stats.Encrypted = true
			return nil
		})
		if err != nil {
			return stats, err
		}
		o.logger.Info("Archive encrypted: %s", stats.LocalPath)
	}
	if err = o.timed(stats, PhaseChecksum, func() error { return o.writeSidecars(ctx, stats) }); err != nil {
		return stats, err
	}

	o.logStep(8, "Storing and rotating local copies")
	o.syncStorage(ctx, stats)

	o.logStep(9, "Cleaning up remote server")
	o.cleanupRemote(ctx, stats, remote)

	if lerr := o.timed(stats, PhaseLogout, func() error { return o.gateway.Logout(ctx) }); lerr != nil {
		o.logger.Warning("Logout failed: %v", lerr)
	}
	o.logger.Info("Backup of %s completed: %s", o.cfg.Host, stats.LocalPath)
	return stats, nil
}

// download streams the remote archive into a freshly created local file.
// A failed transfer removes the partial file.
func (o *Orchestrator) download(ctx context.Context, stats *RunStats, remote string) error {
	file, localPath, err := o.local.CreateBackupFile(stats.RemoteFile)
	if err != nil {
		return err
	}

	o.logger.Progress("0%% ")
	result, err := o.gateway.Download(ctx, remote, file, stats.RemoteSize, func(percent int) {
		o.logger.Progress("%d%% ", percent)
	})
	stats.BytesDownloaded = result.Bytes
	if err != nil {
		o.local.RemovePartial(localPath)
		return err
	}

	stats.LocalPath = localPath
	stats.Checksum = result.SHA256
	if result.Bytes != stats.RemoteSize {
		o.logger.Warning("Downloaded %d bytes but the server reported %d", result.Bytes, stats.RemoteSize)
	}
	o.logger.Info("Downloaded %s to %s", backup.FormatByteCount(result.Bytes), localPath)
	return nil
}

// writeSidecars writes the .sha256 and .manifest.json files describing the
// final local artifact.
func (o *Orchestrator) writeSidecars(ctx context.Context, stats *RunStats) error {
	sum := stats.Checksum
	mode := types.EncryptionNone
	if stats.Encrypted {
		mode = types.EncryptionAge
		var err error
		if sum, err = backup.GenerateChecksum(ctx, o.logger, stats.LocalPath); err != nil {
			return o.sidecarError(stats.LocalPath, err)
		}
	}
	if _, err := backup.WriteChecksumFile(stats.LocalPath, sum); err != nil {
		return o.sidecarError(stats.LocalPath, err)
	}

	info, err := os.Stat(stats.LocalPath)
	if err != nil {
		return o.sidecarError(stats.LocalPath, err)
	}
	manifest := &backup.Manifest{
		ArchivePath:    stats.LocalPath,
		ArchiveSize:    info.Size(),
		SHA256:         sum,
		RemoteName:     stats.RemoteFile,
		RemoteSize:     stats.RemoteSize,
		Host:           stats.Host,
		RunID:          stats.RunID,
		StartedAt:      stats.StartTime,
		CreatedAt:      o.clock.Now(),
		Verified:       stats.Verified,
		EncryptionMode: string(mode),
		ToolVersion:    stats.ToolVersion,
	}
	if stats.Encrypted {
		manifest.PlainSHA256 = stats.Checksum
	}
	manifestPath := stats.LocalPath + backup.ManifestSuffix
	if err := backup.CreateManifest(ctx, o.logger, manifest, manifestPath); err != nil {
		return o.sidecarError(manifestPath, err)
	}
	stats.ManifestPath = manifestPath
	o.logger.Debug("Wrote checksum and manifest for %s", stats.LocalPath)
	return nil
}

func (o *Orchestrator) sidecarError(p string, err error) error {
	return &storage.StorageError{Location: storage.LocationLocal, Operation: "write sidecar", Path: p, Err: err, IsCritical: true}
}

// cleanupRemote deletes the remote archive. Failures are warnings only.
func (o *Orchestrator) cleanupRemote(ctx context.Context, stats *RunStats, remote string) {
	if !o.cfg.DeleteRemote {
		o.logger.Skip("Remote deletion disabled, keeping %s", remote)
		return
	}
	err := o.timed(stats, PhaseCleanup, func() error { return o.gateway.Delete(ctx, remote) })
	if err != nil {
		o.logger.Warning("Could not delete remote backup %s: %v", remote, err)
		return
	}
	stats.RemoteDeleted = true
	o.logger.Info("Deleted remote backup %s", remote)
}

// finish fills in the closing fields of stats and runs the reporting hooks.
func (o *Orchestrator) finish(ctx context.Context, stats *RunStats, err error) {
	stats.EndTime = o.clock.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	stats.ExitCode = ExitCodeFor(err).Int()

	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		stats.FailedPhase = backupErr.Phase
		o.logger.Error("Backup failed during %s: %v", backupErr.Phase, backupErr.Err)
	}

	warnings, errs := o.logger.Counts()
	stats.WarningCount, stats.ErrorCount = int(warnings), int(errs)

	if o.cfg.MetricsEnabled {
		o.exportMetrics(stats)
	}
	o.sendNotifications(ctx, stats)
}

func (o *Orchestrator) exportMetrics(stats *RunStats) {
	exporter := metrics.NewPrometheusExporter(o.cfg.MetricsPath, o.logger)
	if err := exporter.Export(stats.toPrometheusMetrics()); err != nil {
		o.logger.Warning("Failed to export Prometheus metrics: %v", err)
	}
}

func (s *RunStats) toPrometheusMetrics() *metrics.BackupMetrics {
	if s == nil {
		return nil
	}
	return &metrics.BackupMetrics{
		Host:            s.Host,
		RemoteFile:      s.RemoteFile,
		ToolVersion:     s.ToolVersion,
		FailedPhase:     s.FailedPhase,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		Duration:        s.Duration,
		PhaseDuration:   s.PhaseDurations,
		ExitCode:        s.ExitCode,
		ErrorCount:      s.ErrorCount,
		WarningCount:    s.WarningCount,
		RemoteSize:      s.RemoteSize,
		BytesDownloaded: s.BytesDownloaded,
		LocalBackups:    s.LocalBackups,
		CloudUploaded:   s.CloudUploaded,
		RemoteDeleted:   s.RemoteDeleted,
	}
}
