package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/types"
)

// LocalStorage is the output directory on this machine.
type LocalStorage struct {
	logger   *logging.Logger
	basePath string
	lastRet  RetentionSummary
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string, logger *logging.Logger) *LocalStorage {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &LocalStorage{logger: logger, basePath: basePath}
}

// Path returns the output directory.
func (l *LocalStorage) Path() string {
	return l.basePath
}

// Prepare creates the output directory and checks that it is writable.
func (l *LocalStorage) Prepare(ctx context.Context) error {
	if strings.TrimSpace(l.basePath) == "" {
		return l.critical("prepare", l.basePath, errors.New("output directory not configured"))
	}
	if err := os.MkdirAll(l.basePath, 0o750); err != nil {
		return l.critical("prepare", l.basePath, err)
	}
	probe, err := os.CreateTemp(l.basePath, ".cpanelsave-probe-*")
	if err != nil {
		return l.critical("prepare", l.basePath, fmt.Errorf("directory not writable: %w", err))
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	l.logger.Debug("Local storage ready: %s", l.basePath)
	return nil
}

// CreateBackupFile creates the destination for a remote archive. It fails
// if a file with that name already exists.
func (l *LocalStorage) CreateBackupFile(remoteName string) (*os.File, string, error) {
	name := filepath.Base(remoteName)
	if name != remoteName || name == "." || name == ".." {
		return nil, "", l.critical("create", remoteName, errors.New("remote name is not a plain file name"))
	}
	path := filepath.Join(l.basePath, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			err = fmt.Errorf("local file already exists: %w", err)
		}
		return nil, path, l.critical("create", path, err)
	}
	return f, path, nil
}

// RemovePartial deletes a file left behind by a failed transfer.
func (l *LocalStorage) RemovePartial(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warning("Could not remove partial file %s: %v", path, err)
		return
	}
	l.logger.Debug("Removed partial file %s", path)
}

// List returns the archives in the output directory, newest first.
func (l *LocalStorage) List(ctx context.Context) ([]*types.BackupMetadata, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, &StorageError{Location: LocationLocal, Operation: "list", Path: l.basePath, Err: err}
	}

	var backups []*types.BackupMetadata
	for _, entry := range entries {
		if entry.IsDir() || !IsBackupArchive(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(l.basePath, entry.Name())
		meta := &types.BackupMetadata{
			BackupFile: path,
			RemoteName: strings.TrimSuffix(entry.Name(), backup.AgeSuffix),
			Timestamp:  info.ModTime(),
			Size:       info.Size(),
			Encryption: types.EncryptionNone,
		}
		if strings.HasSuffix(entry.Name(), backup.AgeSuffix) {
			meta.Encryption = types.EncryptionAge
		}
		if sum, err := backup.ReadChecksumFile(path + backup.ChecksumSuffix); err == nil {
			meta.Checksum = sum
		}
		backups = append(backups, meta)
	}

	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Delete removes a backup file and its sidecars.
func (l *LocalStorage) Delete(ctx context.Context, backupFile string) error {
	if err := os.Remove(backupFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Location: LocationLocal, Operation: "delete", Path: backupFile, Err: err}
	}
	for _, sidecar := range backup.SidecarPaths(backupFile) {
		if err := os.Remove(sidecar); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.logger.Debug("Could not remove sidecar %s: %v", sidecar, err)
		}
	}
	return nil
}

// ApplyRetention keeps the maxBackups newest archives and deletes the rest.
// A non-positive limit disables retention.
func (l *LocalStorage) ApplyRetention(ctx context.Context, maxBackups int) (int, error) {
	if maxBackups <= 0 {
		l.logger.Debug("Retention disabled for local storage (maxBackups = %d)", maxBackups)
		return 0, nil
	}
	backups, err := l.List(ctx)
	if err != nil {
		return 0, err
	}

	total := len(backups)
	if total <= maxBackups {
		l.logger.Debug("Local storage: %d backups (within retention limit of %d)", total, maxBackups)
		l.lastRet = RetentionSummary{BackupsRemaining: total}
		return 0, nil
	}

	l.logger.Info("Simple retention → current: %d, limit: %d, to_delete: %d", total, maxBackups, total-maxBackups)
	deleted := 0
	for i := total - 1; i >= maxBackups; i-- {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		old := backups[i]
		l.logger.Debug("Deleting old backup: %s (created: %s)",
			filepath.Base(old.BackupFile), old.Timestamp.Format("2006-01-02 15:04:05"))
		if err := l.Delete(ctx, old.BackupFile); err != nil {
			l.logger.Warning("Failed to delete %s: %v", old.BackupFile, err)
			continue
		}
		deleted++
	}

	l.lastRet = RetentionSummary{BackupsDeleted: deleted, BackupsRemaining: total - deleted}
	return deleted, nil
}

// LastRetentionSummary returns the outcome of the last ApplyRetention call.
func (l *LocalStorage) LastRetentionSummary() RetentionSummary {
	return l.lastRet
}

func (l *LocalStorage) critical(op, path string, err error) error {
	return &StorageError{Location: LocationLocal, Operation: op, Path: path, Err: err, IsCritical: true}
}
