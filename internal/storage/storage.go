// Package storage manages where delivered backups live: the local output
// directory (critical) and an optional cloud bucket mirror (best effort).
package storage

import (
	"fmt"
	"regexp"
)

// BackupLocation represents a location where backups are stored
type BackupLocation string

const (
	LocationLocal BackupLocation = "local"
	LocationCloud BackupLocation = "cloud"
)

// archivePattern matches delivered archives, encrypted or not.
var archivePattern = regexp.MustCompile(`^backup-.*\.tar\.gz(\.age)?$`)

// IsBackupArchive reports whether name looks like a delivered cPanel backup.
func IsBackupArchive(name string) bool {
	return archivePattern.MatchString(name)
}

// RetentionSummary captures what happened during the last retention run.
type RetentionSummary struct {
	BackupsDeleted   int
	BackupsRemaining int
}

// StorageError represents an error from a storage operation
type StorageError struct {
	Location   BackupLocation
	Operation  string // "prepare", "create", "delete", "upload", ...
	Path       string
	Err        error
	IsCritical bool
}

func (e *StorageError) Error() string {
	criticality := "WARNING"
	if e.IsCritical {
		criticality = "CRITICAL"
	}
	return fmt.Sprintf("%s: %s storage %s operation failed for %s: %v",
		criticality, e.Location, e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
