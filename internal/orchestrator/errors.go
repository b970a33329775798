package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/cpanel"
	"github.com/tis24dev/cpanelsave/internal/ftp"
	"github.com/tis24dev/cpanelsave/internal/storage"
	"github.com/tis24dev/cpanelsave/internal/types"
)

var (
	// ErrBackupNotFound means no new backup file appeared before the deadline.
	ErrBackupNotFound = errors.New("cannot find the new backup (timeout polling for file)")
	// ErrSizeUnstable means the backup file kept growing until the deadline.
	ErrSizeUnstable = errors.New("backup file size did not become stable before timeout")
)

// Run phases, as reported in BackupError.Phase and metrics.
const (
	PhaseLogin      = "login"
	PhaseBaseline   = "baseline"
	PhaseTrigger    = "trigger"
	PhaseDetect     = "detect"
	PhaseStability  = "stability"
	PhaseDownload   = "download"
	PhaseVerify     = "verify"
	PhaseEncrypt    = "encrypt"
	PhaseChecksum   = "checksum"
	PhaseCloud      = "cloud"
	PhaseRetention  = "retention"
	PhaseCleanup    = "cleanup"
	PhaseLogout     = "logout"
	PhaseInitialize = "initialize"
)

// BackupError represents a backup error with specific phase and exit code
type BackupError struct {
	Phase string
	Err   error
	Code  types.ExitCode
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("%s phase failed: %v", e.Phase, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

func phaseError(phase string, err error) *BackupError {
	return &BackupError{Phase: phase, Err: err, Code: ExitCodeFor(err)}
}

// ExitCodeFor maps an error returned by a run to the process exit code.
func ExitCodeFor(err error) types.ExitCode {
	if err == nil {
		return types.ExitSuccess
	}
	var backupErr *BackupError
	if errors.As(err, &backupErr) && backupErr.Code != types.ExitSuccess {
		return backupErr.Code
	}

	var storageErr *storage.StorageError
	switch {
	case errors.Is(err, context.Canceled):
		return types.ExitInterrupted
	case errors.Is(err, ErrBackupNotFound):
		return types.ExitDetectionTimeout
	case errors.Is(err, ErrSizeUnstable):
		return types.ExitStabilityTimeout
	case errors.Is(err, ftp.ErrAuthentication), errors.Is(err, ftp.ErrNotLoggedIn):
		return types.ExitAuthError
	case errors.Is(err, ftp.ErrTransfer), errors.Is(err, ftp.ErrTransferSetup):
		return types.ExitTransferError
	case errors.Is(err, ftp.ErrConnection), errors.Is(err, ftp.ErrListing), errors.Is(err, cpanel.ErrTrigger):
		return types.ExitNetworkError
	case errors.Is(err, backup.ErrVerification):
		return types.ExitVerificationError
	case errors.As(err, &storageErr):
		return types.ExitStorageError
	case errors.Is(err, backup.ErrEncryption):
		return types.ExitBackupError
	default:
		return types.ExitGenericError
	}
}
