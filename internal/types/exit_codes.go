// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Execution completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGenericError - Unspecified generic error.
	ExitGenericError ExitCode = 1

	// ExitConfigError - Configuration or command-line error.
	ExitConfigError ExitCode = 2

	// ExitBackupError - Post-download processing (encryption) failed.
	ExitBackupError ExitCode = 4

	// ExitStorageError - Error while writing to local or cloud storage.
	ExitStorageError ExitCode = 5

	// ExitNetworkError - Control panel or FTP connection/protocol error.
	ExitNetworkError ExitCode = 6

	// ExitVerificationError - Downloaded archive failed integrity verification.
	ExitVerificationError ExitCode = 8

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13

	// ExitAuthError - Credentials rejected or session not authenticated.
	ExitAuthError ExitCode = 15

	// ExitDetectionTimeout - The new backup file never appeared on the server.
	ExitDetectionTimeout ExitCode = 16

	// ExitStabilityTimeout - The backup file size did not settle in time.
	ExitStabilityTimeout ExitCode = 17

	// ExitTransferError - Download or transfer setup failed.
	ExitTransferError ExitCode = 18

	// ExitInterrupted - Run cancelled by SIGINT/SIGTERM.
	ExitInterrupted ExitCode = 130
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitGenericError:
		return "generic error"
	case ExitConfigError:
		return "configuration error"
	case ExitBackupError:
		return "backup error"
	case ExitStorageError:
		return "storage error"
	case ExitNetworkError:
		return "network error"
	case ExitVerificationError:
		return "verification error"
	case ExitPanicError:
		return "panic error"
	case ExitAuthError:
		return "authentication error"
	case ExitDetectionTimeout:
		return "backup not found (timeout)"
	case ExitStabilityTimeout:
		return "backup size not stable (timeout)"
	case ExitTransferError:
		return "transfer error"
	case ExitInterrupted:
		return "interrupted"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as an int.
func (e ExitCode) Int() int {
	return int(e)
}
