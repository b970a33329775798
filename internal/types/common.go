package types

import (
	"strings"
	"time"
)

// EncryptionMode describes how a delivered archive is stored at rest.
type EncryptionMode string

const (
	// EncryptionNone - archive stored as downloaded
	EncryptionNone EncryptionMode = "plain"

	// EncryptionAge - archive encrypted with age
	EncryptionAge EncryptionMode = "age"
)

// String returns the string representation of the encryption mode.
func (m EncryptionMode) String() string {
	return string(m)
}

// BackupMetadata describes a backup archive held in local or cloud storage.
type BackupMetadata struct {
	// BackupFile is the full path (or object key) of the archive
	BackupFile string

	// RemoteName is the file name the control panel gave the backup
	RemoteName string

	// Timestamp is when the archive was delivered
	Timestamp time.Time

	// Size is the file size in bytes
	Size int64

	// Checksum is the SHA256 checksum of the downloaded bytes
	Checksum string

	// Encryption is the at-rest encryption mode
	Encryption EncryptionMode
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a name or numeric string into a LogLevel.
// Unknown values map to LogLevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "5", "advanced", "extreme":
		return LogLevelDebug
	case "info", "4", "standard":
		return LogLevelInfo
	case "warning", "warn", "3":
		return LogLevelWarning
	case "error", "2":
		return LogLevelError
	case "critical", "1":
		return LogLevelCritical
	case "none", "0":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}
