// Package notify reports the outcome of a backup run to external services.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/tis24dev/cpanelsave/internal/types"
)

// NotificationStatus represents the overall status of a backup operation
type NotificationStatus int

const (
	StatusSuccess NotificationStatus = iota
	StatusWarning
	StatusFailure
)

// String returns the string representation of NotificationStatus
func (s NotificationStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StatusFromExitCode maps a process exit code to a notification status.
// A successful run that logged warnings is reported as StatusWarning.
func StatusFromExitCode(exitCode int, warnings int) NotificationStatus {
	if exitCode != types.ExitSuccess.Int() {
		return StatusFailure
	}
	if warnings > 0 {
		return StatusWarning
	}
	return StatusSuccess
}

// NotificationData contains all information to be sent in notifications
type NotificationData struct {
	Status        NotificationStatus
	StatusMessage string
	ExitCode      int
	FailedPhase   string

	Host     string
	User     string
	RunID    string
	Hostname string // machine running cpanelsave

	BackupDate     time.Time
	BackupDuration time.Duration
	RemoteFile     string
	BackupFile     string
	BackupSize     int64
	BackupSizeHR   string
	Checksum       string
	Encrypted      bool
	Verified       bool
	RemoteDeleted  bool
	CloudUploaded  bool

	ErrorCount   int
	WarningCount int
	LogFilePath  string

	ToolVersion string
}

// NotificationResult represents the result of a notification attempt
type NotificationResult struct {
	Success  bool
	Method   string
	Error    error
	Duration time.Duration
}

// Notifier is the interface that must be implemented by all notification providers
type Notifier interface {
	Name() string
	IsEnabled() bool
	// Send returns an error only for failures the caller must see; delivery
	// problems are reported through the result.
	Send(ctx context.Context, data *NotificationData) (*NotificationResult, error)
}

// FormatDuration formats a duration in human-readable format (e.g., "2h 15m 30s")
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
