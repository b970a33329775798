package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tis24dev/cpanelsave/internal/types"
)

type pendingEntry struct {
	level   types.LogLevel
	message string
}

// BootstrapLogger holds messages produced while the configuration is still
// being resolved (before the log level and log file are known). Warnings and
// errors are echoed to stderr immediately; everything is replayed into the
// real logger by Flush.
type BootstrapLogger struct {
	mu      sync.Mutex
	entries []pendingEntry
	flushed bool
	stderr  io.Writer
}

// NewBootstrapLogger creates an empty bootstrap logger.
func NewBootstrapLogger() *BootstrapLogger {
	return &BootstrapLogger{stderr: os.Stderr}
}

// Debug records a debug message without printing it.
func (b *BootstrapLogger) Debug(format string, args ...interface{}) {
	b.record(types.LogLevelDebug, fmt.Sprintf(format, args...), false)
}

// Info records an informational message without printing it.
func (b *BootstrapLogger) Info(format string, args ...interface{}) {
	b.record(types.LogLevelInfo, fmt.Sprintf(format, args...), false)
}

// Warning records a warning and prints it on stderr.
func (b *BootstrapLogger) Warning(format string, args ...interface{}) {
	b.record(types.LogLevelWarning, fmt.Sprintf(format, args...), true)
}

// Error records an error and prints it on stderr.
func (b *BootstrapLogger) Error(format string, args ...interface{}) {
	b.record(types.LogLevelError, fmt.Sprintf(format, args...), true)
}

func (b *BootstrapLogger) record(level types.LogLevel, message string, echo bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if echo && b.stderr != nil {
		fmt.Fprintln(b.stderr, message)
	}
	b.entries = append(b.entries, pendingEntry{level: level, message: message})
}

// Flush replays the recorded entries into logger. Only the first call has
// any effect; level filtering is left to the receiving logger.
func (b *BootstrapLogger) Flush(logger *Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.flushed || logger == nil {
		return
	}
	for _, entry := range b.entries {
		switch entry.level {
		case types.LogLevelDebug:
			logger.Debug("%s", entry.message)
		case types.LogLevelWarning:
			logger.Warning("%s", entry.message)
		case types.LogLevelError:
			logger.Error("%s", entry.message)
		default:
			logger.Info("%s", entry.message)
		}
	}
	b.flushed = true
	b.entries = nil
}
