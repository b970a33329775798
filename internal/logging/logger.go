package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tis24dev/cpanelsave/internal/types"
)

const (
	colorReset   = "\033[0m"
	colorCyan    = "\033[36m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorRed     = "\033[31m"
	colorBoldRed = "\033[1;31m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
)

const (
	redactedMark    = "********"
	minSecretLength = 4
)

// Logger handles application logging.
type Logger struct {
	mu           sync.Mutex
	level        types.LogLevel
	useColor     bool
	output       io.Writer
	timeFormat   string
	logFile      *os.File // Log file (optional)
	warningCount int64
	errorCount   int64
	midLine      bool // a Progress fragment is pending a newline on output
	secrets      []string
}

// New creates a new logger.
func New(level types.LogLevel, useColor bool) *Logger {
	return &Logger{
		level:      level,
		useColor:   useColor,
		output:     os.Stdout,
		timeFormat: "2006-01-02 15:04:05",
	}
}

// SetOutput sets the logger output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		l.output = os.Stdout
		return
	}
	l.output = w
}

// SetLevel sets the logging level.
func (l *Logger) SetLevel(level types.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() types.LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// UsesColor returns whether color output is enabled.
func (l *Logger) UsesColor() bool {
	return l.useColor
}

// OpenLogFile opens a log file and starts real-time writing.
func (l *Logger) OpenLogFile(logPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
	}

	// O_SYNC keeps the file current if the process is killed mid-transfer.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	l.logFile = file
	return nil
}

// CloseLogFile closes the log file.
func (l *Logger) CloseLogFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}

	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// Redact masks every later occurrence of values, on the console and in the
// log file. Values shorter than four characters are ignored.
func (l *Logger) Redact(values ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range values {
		if len(v) < minSecretLength {
			continue
		}
		l.secrets = append(l.secrets, v)
	}
}

func (l *Logger) mask(message string) string {
	for _, secret := range l.secrets {
		message = strings.ReplaceAll(message, secret, redactedMark)
	}
	return message
}

// GetLogFilePath returns the path of the currently open log file (or "" if none).
func (l *Logger) GetLogFilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return ""
	}
	return l.logFile.Name()
}

func (l *Logger) colorFor(level types.LogLevel) string {
	switch level {
	case types.LogLevelDebug:
		return colorCyan
	case types.LogLevelInfo:
		return colorGreen
	case types.LogLevelWarning:
		return colorYellow
	case types.LogLevelError:
		return colorRed
	case types.LogLevelCritical:
		return colorBoldRed
	default:
		return ""
	}
}

func (l *Logger) write(level types.LogLevel, label, colorOverride, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}

	switch level {
	case types.LogLevelWarning:
		l.warningCount++
	case types.LogLevelError, types.LogLevelCritical:
		l.errorCount++
	}

	timestamp := time.Now().Format(l.timeFormat)
	if label == "" {
		label = level.String()
	}
	message := l.mask(fmt.Sprintf(format, args...))

	colorCode, resetCode := "", ""
	if l.useColor {
		colorCode = colorOverride
		if colorCode == "" {
			colorCode = l.colorFor(level)
		}
		resetCode = colorReset
	}

	if l.midLine {
		fmt.Fprintln(l.output)
		l.midLine = false
	}
	fmt.Fprintf(l.output, "[%s] %s%-8s%s %s\n", timestamp, colorCode, label, resetCode, message)

	if l.logFile != nil {
		fmt.Fprintf(l.logFile, "[%s] %-8s %s\n", timestamp, label, message)
	}
}

// Progress writes a raw console fragment without timestamp or newline,
// used for "0% 10% 20% ..." style indicators. Nothing is written to the
// log file; callers log the final outcome with a regular entry.
func (l *Logger) Progress(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level < types.LogLevelInfo {
		return
	}
	fmt.Fprintf(l.output, format, args...)
	l.midLine = true
}

// HasWarnings returns true if at least one warning was logged.
func (l *Logger) HasWarnings() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warningCount > 0
}

// HasErrors returns true if at least one error or critical message was logged.
func (l *Logger) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorCount > 0
}

// Counts returns the number of warnings and errors logged so far.
func (l *Logger) Counts() (warnings, errors int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warningCount, l.errorCount
}

// Debug writes a debug log.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(types.LogLevelDebug, "", "", format, args...)
}

// Info writes an informational log
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "", "", format, args...)
}

// Phase writes an informational log with PHASE label
func (l *Logger) Phase(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "PHASE", colorBlue, format, args...)
}

// Step writes an informational log with STEP label (to highlight sequential activities)
func (l *Logger) Step(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "STEP", colorBlue, format, args...)
}

// Skip writes an informational log with SKIP label (for disabled/ignored elements)
func (l *Logger) Skip(format string, args ...interface{}) {
	l.write(types.LogLevelInfo, "SKIP", colorMagenta, format, args...)
}

// Warning writes a warning log.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.write(types.LogLevelWarning, "", "", format, args...)
}

// Error writes an error log.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(types.LogLevelError, "", "", format, args...)
}

// Critical writes a critical log.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.write(types.LogLevelCritical, "", "", format, args...)
}

// Package-level default logger
var defaultLogger = New(types.LogLevelInfo, true)

// SetDefaultLogger sets the default logger.
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the default logger.
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// Info writes an informational log using the default logger
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Warning writes a warning log using the default logger.
func Warning(format string, args ...interface{}) {
	defaultLogger.Warning(format, args...)
}

// Error writes an error log using the default logger.
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}
