package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tis24dev/cpanelsave/internal/types"
)

const sessionTimeLayout = "20060102-150405"

// SessionOptions describes the per-run log file.
type SessionOptions struct {
	Dir      string
	Host     string
	Level    types.LogLevel
	UseColor bool

	// Keep is how many session logs of the same host survive, the new one
	// included. Zero keeps everything.
	Keep int

	// Now overrides the clock used for the file name (nil = time.Now).
	Now func() time.Time
}

// StartSessionLogger creates a logger mirrored into
// <Dir>/cpanelsave-<host>-<timestamp>.log and prunes older logs of the
// same host beyond Keep. It returns the logger, the log path and a cleanup
// function closing the file.
func StartSessionLogger(opts SessionOptions) (*Logger, string, func(), error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, "", nil, fmt.Errorf("session log directory is empty")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, "", nil, fmt.Errorf("create session log directory: %w", err)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	prefix := sessionPrefix(opts.Host)
	logPath := filepath.Join(opts.Dir, prefix+now().Format(sessionTimeLayout)+".log")

	logger := New(opts.Level, opts.UseColor)
	if err := logger.OpenLogFile(logPath); err != nil {
		return nil, "", nil, err
	}

	if opts.Keep > 0 {
		removed, err := pruneSessionLogs(opts.Dir, prefix, opts.Keep)
		if err != nil {
			logger.Warning("Session log cleanup in %s failed: %v", opts.Dir, err)
		} else if removed > 0 {
			logger.Debug("Removed %d old session log(s) from %s", removed, opts.Dir)
		}
	}

	cleanup := func() {
		_ = logger.CloseLogFile()
	}
	return logger, logPath, cleanup, nil
}

func sessionPrefix(host string) string {
	return "cpanelsave-" + sanitizeName(host) + "-"
}

// pruneSessionLogs deletes the oldest "<prefix><timestamp>.log" files so
// that at most keep remain. Timestamps sort lexically.
func pruneSessionLogs(dir, prefix string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var logs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".log")
		if _, perr := time.Parse(sessionTimeLayout, stamp); perr != nil {
			continue
		}
		logs = append(logs, name)
	}
	if len(logs) <= keep {
		return 0, nil
	}
	sort.Strings(logs)

	removed := 0
	for _, name := range logs[:len(logs)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, name)
	sanitized = strings.Trim(sanitized, "-")
	for strings.Contains(sanitized, "--") {
		sanitized = strings.ReplaceAll(sanitized, "--", "-")
	}
	if sanitized == "" {
		sanitized = "host"
	}
	return sanitized
}
