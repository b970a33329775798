package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tis24dev/cpanelsave/internal/logging"
)

// TextfileName is the file node_exporter's textfile collector picks up.
const TextfileName = "cpanelsave.prom"

// BackupMetrics is the snapshot of one run exported for node_exporter.
type BackupMetrics struct {
	Host          string
	RemoteFile    string
	ToolVersion   string
	FailedPhase   string
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	PhaseDuration map[string]time.Duration

	ExitCode        int
	ErrorCount      int
	WarningCount    int
	RemoteSize      int64
	BytesDownloaded int64
	LocalBackups    int
	CloudUploaded   bool
	RemoteDeleted   bool
}

// PrometheusExporter writes backup metrics in Prometheus textfile format for node_exporter.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

func gauge(reg *prometheus.Registry, name, help string, value float64) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cpanelsave",
		Name:      name,
		Help:      help,
	})
	g.Set(value)
	reg.MustRegister(g)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Registry builds a fresh registry holding m.
func Registry(m *BackupMetrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	endTime := m.EndTime
	if endTime.IsZero() && !m.StartTime.IsZero() {
		endTime = m.StartTime.Add(m.Duration)
	}

	// 0=success, 1=warning, 2=error
	status := 0.0
	if m.ExitCode != 0 {
		status = 2
	} else if m.WarningCount > 0 {
		status = 1
	}

	gauge(reg, "start_time_seconds", "Unix timestamp of backup start", float64(m.StartTime.Unix()))
	gauge(reg, "end_time_seconds", "Unix timestamp of backup end", float64(endTime.Unix()))
	gauge(reg, "duration_seconds", "Duration of last backup in seconds", m.Duration.Seconds())
	gauge(reg, "exit_code", "Exit code of last backup", float64(m.ExitCode))
	gauge(reg, "status", "Status of last backup (0=success,1=warning,2=error)", status)
	gauge(reg, "errors_total", "Total number of errors in last backup", float64(m.ErrorCount))
	gauge(reg, "warnings_total", "Total number of warnings in last backup", float64(m.WarningCount))
	gauge(reg, "remote_size_bytes", "Stable size of the remote backup file", float64(m.RemoteSize))
	gauge(reg, "downloaded_bytes", "Bytes written to local storage during last backup", float64(m.BytesDownloaded))
	gauge(reg, "local_backups", "Archives kept in the output directory", float64(m.LocalBackups))
	gauge(reg, "cloud_uploaded", "Whether the archive was mirrored to the cloud bucket", boolValue(m.CloudUploaded))
	gauge(reg, "remote_deleted", "Whether the remote copy was deleted", boolValue(m.RemoteDeleted))

	phases := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cpanelsave",
		Name:      "phase_duration_seconds",
		Help:      "Duration of each phase of the last backup",
	}, []string{"phase"})
	for phase, d := range m.PhaseDuration {
		phases.WithLabelValues(phase).Set(d.Seconds())
	}
	reg.MustRegister(phases)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cpanelsave",
		Name:      "info",
		Help:      "Static information about the last backup",
	}, []string{"host", "remote_file", "version", "failed_phase"})
	info.WithLabelValues(m.Host, m.RemoteFile, m.ToolVersion, m.FailedPhase).Set(1)
	reg.MustRegister(info)

	return reg
}

// Export writes the given metrics snapshot to cpanelsave.prom in textfileDir.
func (pe *PrometheusExporter) Export(m *BackupMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	finalPath := filepath.Join(pe.textfileDir, TextfileName)
	if err := prometheus.WriteToTextfile(finalPath, Registry(m)); err != nil {
		return fmt.Errorf("write metrics file %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}
	return nil
}
