package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tis24dev/cpanelsave/internal/config"
	"github.com/tis24dev/cpanelsave/internal/logging"
)

// WebhookNotifier posts a JSON summary of the run to a single endpoint.
type WebhookNotifier struct {
	config *config.WebhookConfig
	logger *logging.Logger
	client *http.Client
	sleep  func(time.Duration)
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(webhookConfig *config.WebhookConfig, logger *logging.Logger) (*WebhookNotifier, error) {
	if webhookConfig == nil {
		webhookConfig = &config.WebhookConfig{}
	}
	logger.Debug("Webhook configuration: enabled=%v, url=%s, timeout=%ds, max_retries=%d",
		webhookConfig.Enabled, maskURL(webhookConfig.URL), webhookConfig.Timeout, webhookConfig.MaxRetries)

	if webhookConfig.Enabled {
		parsed, err := url.Parse(webhookConfig.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook URL: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("invalid webhook URL scheme %q", parsed.Scheme)
		}
	}

	timeout := webhookConfig.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	return &WebhookNotifier{
		config: webhookConfig,
		logger: logger,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		sleep:  time.Sleep,
	}, nil
}

// Name returns the notifier name
func (w *WebhookNotifier) Name() string {
	return "Webhook"
}

// IsEnabled returns whether webhook notifications are enabled
func (w *WebhookNotifier) IsEnabled() bool {
	return w.config.Enabled && w.config.URL != ""
}

// Send delivers the payload, retrying on transport errors, 429 and 5xx.
func (w *WebhookNotifier) Send(ctx context.Context, data *NotificationData) (*NotificationResult, error) {
	start := time.Now()
	result := &NotificationResult{Method: "webhook"}
	if !w.IsEnabled() {
		result.Error = fmt.Errorf("webhook notifications not enabled")
		return result, nil
	}

	payload, err := json.Marshal(BuildPayload(data))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	w.logger.Debug("Webhook payload marshaled: %d bytes", len(payload))

	maxRetries := w.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := time.Duration(w.config.RetryDelay) * time.Second
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			w.logger.Debug("Retry attempt %d/%d after %s delay...", attempt, maxRetries, retryDelay)
			w.sleep(retryDelay)
		}

		retry, err := w.post(ctx, payload, data.ToolVersion)
		if err == nil {
			result.Success = true
			result.Duration = time.Since(start)
			w.logger.Info("Webhook sent successfully to %s", maskURL(w.config.URL))
			return result, nil
		}
		lastErr = err
		if !retry {
			break
		}
		w.logger.Warning("Webhook attempt %d/%d failed: %v", attempt+1, maxRetries+1, err)
	}

	result.Error = lastErr
	result.Duration = time.Since(start)
	return result, nil
}

// post performs one request; the bool reports whether a retry makes sense.
func (w *WebhookNotifier) post(ctx context.Context, payload []byte, version string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("cpanelsave/%s", version))
	if token := strings.TrimSpace(w.config.AuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("request failed: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	w.logger.Debug("Webhook received HTTP %d (%d bytes)", resp.StatusCode, len(body))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("rate limit exceeded (HTTP 429)")
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server error (HTTP %d): %s", resp.StatusCode, string(body))
	default:
		return false, fmt.Errorf("unexpected status (HTTP %d): %s", resp.StatusCode, string(body))
	}
}

// BuildPayload renders the generic JSON document sent to webhooks.
func BuildPayload(data *NotificationData) map[string]interface{} {
	return map[string]interface{}{
		"status":         data.Status.String(),
		"status_message": data.StatusMessage,
		"exit_code":      data.ExitCode,
		"failed_phase":   data.FailedPhase,
		"run_id":         data.RunID,
		"host":           data.Host,
		"user":           data.User,
		"hostname":       data.Hostname,
		"tool_version":   data.ToolVersion,
		"timestamp":      data.BackupDate.Unix(),
		"timestamp_iso":  data.BackupDate.Format(time.RFC3339),
		"backup": map[string]interface{}{
			"remote_file":      data.RemoteFile,
			"local_file":       data.BackupFile,
			"size_bytes":       data.BackupSize,
			"size_human":       data.BackupSizeHR,
			"sha256":           data.Checksum,
			"encrypted":        data.Encrypted,
			"verified":         data.Verified,
			"remote_deleted":   data.RemoteDeleted,
			"cloud_uploaded":   data.CloudUploaded,
			"duration_seconds": data.BackupDuration.Seconds(),
			"duration_human":   FormatDuration(data.BackupDuration),
		},
		"issues": map[string]interface{}{
			"errors":   data.ErrorCount,
			"warnings": data.WarningCount,
		},
	}
}

// maskURL masks sensitive parts of URL for logging
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "***INVALID_URL***"
	}

	var b strings.Builder
	b.WriteString(parsed.Scheme)
	b.WriteString("://")
	b.WriteString(parsed.Host)
	if parsed.Path != "" {
		b.WriteString("/***MASKED***")
	}
	if parsed.RawQuery != "" {
		b.WriteString("?***MASKED***")
	}
	return b.String()
}
