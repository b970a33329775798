package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/cpanelsave/internal/cli"
	"github.com/tis24dev/cpanelsave/internal/types"
)

const (
	DefaultHTTPPort       = 2082
	DefaultHTTPSPort      = 2083
	DefaultFTPPort        = 21
	DefaultSkin           = "paper_lantern"
	DefaultBackupTimeout  = 300 * time.Second
	DefaultPollInterval   = 15 * time.Second
	DefaultFTPTimeout     = 30 * time.Second
	DefaultMinBackupBytes = 5000
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the settings of one backup run.
type Config struct {
	ConfigPath string

	// cPanel / FTP endpoint
	Host        string
	User        string
	Password    string
	HTTPS       bool
	CPanelPort  int
	CPanelSkin  string
	FTPPort     int
	DisableEPSV bool
	FTPTLS      bool
	FTPTimeout  time.Duration

	// Polling and transfer
	BackupDir      string
	RemoteDir      string
	BackupTimeout  time.Duration
	PollInterval   time.Duration
	MinBackupBytes int64
	VerifyBackup   bool
	DeleteRemote   bool
	BandwidthLimit int64 // bytes per second, 0 = unlimited

	// Logging
	DebugLevel types.LogLevel
	UseColor   bool
	LogPath    string
	LogKeep    int // session logs kept per host, 0 = all

	// Encryption
	EncryptArchive   bool
	AgeRecipients    []string
	AgeRecipientFile string
	AgePassphrase    string

	// Cloud mirror
	CloudEnabled   bool
	CloudBucketURL string
	CloudPrefix    string

	MaxLocalBackups int

	MetricsEnabled bool
	MetricsPath    string

	WebhookEnabled    bool
	WebhookURL        string
	WebhookTimeout    int
	WebhookAuthToken  string
	WebhookMaxRetries int
	WebhookRetryDelay int

	// raw configuration map
	raw map[string]string
}

var envKeys = []string{
	"CPANEL_HOST", "CPANEL_USER", "CPANEL_PASSWORD", "CPANEL_HTTPS", "CPANEL_PORT", "CPANEL_SKIN",
	"FTP_PORT", "FTP_DISABLE_EPSV", "FTP_TLS", "FTP_TIMEOUT",
	"BACKUP_DIR", "REMOTE_DIR", "BACKUP_TIMEOUT", "POLL_INTERVAL", "MIN_BACKUP_BYTES",
	"VERIFY_BACKUP", "DELETE_REMOTE", "DOWNLOAD_BANDWIDTH_LIMIT",
	"DEBUG_LEVEL", "USE_COLOR", "LOG_PATH", "LOG_KEEP",
	"ENCRYPT_ARCHIVE", "AGE_RECIPIENT", "AGE_RECIPIENT_FILE", "AGE_PASSPHRASE",
	"CLOUD_ENABLED", "CLOUD_BUCKET_URL", "CLOUD_PREFIX",
	"MAX_LOCAL_BACKUPS", "METRICS_ENABLED", "METRICS_PATH",
	"WEBHOOK_ENABLED", "WEBHOOK_URL", "WEBHOOK_TIMEOUT", "WEBHOOK_AUTH_TOKEN",
	"WEBHOOK_MAX_RETRIES", "WEBHOOK_RETRY_DELAY",
}

// LoadConfig reads the optional env file at configPath, applies environment
// overrides and parses the result. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	raw := make(map[string]string)
	if configPath != "" {
		values, err := parseEnvFile(configPath)
		switch {
		case err == nil:
			raw = values
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	cfg := &Config{
		ConfigPath: configPath,
		raw:        raw,
	}
	cfg.loadEnvOverrides()
	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	return cfg, nil
}

// loadEnvOverrides lets process environment variables win over the file.
func (c *Config) loadEnvOverrides() {
	for _, key := range envKeys {
		if envValue, ok := os.LookupEnv(key); ok && envValue != "" {
			c.raw[key] = envValue
		}
	}
}

func (c *Config) parse() error {
	c.Host = c.getString("CPANEL_HOST", "")
	c.User = c.getString("CPANEL_USER", "")
	c.Password = c.getString("CPANEL_PASSWORD", "")
	c.HTTPS = c.getBool("CPANEL_HTTPS", false)
	c.CPanelPort = c.getInt("CPANEL_PORT", 0)
	c.CPanelSkin = c.getString("CPANEL_SKIN", DefaultSkin)
	c.FTPPort = c.ensurePositiveInt("FTP_PORT", DefaultFTPPort)
	c.DisableEPSV = c.getBool("FTP_DISABLE_EPSV", false)
	c.FTPTLS = c.getBool("FTP_TLS", false)

	var err error
	if c.FTPTimeout, err = c.getDuration("FTP_TIMEOUT", DefaultFTPTimeout); err != nil {
		return err
	}

	c.BackupDir = c.getPath("BACKUP_DIR", ".")
	c.RemoteDir = c.getString("REMOTE_DIR", "/")
	if c.BackupTimeout, err = c.getDuration("BACKUP_TIMEOUT", DefaultBackupTimeout); err != nil {
		return err
	}
	if c.PollInterval, err = c.getDuration("POLL_INTERVAL", DefaultPollInterval); err != nil {
		return err
	}
	c.MinBackupBytes = int64(c.getInt("MIN_BACKUP_BYTES", DefaultMinBackupBytes))
	c.VerifyBackup = c.getBool("VERIFY_BACKUP", true)
	c.DeleteRemote = c.getBool("DELETE_REMOTE", true)

	if limit := c.getString("DOWNLOAD_BANDWIDTH_LIMIT", ""); limit != "" {
		bytes, err := parseSizeToBytes(limit)
		if err != nil {
			return fmt.Errorf("DOWNLOAD_BANDWIDTH_LIMIT: %w", err)
		}
		c.BandwidthLimit = bytes
	}

	c.DebugLevel = c.getLogLevel("DEBUG_LEVEL", types.LogLevelInfo)
	c.UseColor = c.getBool("USE_COLOR", true)
	c.LogPath = c.getPath("LOG_PATH", "")
	c.LogKeep = c.getInt("LOG_KEEP", 10)
	if c.LogKeep < 0 {
		c.LogKeep = 0
	}

	c.EncryptArchive = c.getBool("ENCRYPT_ARCHIVE", false)
	c.AgeRecipients = c.getStringSlice("AGE_RECIPIENT")
	c.AgeRecipientFile = c.getPath("AGE_RECIPIENT_FILE", "")
	c.AgePassphrase = c.getString("AGE_PASSPHRASE", "")

	c.CloudEnabled = c.getBool("CLOUD_ENABLED", false)
	c.CloudBucketURL = c.getString("CLOUD_BUCKET_URL", "")
	c.CloudPrefix = strings.Trim(c.getString("CLOUD_PREFIX", ""), "/")

	c.MaxLocalBackups = c.getInt("MAX_LOCAL_BACKUPS", 0)

	c.MetricsEnabled = c.getBool("METRICS_ENABLED", false)
	c.MetricsPath = c.getPath("METRICS_PATH", "/var/lib/prometheus/node-exporter")

	c.WebhookEnabled = c.getBool("WEBHOOK_ENABLED", false)
	c.WebhookURL = c.getString("WEBHOOK_URL", "")
	c.WebhookTimeout = c.ensurePositiveInt("WEBHOOK_TIMEOUT", 30)
	c.WebhookAuthToken = c.getString("WEBHOOK_AUTH_TOKEN", "")
	c.WebhookMaxRetries = c.getInt("WEBHOOK_MAX_RETRIES", 2)
	c.WebhookRetryDelay = c.ensurePositiveInt("WEBHOOK_RETRY_DELAY", 2)
	return nil
}

// ApplyArgs overlays the flags that were given explicitly on the command
// line. Positional host and outdir always win when present.
func (c *Config) ApplyArgs(args *cli.Args) {
	if args == nil {
		return
	}
	if args.Host != "" {
		c.Host = args.Host
	}
	if args.OutDir != "" {
		c.BackupDir = args.OutDir
	}
	if args.IsSet("user") {
		c.User = args.User
	}
	if args.IsSet("password") {
		c.Password = args.Password
	}
	if args.IsSet("https") {
		c.HTTPS = args.HTTPS
	}
	if args.IsSet("backuptimeout") {
		c.BackupTimeout = time.Duration(args.BackupTimeout) * time.Second
	}
	if args.IsSet("pollinterval") {
		c.PollInterval = time.Duration(args.PollInterval) * time.Second
	}
	if args.IsSet("cpanelskin") {
		c.CPanelSkin = args.CPanelSkin
	}
	if args.IsSet("cpanelport") {
		c.CPanelPort = args.CPanelPort
	}
	if args.IsSet("ftpport") {
		c.FTPPort = args.FTPPort
	}
	if args.NoVerify {
		c.VerifyBackup = false
	}
	if args.NoDelete {
		c.DeleteRemote = false
	}
	if args.IsSet("log-level") {
		c.DebugLevel = args.LogLevel
	}
}

// EffectiveCPanelPort returns the configured port or the scheme default.
func (c *Config) EffectiveCPanelPort() int {
	if c.CPanelPort > 0 {
		return c.CPanelPort
	}
	if c.HTTPS {
		return DefaultHTTPSPort
	}
	return DefaultHTTPPort
}

// Validate reports the first setting that makes a run impossible.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Host) == "":
		return fmt.Errorf("%w: host is required", ErrInvalid)
	case c.User == "":
		return fmt.Errorf("%w: user is required", ErrInvalid)
	case c.Password == "":
		return fmt.Errorf("%w: password is required", ErrInvalid)
	case c.BackupTimeout <= 0:
		return fmt.Errorf("%w: backup timeout must be positive", ErrInvalid)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalid)
	case c.CPanelPort < 0 || c.CPanelPort > 65535:
		return fmt.Errorf("%w: cPanel port %d out of range", ErrInvalid, c.CPanelPort)
	case c.FTPPort <= 0 || c.FTPPort > 65535:
		return fmt.Errorf("%w: FTP port %d out of range", ErrInvalid, c.FTPPort)
	case c.MinBackupBytes < 0:
		return fmt.Errorf("%w: MIN_BACKUP_BYTES must not be negative", ErrInvalid)
	case c.CloudEnabled && c.CloudBucketURL == "":
		return fmt.Errorf("%w: CLOUD_BUCKET_URL is required when CLOUD_ENABLED", ErrInvalid)
	case c.EncryptArchive && len(c.AgeRecipients) == 0 && c.AgeRecipientFile == "" && c.AgePassphrase == "":
		return fmt.Errorf("%w: ENCRYPT_ARCHIVE needs AGE_RECIPIENT, AGE_RECIPIENT_FILE or AGE_PASSPHRASE", ErrInvalid)
	case c.WebhookEnabled && c.WebhookURL == "":
		return fmt.Errorf("%w: WEBHOOK_URL is required when WEBHOOK_ENABLED", ErrInvalid)
	}
	return nil
}

// WebhookConfig holds configuration for webhook notifications
type WebhookConfig struct {
	Enabled    bool
	URL        string
	Timeout    int // seconds
	AuthToken  string
	MaxRetries int
	RetryDelay int // seconds
}

// BuildWebhookConfig extracts the webhook settings.
func (c *Config) BuildWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		Enabled:    c.WebhookEnabled,
		URL:        c.WebhookURL,
		Timeout:    c.WebhookTimeout,
		AuthToken:  c.WebhookAuthToken,
		MaxRetries: c.WebhookMaxRetries,
		RetryDelay: c.WebhookRetryDelay,
	}
}

func (c *Config) getString(key, defaultValue string) string {
	if val, ok := c.raw[key]; ok {
		return val
	}
	return defaultValue
}

// getPath is getString with $VAR expansion; credentials never go through it.
func (c *Config) getPath(key, defaultValue string) string {
	return os.ExpandEnv(c.getString(key, defaultValue))
}

func (c *Config) getBool(key string, defaultValue bool) bool {
	if val, ok := c.raw[key]; ok && strings.TrimSpace(val) != "" {
		return parseBool(val)
	}
	return defaultValue
}

func (c *Config) getInt(key string, defaultValue int) int {
	if val, ok := c.raw[key]; ok {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func (c *Config) ensurePositiveInt(key string, defaultValue int) int {
	value := c.getInt(key, defaultValue)
	if value <= 0 {
		return defaultValue
	}
	return value
}

// getDuration accepts plain seconds ("300") or a Go duration ("5m").
func (c *Config) getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val, ok := c.raw[key]
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, val)
	}
	return d, nil
}

func (c *Config) getLogLevel(key string, defaultValue types.LogLevel) types.LogLevel {
	if val, ok := c.raw[key]; ok && strings.TrimSpace(val) != "" {
		return types.ParseLogLevel(val)
	}
	return defaultValue
}

// getStringSlice splits on commas, whitespace and newlines.
func (c *Config) getStringSlice(key string) []string {
	val, ok := c.raw[key]
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(val, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\t' || r == ' '
	}) {
		if part = strings.Trim(strings.TrimSpace(part), `"'`); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseSizeToBytes understands "512", "64K", "10MB", "1.5G".
func parseSizeToBytes(value string) (int64, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return 0, nil
	}
	value = strings.TrimSuffix(strings.TrimSuffix(value, "IB"), "B")
	if value == "" {
		return 0, fmt.Errorf("missing numeric value")
	}

	multiplier := float64(1)
	switch value[len(value)-1:] {
	case "K":
		multiplier = 1 << 10
	case "M":
		multiplier = 1 << 20
	case "G":
		multiplier = 1 << 30
	case "T":
		multiplier = 1 << 40
	}
	if multiplier > 1 {
		value = strings.TrimSpace(value[:len(value)-1])
	}
	if value == "" {
		return 0, fmt.Errorf("missing numeric value")
	}

	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if num < 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	return int64(num * multiplier), nil
}
