// Package cpanel talks to the cPanel web frontend to start a full backup job.
package cpanel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/cpanelsave/internal/logging"
)

const (
	DefaultHTTPPort  = 2082
	DefaultHTTPSPort = 2083
	DefaultSkin      = "paper_lantern"
	defaultTimeout   = 60 * time.Second
)

// ErrTrigger is returned when the backup job could not be started.
var ErrTrigger = errors.New("cpanel backup trigger failed")

// DefaultPort returns the frontend port for the given scheme.
func DefaultPort(https bool) int {
	if https {
		return DefaultHTTPSPort
	}
	return DefaultHTTPPort
}

// Options configures the frontend client.
type Options struct {
	Host     string
	Port     int
	HTTPS    bool
	Skin     string
	User     string
	Password string
	Timeout  time.Duration
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Client issues the one-shot backup request.
type Client struct {
	opts   Options
	client *http.Client
	logger *logging.Logger
}

// NewClient fills defaults and returns a client.
func NewClient(opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	if opts.Port <= 0 {
		opts.Port = DefaultPort(opts.HTTPS)
	}
	if strings.TrimSpace(opts.Skin) == "" {
		opts.Skin = DefaultSkin
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	// A redirect (usually to the backup status page) already means the
	// job was accepted; do not follow it.
	checked := *client
	checked.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{opts: opts, client: &checked, logger: logger}
}

// Endpoint returns the URL of the full backup form handler.
func (c *Client) Endpoint() string {
	scheme := "http"
	if c.opts.HTTPS {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port)),
		Path:   fmt.Sprintf("/frontend/%s/backup/dofullbackup.html", c.opts.Skin),
	}
	return u.String()
}

// TriggerFullBackup asks the server to write a full backup into the home
// directory. It is sent exactly once; only the HTTP status is interpreted.
func (c *Client) TriggerFullBackup(ctx context.Context) error {
	form := url.Values{}
	form.Set("dest", "homedir")
	form.Set("email_radio", "0")
	form.Set("server", "")
	form.Set("port", "")
	form.Set("rdir", "")
	form.Set("user", c.opts.User)
	form.Set("pass", c.opts.Password)

	endpoint := c.Endpoint()
	c.logger.Debug("Creating HTTP POST request to %s", endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrTrigger, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.opts.User, c.opts.Password)

	tr := logging.Trace(c.logger, "HTTP", "POST", endpoint)
	resp, err := c.client.Do(req)
	if err != nil {
		tr.End(err)
		return fmt.Errorf("%w: %v", ErrTrigger, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	c.logger.Debug("Received HTTP %d from %s", resp.StatusCode, endpoint)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		tr.End(nil)
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		err = fmt.Errorf("%w: credentials rejected (HTTP %d)", ErrTrigger, resp.StatusCode)
	default:
		err = fmt.Errorf("%w: unexpected status (HTTP %d)", ErrTrigger, resp.StatusCode)
	}
	tr.End(err)
	return err
}
