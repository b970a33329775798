// Package ftp is the transport gateway of cpanelsave: a stateful FTP session
// that lists, inspects, downloads and deletes backup archives and recovers
// from server-initiated disconnects.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/stream"
)

// SessionState tracks how far the control connection has progressed.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Options configures the gateway.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string

	// Passive must be true: only client-initiated data connections are
	// supported.
	Passive     bool
	DisableEPSV bool
	TLS         bool
	Timeout     time.Duration

	// BandwidthLimit throttles downloads in bytes per second (0 = unlimited).
	BandwidthLimit int64

	// Dial overrides the connection factory (nil = DialServer).
	Dial Dialer
}

// Gateway owns one FTP session. It is not safe for concurrent use: a single
// goroutine drives every exchange.
type Gateway struct {
	opts   Options
	dial   Dialer
	conn   Conn
	state  SessionState
	logger *logging.Logger
}

// NewGateway creates a disconnected gateway.
func NewGateway(opts Options, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	dial := opts.Dial
	if dial == nil {
		dial = DialServer
	}
	return &Gateway{
		opts:   opts,
		dial:   dial,
		state:  StateDisconnected,
		logger: logger,
	}
}

// State returns the current session state.
func (g *Gateway) State() SessionState {
	return g.state
}

// Connect opens the control connection. It is a no-op when already connected.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.state != StateDisconnected {
		return nil
	}
	if !g.opts.Passive {
		return g.fail("connect", ErrConnection, errors.New("active mode is not supported, enable passive mode"))
	}

	addr := net.JoinHostPort(g.opts.Host, strconv.Itoa(g.opts.Port))
	tr := logging.Trace(g.logger, "FTP", "DIAL", fmt.Sprintf("%s tls=%v", addr, g.opts.TLS))
	conn, err := g.dial(ctx, addr, g.opts)
	tr.End(err)
	if err != nil {
		return g.fail("connect", ErrConnection, err)
	}

	g.conn = conn
	g.state = StateConnected
	g.logger.Debug("FTP control connection established with %s", addr)
	return nil
}

// Login authenticates the session, connecting first when needed. It is a
// no-op when already authenticated.
func (g *Gateway) Login(ctx context.Context) error {
	if g.state == StateAuthenticated {
		return nil
	}
	if err := g.Connect(ctx); err != nil {
		return err
	}

	tr := logging.Trace(g.logger, "FTP", "USER/PASS", g.opts.User)
	err := g.conn.Login(g.opts.User, g.opts.Password)
	tr.End(err)
	if err != nil {
		return g.fail("login", ErrAuthentication, err)
	}

	g.state = StateAuthenticated
	g.logger.Debug("FTP session authenticated as %s", g.opts.User)
	return nil
}

// List returns the entries of dir.
func (g *Gateway) List(ctx context.Context, dir string) ([]RemoteFile, error) {
	if err := g.requireLogin("list"); err != nil {
		return nil, err
	}

	tr := logging.Trace(g.logger, "FTP", "LIST", dir)
	files, err := g.conn.List(dir)
	tr.End(err)
	if err != nil {
		return nil, g.fail("list "+dir, ErrListing, err)
	}
	return files, nil
}

// Stat returns the metadata of a single remote file.
func (g *Gateway) Stat(ctx context.Context, path string) (RemoteFile, error) {
	if err := g.requireLogin("stat"); err != nil {
		return RemoteFile{}, err
	}

	tr := logging.Trace(g.logger, "FTP", "MLST", path)
	file, err := g.conn.Stat(path)
	tr.End(err)
	if err != nil {
		return RemoteFile{}, g.fail("stat "+path, ErrListing, err)
	}
	return file, nil
}

// Download streams path into sink through the stream pipeline. The sink is
// always closed before Download returns. expectedTotal only drives the
// percentages passed to progress.
func (g *Gateway) Download(ctx context.Context, path string, sink io.WriteCloser, expectedTotal int64, progress stream.ProgressFunc) (stream.Result, error) {
	if err := g.requireLogin("download"); err != nil {
		_ = sink.Close()
		return stream.Result{}, err
	}

	tr := logging.Trace(g.logger, "FTP", "TYPE", "I")
	err := g.conn.Binary()
	tr.End(err)
	if err != nil {
		_ = sink.Close()
		return stream.Result{}, g.fail("set binary mode", ErrTransferSetup, err)
	}

	tr = logging.Trace(g.logger, "FTP", "RETR", path)
	body, err := g.conn.Retr(path)
	if err != nil {
		tr.End(err)
		_ = sink.Close()
		return stream.Result{}, g.fail("download "+path, ErrTransfer, err)
	}

	drain := stream.Start(ctx, sink, expectedTotal, progress)
	_, copyErr := io.Copy(drain, stream.LimitReader(ctx, body, g.opts.BandwidthLimit))
	replyErr := body.Close()
	result, drainErr := drain.Wait()

	switch {
	case drainErr != nil:
		err = drainErr
	case copyErr != nil:
		err = copyErr
	case replyErr != nil:
		err = replyErr
	}
	tr.EndBytes(result.Bytes, err)
	received := describeReceived(drain.Progress())
	if err != nil {
		g.logger.Warning("Transfer of %s stopped after %s", path, received)
		return result, g.fail("download "+path, ErrTransfer, err)
	}
	g.logger.Debug("Received %s for %s", received, path)
	return result, nil
}

// describeReceived renders the wire-side counters, e.g.
// "700 of 1000 bytes (70%)" or "700 bytes" when the total is unknown.
func describeReceived(p *stream.TransferProgress) string {
	pct := p.Percent()
	if pct < 0 {
		return fmt.Sprintf("%d bytes", p.BytesTransferred())
	}
	return fmt.Sprintf("%d of %d bytes (%d%%)", p.BytesTransferred(), p.TotalBytes(), pct)
}

// Delete removes path. When the server reports the connection closed, the
// session is re-established and the deletion retried exactly once.
func (g *Gateway) Delete(ctx context.Context, path string) error {
	if err := g.requireLogin("delete"); err != nil {
		return err
	}

	err := g.delete(path)
	if err == nil {
		return nil
	}
	if connectionLost(err) {
		g.logger.Warning("FTP server closed the connection during delete (%v); logging in again", err)
		g.dropConnection()
		if lerr := g.Login(ctx); lerr != nil {
			return &OperationError{Op: "delete " + path, Kind: ErrDeletion, Code: ReplyCode(lerr), Err: lerr}
		}
		err = g.delete(path)
		if err == nil {
			return nil
		}
	}
	return g.fail("delete "+path, ErrDeletion, err)
}

func (g *Gateway) delete(path string) error {
	tr := logging.Trace(g.logger, "FTP", "DELE", path)
	err := g.conn.Delete(path)
	tr.End(err)
	return err
}

// Logout ends an authenticated session with QUIT. It is a no-op otherwise.
func (g *Gateway) Logout(ctx context.Context) error {
	if g.state != StateAuthenticated {
		return nil
	}
	tr := logging.Trace(g.logger, "FTP", "QUIT", "")
	err := g.conn.Quit()
	tr.End(err)
	g.conn = nil
	g.state = StateDisconnected
	if err != nil && !connectionLost(err) {
		return &OperationError{Op: "logout", Kind: ErrConnection, Code: ReplyCode(err), Err: err}
	}
	return nil
}

// Close releases any open control connection without reporting errors.
func (g *Gateway) Close() {
	if g.conn != nil {
		_ = g.conn.Quit()
	}
	g.conn = nil
	g.state = StateDisconnected
}

func (g *Gateway) requireLogin(op string) error {
	if g.state == StateAuthenticated {
		return nil
	}
	return g.fail(op, ErrNotLoggedIn, fmt.Errorf("session is %s", g.state))
}

// fail logs the failed operation and builds its error. A lost connection
// drops the session so the next operation starts with a fresh login.
func (g *Gateway) fail(op string, kind, err error) error {
	opErr := &OperationError{Op: op, Kind: kind, Code: ReplyCode(err), Err: err}
	g.logger.Error("%v", opErr)
	if connectionLost(err) {
		g.dropConnection()
	}
	return opErr
}

func (g *Gateway) dropConnection() {
	if g.conn != nil {
		_ = g.conn.Quit()
		g.conn = nil
	}
	g.state = StateDisconnected
}
