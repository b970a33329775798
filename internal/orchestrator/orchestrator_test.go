package orchestrator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"gocloud.dev/blob/memblob"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/config"
	"github.com/tis24dev/cpanelsave/internal/cpanel"
	"github.com/tis24dev/cpanelsave/internal/ftp"
	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/metrics"
	"github.com/tis24dev/cpanelsave/internal/notify"
	"github.com/tis24dev/cpanelsave/internal/storage"
	"github.com/tis24dev/cpanelsave/internal/stream"
	"github.com/tis24dev/cpanelsave/internal/types"
)

type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

type fakeGateway struct {
	listings [][]ftp.RemoteFile
	sizes    []int64
	content  []byte

	// listErr is returned from the listErrFrom-th List call on (0-based);
	// statErr from every Stat call.
	listErr     error
	listErrFrom int
	statErr     error
	downloadErr error
	deleteErr   error

	listCalls     int
	statCalls     int
	downloads     []string
	progress      []int
	deleted       []string
	loggedOut     bool
	closed        bool
	expectedTotal int64
}

func (g *fakeGateway) Login(ctx context.Context) error { return nil }

func (g *fakeGateway) List(ctx context.Context, dir string) ([]ftp.RemoteFile, error) {
	i := g.listCalls
	g.listCalls++
	if g.listErr != nil && i >= g.listErrFrom {
		return nil, g.listErr
	}
	if i >= len(g.listings) {
		i = len(g.listings) - 1
	}
	return g.listings[i], nil
}

func (g *fakeGateway) Stat(ctx context.Context, path string) (ftp.RemoteFile, error) {
	i := g.statCalls
	g.statCalls++
	if g.statErr != nil {
		return ftp.RemoteFile{}, g.statErr
	}
	if i >= len(g.sizes) {
		i = len(g.sizes) - 1
	}
	return ftp.RemoteFile{Name: filepath.Base(path), Size: g.sizes[i]}, nil
}

func (g *fakeGateway) Download(ctx context.Context, path string, sink io.WriteCloser, expectedTotal int64, progress stream.ProgressFunc) (stream.Result, error) {
	defer sink.Close()
	g.downloads = append(g.downloads, path)
	g.expectedTotal = expectedTotal
	if g.downloadErr != nil {
		sink.Write(g.content[:len(g.content)/2])
		return stream.Result{Bytes: int64(len(g.content) / 2)}, g.downloadErr
	}
	n, err := sink.Write(g.content)
	if err != nil {
		return stream.Result{Bytes: int64(n)}, err
	}
	for _, p := range []int{50, 100} {
		g.progress = append(g.progress, p)
		progress(p)
	}
	sum := sha256.Sum256(g.content)
	return stream.Result{Bytes: int64(n), SHA256: hex.EncodeToString(sum[:])}, nil
}

func (g *fakeGateway) Delete(ctx context.Context, path string) error {
	g.deleted = append(g.deleted, path)
	return g.deleteErr
}

func (g *fakeGateway) Logout(ctx context.Context) error {
	g.loggedOut = true
	return nil
}

func (g *fakeGateway) Close() { g.closed = true }

type fakeTrigger struct {
	calls int
	err   error
}

func (t *fakeTrigger) TriggerFullBackup(ctx context.Context) error {
	t.calls++
	return t.err
}

type fakeVerifier struct {
	paths []string
	err   error
}

func (v *fakeVerifier) Verify(ctx context.Context, path string) error {
	v.paths = append(v.paths, path)
	return v.err
}

type recordingNotifier struct {
	data *notify.NotificationData
}

func (n *recordingNotifier) Name() string    { return "recorder" }
func (n *recordingNotifier) IsEnabled() bool { return true }
func (n *recordingNotifier) Send(ctx context.Context, data *notify.NotificationData) (*notify.NotificationResult, error) {
	n.data = data
	return &notify.NotificationResult{Success: true, Method: "recorder"}, nil
}

func quietLogger() *logging.Logger {
	l := logging.New(types.LogLevelDebug, false)
	l.SetOutput(io.Discard)
	return l
}

func testConfig() *config.Config {
	return &config.Config{
		Host:           "cp.example.com",
		User:           "alice",
		Password:       "secret",
		RemoteDir:      "/",
		BackupTimeout:  60 * time.Second,
		PollInterval:   15 * time.Second,
		MinBackupBytes: 100,
		VerifyBackup:   true,
		DeleteRemote:   true,
	}
}

func remote(name string, minute int) ftp.RemoteFile {
	return ftp.RemoteFile{Name: name, Size: 10, ModifiedAt: time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)}
}

type harness struct {
	cfg      *config.Config
	gateway  *fakeGateway
	trigger  *fakeTrigger
	verifier *fakeVerifier
	clock    *fakeClock
	dir      string
	deps     Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := quietLogger()
	h := &harness{
		cfg: testConfig(),
		gateway: &fakeGateway{
			listings: [][]ftp.RemoteFile{nil, {remote("backup-20240101.tar.gz", 5)}},
			sizes:    []int64{1000, 5000, 5000},
			content:  []byte(strings.Repeat("x", 5000)),
		},
		trigger:  &fakeTrigger{},
		verifier: &fakeVerifier{},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		dir:      t.TempDir(),
	}
	h.deps = Deps{
		Logger:   logger,
		Config:   h.cfg,
		Gateway:  h.gateway,
		Trigger:  h.trigger,
		Verifier: h.verifier,
		Local:    storage.NewLocalStorage(h.dir, logger),
		Clock:    h.clock,
		Version:  "1.2.3",
	}
	return h
}

func (h *harness) run(t *testing.T) (*RunStats, error) {
	t.Helper()
	o, err := New(h.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o.Run(context.Background())
}

func TestFindYoungest(t *testing.T) {
	tests := []struct {
		name  string
		files []ftp.RemoteFile
		want  string
	}{
		{"empty", nil, ""},
		{"no match", []ftp.RemoteFile{remote("notes.txt", 1), remote("backup-1.zip", 2)}, ""},
		{"newest wins", []ftp.RemoteFile{remote("backup-a.tar.gz", 1), remote("backup-b.tar.gz", 3), remote("backup-c.tar.gz", 2)}, "backup-b.tar.gz"},
		{"tie keeps first", []ftp.RemoteFile{remote("backup-a.tar.gz", 3), remote("backup-b.tar.gz", 3)}, "backup-a.tar.gz"},
		{"directories ignored", []ftp.RemoteFile{{Name: "backup-dir.tar.gz", IsDir: true, ModifiedAt: time.Now()}, remote("backup-x.tar.gz", 1)}, "backup-x.tar.gz"},
		{"non-matching newer ignored", []ftp.RemoteFile{remote("backup-x.tar.gz", 1), remote("public_html", 9)}, "backup-x.tar.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findYoungest(tt.files); got != tt.want {
				t.Fatalf("findYoungest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWaitForNewBackupReturnsFirstDifferentName(t *testing.T) {
	h := newHarness(t)
	h.gateway.listings = [][]ftp.RemoteFile{
		{remote("backup-old.tar.gz", 1)},
		{remote("backup-old.tar.gz", 1)},
		{remote("backup-old.tar.gz", 1), remote("backup-new.tar.gz", 2)},
	}
	o, _ := New(h.deps)

	name, err := o.waitForNewBackup(context.Background(), "backup-old.tar.gz", h.clock.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("waitForNewBackup: %v", err)
	}
	if name != "backup-new.tar.gz" {
		t.Fatalf("name = %q", name)
	}
	if h.gateway.listCalls != 3 || h.clock.sleeps != 2 {
		t.Fatalf("listCalls=%d sleeps=%d, want 3 and 2", h.gateway.listCalls, h.clock.sleeps)
	}
}

func TestWaitForNewBackupTimesOut(t *testing.T) {
	h := newHarness(t)
	h.gateway.listings = [][]ftp.RemoteFile{{remote("backup-old.tar.gz", 1)}}
	o, _ := New(h.deps)

	_, err := o.waitForNewBackup(context.Background(), "backup-old.tar.gz", h.clock.now.Add(time.Minute))
	if !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("err = %v, want ErrBackupNotFound", err)
	}
	// 0s, 15s, 30s, 45s are before the deadline.
	if h.gateway.listCalls != 4 {
		t.Fatalf("listCalls = %d, want 4", h.gateway.listCalls)
	}
}

func TestWaitForNewBackupStopsOnListingError(t *testing.T) {
	h := newHarness(t)
	h.gateway.listErr = &ftp.OperationError{Op: "list /", Kind: ftp.ErrListing, Code: 450, Err: errors.New("450 busy")}
	o, _ := New(h.deps)

	_, err := o.waitForNewBackup(context.Background(), "", h.clock.now.Add(time.Hour))
	if !errors.Is(err, ftp.ErrListing) {
		t.Fatalf("err = %v, want ErrListing", err)
	}
	if h.gateway.listCalls != 1 || h.clock.sleeps != 0 {
		t.Fatalf("listCalls=%d sleeps=%d, want 1 and 0", h.gateway.listCalls, h.clock.sleeps)
	}
}

func TestWaitForStableSizeStopsOnStatError(t *testing.T) {
	h := newHarness(t)
	h.gateway.statErr = &ftp.OperationError{Op: "stat /backup-1.tar.gz", Kind: ftp.ErrListing, Code: 550, Err: errors.New("550 not found")}
	o, _ := New(h.deps)

	_, err := o.waitForStableSize(context.Background(), "/backup-1.tar.gz", h.clock.now.Add(time.Hour))
	if !errors.Is(err, ftp.ErrListing) {
		t.Fatalf("err = %v, want ErrListing", err)
	}
	if h.gateway.statCalls != 1 || h.clock.sleeps != 0 {
		t.Fatalf("statCalls=%d sleeps=%d, want 1 and 0", h.gateway.statCalls, h.clock.sleeps)
	}
}

func TestWaitForStableSize(t *testing.T) {
	h := newHarness(t)
	h.gateway.sizes = []int64{0, 50, 500, 500}
	o, _ := New(h.deps)

	size, err := o.waitForStableSize(context.Background(), "/backup-1.tar.gz", h.clock.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("waitForStableSize: %v", err)
	}
	if size != 500 || h.gateway.statCalls != 4 {
		t.Fatalf("size=%d statCalls=%d, want 500 after 4 readings", size, h.gateway.statCalls)
	}
}

func TestWaitForStableSizeIgnoresTinyFiles(t *testing.T) {
	h := newHarness(t)
	h.gateway.sizes = []int64{0, 0, 0, 40, 40, 200, 200}
	o, _ := New(h.deps)

	size, err := o.waitForStableSize(context.Background(), "/backup-1.tar.gz", h.clock.now.Add(time.Hour))
	if err != nil || size != 200 {
		t.Fatalf("size=%d err=%v, want 200", size, err)
	}
}

func TestWaitForStableSizeTimesOut(t *testing.T) {
	h := newHarness(t)
	h.gateway.sizes = []int64{100, 200, 300, 400, 500, 600}
	o, _ := New(h.deps)

	_, err := o.waitForStableSize(context.Background(), "/backup-1.tar.gz", h.clock.now.Add(time.Minute))
	if !errors.Is(err, ErrSizeUnstable) {
		t.Fatalf("err = %v, want ErrSizeUnstable", err)
	}
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	notifier := &recordingNotifier{}
	h.deps.Notifiers = []notify.Notifier{notifier}

	stats, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if h.trigger.calls != 1 {
		t.Fatalf("trigger calls = %d", h.trigger.calls)
	}
	if len(h.gateway.downloads) != 1 || h.gateway.downloads[0] != "/backup-20240101.tar.gz" {
		t.Fatalf("downloads = %v", h.gateway.downloads)
	}
	if h.gateway.expectedTotal != 5000 || stats.RemoteSize != 5000 || stats.BytesDownloaded != 5000 {
		t.Fatalf("sizes: expected=%d remote=%d downloaded=%d", h.gateway.expectedTotal, stats.RemoteSize, stats.BytesDownloaded)
	}

	localPath := filepath.Join(h.dir, "backup-20240101.tar.gz")
	if stats.LocalPath != localPath {
		t.Fatalf("LocalPath = %q", stats.LocalPath)
	}
	data, err := os.ReadFile(localPath)
	if err != nil || len(data) != 5000 {
		t.Fatalf("local file: %d bytes, %v", len(data), err)
	}
	if len(h.verifier.paths) != 1 || !stats.Verified {
		t.Fatalf("verifier paths = %v verified=%v", h.verifier.paths, stats.Verified)
	}
	if len(h.gateway.deleted) != 1 || !stats.RemoteDeleted || !h.gateway.loggedOut || h.gateway.closed {
		t.Fatalf("deleted=%v remoteDeleted=%v loggedOut=%v closed=%v",
			h.gateway.deleted, stats.RemoteDeleted, h.gateway.loggedOut, h.gateway.closed)
	}
	if stats.ExitCode != 0 || stats.FailedPhase != "" {
		t.Fatalf("exit=%d phase=%q", stats.ExitCode, stats.FailedPhase)
	}

	sum, err := backup.ReadChecksumFile(localPath + backup.ChecksumSuffix)
	if err != nil || sum != stats.Checksum {
		t.Fatalf("checksum sidecar = %q, %v; want %q", sum, err, stats.Checksum)
	}
	manifest, err := backup.LoadManifest(stats.ManifestPath)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if manifest.RemoteName != "backup-20240101.tar.gz" || manifest.RunID != stats.RunID || manifest.EncryptionMode != "plain" {
		t.Fatalf("manifest = %+v", manifest)
	}

	if notifier.data == nil || notifier.data.Status != notify.StatusSuccess || notifier.data.RemoteFile != "backup-20240101.tar.gz" {
		t.Fatalf("notification = %+v", notifier.data)
	}
	if _, ok := stats.PhaseDurations[PhaseStability]; !ok {
		t.Fatalf("phase durations = %v", stats.PhaseDurations)
	}
}

func TestRunDetectionTimeoutSkipsDownload(t *testing.T) {
	h := newHarness(t)
	h.gateway.listings = [][]ftp.RemoteFile{{remote("backup-old.tar.gz", 1)}}

	stats, err := h.run(t)
	if !errors.Is(err, ErrBackupNotFound) {
		t.Fatalf("err = %v, want ErrBackupNotFound", err)
	}
	var backupErr *BackupError
	if !errors.As(err, &backupErr) || backupErr.Phase != PhaseDetect || backupErr.Code != types.ExitDetectionTimeout {
		t.Fatalf("BackupError = %+v", backupErr)
	}
	if stats.ExitCode != types.ExitDetectionTimeout.Int() || stats.FailedPhase != PhaseDetect {
		t.Fatalf("stats exit=%d phase=%q", stats.ExitCode, stats.FailedPhase)
	}
	if len(h.gateway.downloads) != 0 || h.gateway.statCalls != 0 {
		t.Fatalf("no transfer expected, downloads=%v stats=%d", h.gateway.downloads, h.gateway.statCalls)
	}
	if !h.gateway.closed {
		t.Fatal("gateway should be closed after a failure")
	}
}

func TestRunStabilityTimeout(t *testing.T) {
	h := newHarness(t)
	h.gateway.sizes = []int64{10, 20, 30, 40, 50, 60, 70}

	_, err := h.run(t)
	if !errors.Is(err, ErrSizeUnstable) || ExitCodeFor(err) != types.ExitStabilityTimeout {
		t.Fatalf("err = %v (code %d)", err, ExitCodeFor(err))
	}
	if len(h.gateway.downloads) != 0 {
		t.Fatal("download must not start")
	}
}

func TestRunTriggerFailure(t *testing.T) {
	h := newHarness(t)
	h.trigger.err = fmt.Errorf("%w: HTTP 500", cpanel.ErrTrigger)

	_, err := h.run(t)
	if ExitCodeFor(err) != types.ExitNetworkError {
		t.Fatalf("code = %d, err = %v", ExitCodeFor(err), err)
	}
	if h.gateway.listCalls != 1 {
		t.Fatalf("only the baseline listing should run, got %d", h.gateway.listCalls)
	}
}

func TestRunPollingListingErrorIsNetworkError(t *testing.T) {
	h := newHarness(t)
	h.gateway.listErr = &ftp.OperationError{Op: "list /", Kind: ftp.ErrListing, Code: 421, Err: errors.New("421 closing")}
	h.gateway.listErrFrom = 1

	stats, err := h.run(t)
	if ExitCodeFor(err) != types.ExitNetworkError || stats.ExitCode != types.ExitNetworkError.Int() {
		t.Fatalf("code = %d, err = %v", stats.ExitCode, err)
	}
	if stats.FailedPhase != PhaseDetect {
		t.Fatalf("FailedPhase = %q, want %q", stats.FailedPhase, PhaseDetect)
	}
	if h.gateway.listCalls != 2 || h.gateway.statCalls != 0 || len(h.gateway.downloads) != 0 {
		t.Fatalf("listCalls=%d statCalls=%d downloads=%v", h.gateway.listCalls, h.gateway.statCalls, h.gateway.downloads)
	}
}

func TestRunPollingStatErrorIsNetworkError(t *testing.T) {
	h := newHarness(t)
	h.gateway.statErr = &ftp.OperationError{Op: "stat", Kind: ftp.ErrListing, Code: 550, Err: errors.New("550 gone")}

	stats, err := h.run(t)
	if ExitCodeFor(err) != types.ExitNetworkError || stats.FailedPhase != PhaseStability {
		t.Fatalf("code = %d phase = %q err = %v", ExitCodeFor(err), stats.FailedPhase, err)
	}
	if h.gateway.statCalls != 1 || len(h.gateway.downloads) != 0 {
		t.Fatalf("statCalls=%d downloads=%v", h.gateway.statCalls, h.gateway.downloads)
	}
}

func TestRunDownloadFailureRemovesPartialFile(t *testing.T) {
	h := newHarness(t)
	h.gateway.downloadErr = &ftp.OperationError{Op: "download", Kind: ftp.ErrTransfer, Code: 426, Err: errors.New("426 transfer aborted")}

	_, err := h.run(t)
	if ExitCodeFor(err) != types.ExitTransferError {
		t.Fatalf("code = %d, err = %v", ExitCodeFor(err), err)
	}
	if _, statErr := os.Stat(filepath.Join(h.dir, "backup-20240101.tar.gz")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("partial file should be removed, stat err = %v", statErr)
	}
	if len(h.verifier.paths) != 0 || len(h.gateway.deleted) != 0 {
		t.Fatal("no verification or deletion after a failed download")
	}
}

func TestRunExistingLocalFileIsStorageError(t *testing.T) {
	h := newHarness(t)
	existing := filepath.Join(h.dir, "backup-20240101.tar.gz")
	if err := os.WriteFile(existing, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := h.run(t)
	if ExitCodeFor(err) != types.ExitStorageError {
		t.Fatalf("code = %d, err = %v", ExitCodeFor(err), err)
	}
	if data, _ := os.ReadFile(existing); string(data) != "keep me" {
		t.Fatal("existing file must be left untouched")
	}
	if len(h.gateway.downloads) != 0 {
		t.Fatal("download must not start")
	}
}

func TestRunVerificationFailureKeepsBothCopies(t *testing.T) {
	h := newHarness(t)
	h.verifier.err = fmt.Errorf("%w: truncated gzip", backup.ErrVerification)

	stats, err := h.run(t)
	if ExitCodeFor(err) != types.ExitVerificationError {
		t.Fatalf("code = %d, err = %v", ExitCodeFor(err), err)
	}
	if len(h.gateway.deleted) != 0 {
		t.Fatal("remote copy must be kept")
	}
	if _, statErr := os.Stat(stats.LocalPath); statErr != nil {
		t.Fatalf("local copy must be kept: %v", statErr)
	}
}

func TestRunDeleteFailureIsWarningOnly(t *testing.T) {
	h := newHarness(t)
	h.gateway.deleteErr = &ftp.OperationError{Op: "delete", Kind: ftp.ErrDeletion, Code: 550, Err: errors.New("550 permission denied")}
	logger := quietLogger()
	h.deps.Logger = logger
	h.cfg.MetricsEnabled = true
	h.cfg.MetricsPath = t.TempDir()

	stats, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	prom, err := os.ReadFile(filepath.Join(h.cfg.MetricsPath, metrics.TextfileName))
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if want := fmt.Sprintf("cpanelsave_warnings_total %d", stats.WarningCount); !strings.Contains(string(prom), want) {
		t.Fatalf("metrics should carry %q:\n%s", want, prom)
	}
	if stats.RemoteDeleted || stats.ExitCode != 0 {
		t.Fatalf("remoteDeleted=%v exit=%d", stats.RemoteDeleted, stats.ExitCode)
	}
	if !logger.HasWarnings() || stats.WarningCount == 0 {
		t.Fatal("delete failure should be logged as a warning")
	}
	if !h.gateway.loggedOut {
		t.Fatal("logout still expected")
	}
}

func TestRunNoVerifyNoDelete(t *testing.T) {
	h := newHarness(t)
	h.cfg.VerifyBackup = false
	h.cfg.DeleteRemote = false
	var out bytes.Buffer
	h.deps.Logger = logging.New(types.LogLevelInfo, false)
	h.deps.Logger.SetOutput(&out)

	stats, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(out.String(), "Verifying downloaded archive") || !strings.Contains(out.String(), "[7/9] Verification disabled") {
		t.Fatalf("step 7 should only report the skip:\n%s", out.String())
	}
	if len(h.verifier.paths) != 0 || len(h.gateway.deleted) != 0 {
		t.Fatalf("verify=%v delete=%v", h.verifier.paths, h.gateway.deleted)
	}
	if stats.Verified || stats.RemoteDeleted {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestRunEncryptsAndMirrors(t *testing.T) {
	h := newHarness(t)
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	h.cfg.EncryptArchive = true
	h.cfg.CloudEnabled = true
	h.cfg.MetricsEnabled = true
	h.cfg.MetricsPath = t.TempDir()
	h.deps.Recipients = []age.Recipient{identity.Recipient()}
	h.deps.Cloud = storage.NewCloudStorageWithBucket(bucket, "cpanel", h.deps.Logger)

	stats, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !stats.Encrypted || !strings.HasSuffix(stats.LocalPath, backup.AgeSuffix) {
		t.Fatalf("encrypted=%v path=%q", stats.Encrypted, stats.LocalPath)
	}
	if _, err := os.Stat(strings.TrimSuffix(stats.LocalPath, backup.AgeSuffix)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("plaintext should be removed, stat err = %v", err)
	}

	manifest, err := backup.LoadManifest(stats.ManifestPath)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if manifest.EncryptionMode != "age" || manifest.PlainSHA256 != stats.Checksum || manifest.SHA256 == stats.Checksum {
		t.Fatalf("manifest = %+v", manifest)
	}

	if !stats.CloudUploaded || len(stats.CloudKeys) != 3 {
		t.Fatalf("cloud uploaded=%v keys=%v", stats.CloudUploaded, stats.CloudKeys)
	}
	ok, err := bucket.Exists(context.Background(), "cpanel/backup-20240101.tar.gz.age")
	if err != nil || !ok {
		t.Fatalf("archive missing from bucket: %v", err)
	}

	prom, err := os.ReadFile(filepath.Join(h.cfg.MetricsPath, metrics.TextfileName))
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(prom), "cpanelsave_cloud_uploaded 1") {
		t.Fatalf("metrics content:\n%s", prom)
	}
}

func TestRunAppliesRetention(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxLocalBackups = 1
	old := filepath.Join(h.dir, "backup-20231201.tar.gz")
	if err := os.WriteFile(old, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	stats, err := h.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.RetentionDeleted != 1 || stats.LocalBackups != 1 {
		t.Fatalf("retention deleted=%d remaining=%d", stats.RetentionDeleted, stats.LocalBackups)
	}
	if _, err := os.Stat(old); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("old backup should be deleted")
	}
}

func TestNewRequiresRecipientsForEncryption(t *testing.T) {
	h := newHarness(t)
	h.cfg.EncryptArchive = true
	if _, err := New(h.deps); err == nil {
		t.Fatal("expected error without recipients")
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ExitCode
	}{
		{"nil", nil, types.ExitSuccess},
		{"connection", &ftp.OperationError{Op: "connect", Kind: ftp.ErrConnection, Err: errors.New("refused")}, types.ExitNetworkError},
		{"auth", &ftp.OperationError{Op: "login", Kind: ftp.ErrAuthentication, Code: 530, Err: errors.New("530")}, types.ExitAuthError},
		{"not logged in", &ftp.OperationError{Op: "list", Kind: ftp.ErrNotLoggedIn, Err: errors.New("session is disconnected")}, types.ExitAuthError},
		{"listing", &ftp.OperationError{Op: "list", Kind: ftp.ErrListing, Err: errors.New("550")}, types.ExitNetworkError},
		{"setup", &ftp.OperationError{Op: "set binary mode", Kind: ftp.ErrTransferSetup, Err: errors.New("504")}, types.ExitTransferError},
		{"trigger", fmt.Errorf("%w: HTTP 401", cpanel.ErrTrigger), types.ExitNetworkError},
		{"detection", ErrBackupNotFound, types.ExitDetectionTimeout},
		{"stability", phaseError(PhaseStability, ErrSizeUnstable), types.ExitStabilityTimeout},
		{"verification", backup.ErrVerification, types.ExitVerificationError},
		{"storage", &storage.StorageError{Location: storage.LocationLocal, Operation: "create", Err: os.ErrExist}, types.ExitStorageError},
		{"encryption", fmt.Errorf("%w: boom", backup.ErrEncryption), types.ExitBackupError},
		{"cancelled", fmt.Errorf("list: %w", context.Canceled), types.ExitInterrupted},
		{"other", errors.New("boom"), types.ExitGenericError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Fatalf("ExitCodeFor(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
