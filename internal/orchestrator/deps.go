package orchestrator

import (
	"context"
	"io"
	"time"

	"filippo.io/age"

	"github.com/tis24dev/cpanelsave/internal/backup"
	"github.com/tis24dev/cpanelsave/internal/config"
	"github.com/tis24dev/cpanelsave/internal/ftp"
	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/notify"
	"github.com/tis24dev/cpanelsave/internal/storage"
	"github.com/tis24dev/cpanelsave/internal/stream"
)

// Clock abstracts time for the polling loops.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Gateway is the part of *ftp.Gateway the orchestrator drives.
type Gateway interface {
	Login(ctx context.Context) error
	List(ctx context.Context, dir string) ([]ftp.RemoteFile, error)
	Stat(ctx context.Context, path string) (ftp.RemoteFile, error)
	Download(ctx context.Context, path string, sink io.WriteCloser, expectedTotal int64, progress stream.ProgressFunc) (stream.Result, error)
	Delete(ctx context.Context, path string) error
	Logout(ctx context.Context) error
	Close()
}

// Trigger starts the server-side backup job.
type Trigger interface {
	TriggerFullBackup(ctx context.Context) error
}

// Deps groups the collaborators of an Orchestrator. Logger, Config,
// Gateway, Trigger and Local are required.
type Deps struct {
	Logger   *logging.Logger
	Config   *config.Config
	Gateway  Gateway
	Trigger  Trigger
	Verifier backup.Verifier
	Local    *storage.LocalStorage
	Cloud    *storage.CloudStorage

	// Recipients are the resolved age recipients used when
	// Config.EncryptArchive is set.
	Recipients []age.Recipient
	Notifiers  []notify.Notifier

	Clock   Clock
	Version string
}

func (d *Deps) applyDefaults() {
	if d.Logger == nil {
		d.Logger = logging.GetDefaultLogger()
	}
	if d.Clock == nil {
		d.Clock = realClock{}
	}
	if d.Verifier == nil {
		d.Verifier = backup.NewTarGzVerifier(d.Logger)
	}
}
