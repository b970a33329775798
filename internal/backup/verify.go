// Package backup holds what happens to a downloaded cPanel archive once it is
// on local disk: integrity verification, checksums and manifest sidecars, and
// optional age encryption.
package backup

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/tis24dev/cpanelsave/internal/logging"
)

// ErrVerification marks an archive that failed the integrity check.
var ErrVerification = errors.New("backup verification failed")

// Verifier checks a downloaded archive. A nil error means the file is valid.
type Verifier interface {
	Verify(ctx context.Context, path string) error
}

// TarGzVerifier decompresses the whole archive and walks every tar entry,
// so a truncated stream or a bad gzip CRC is detected.
type TarGzVerifier struct {
	logger *logging.Logger
}

// NewTarGzVerifier returns a verifier for .tar.gz archives.
func NewTarGzVerifier(logger *logging.Logger) *TarGzVerifier {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &TarGzVerifier{logger: logger}
}

// Verify implements Verifier.
func (v *TarGzVerifier) Verify(ctx context.Context, path string) error {
	v.logger.Debug("Verifying archive: %s", path)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: archive not found: %v", ErrVerification, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: archive is empty", ErrVerification)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", ErrVerification, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(bufio.NewReaderSize(f, 256*1024))
	if err != nil {
		return fmt.Errorf("%w: gzip header: %v", ErrVerification, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	entries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: tar entry %d: %v", ErrVerification, entries+1, err)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrVerification, hdr.Name, err)
		}
		entries++
	}

	// Consume the tar padding and gzip trailer so the CRC is checked.
	if _, err := io.Copy(io.Discard, gz); err != nil {
		return fmt.Errorf("%w: gzip stream: %v", ErrVerification, err)
	}
	if entries == 0 {
		return fmt.Errorf("%w: archive contains no entries", ErrVerification)
	}

	v.logger.Debug("Archive verification passed: %d entries, %s", entries, FormatBytes(info.Size()))
	return nil
}
