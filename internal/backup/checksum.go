package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/cpanelsave/internal/logging"
)

const (
	ChecksumSuffix = ".sha256"
	ManifestSuffix = ".manifest.json"
)

// Manifest describes a delivered archive.
type Manifest struct {
	ArchivePath    string    `json:"archive_path"`
	ArchiveSize    int64     `json:"archive_size"`
	SHA256         string    `json:"sha256"`
	RemoteName     string    `json:"remote_name"`
	RemoteSize     int64     `json:"remote_size"`
	Host           string    `json:"host"`
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	CreatedAt      time.Time `json:"created_at"`
	Verified       bool      `json:"verified"`
	EncryptionMode string    `json:"encryption_mode,omitempty"`
	PlainSHA256    string    `json:"plain_sha256,omitempty"`
	ToolVersion    string    `json:"tool_version,omitempty"`
}

// GenerateChecksum calculates SHA256 checksum of a file
func GenerateChecksum(ctx context.Context, logger *logging.Logger, filePath string) (string, error) {
	logger.Debug("Generating SHA256 checksum for: %s", filePath)

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := file.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	logger.Debug("Generated checksum: %s", checksum)
	return checksum, nil
}

// WriteChecksumFile writes "<sha256>  <basename>" next to the archive, in the
// format sha256sum -c understands. It returns the sidecar path.
func WriteChecksumFile(archivePath, checksum string) (string, error) {
	sidecar := archivePath + ChecksumSuffix
	line := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(archivePath))
	if err := os.WriteFile(sidecar, []byte(line), 0o640); err != nil {
		return "", fmt.Errorf("failed to write checksum file: %w", err)
	}
	return sidecar, nil
}

// ReadChecksumFile returns the checksum stored in a sidecar.
func ReadChecksumFile(sidecar string) (string, error) {
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("checksum file %s is empty", sidecar)
	}
	return fields[0], nil
}

// CreateManifest writes manifest as indented JSON to outputPath.
func CreateManifest(ctx context.Context, logger *logging.Logger, manifest *Manifest, outputPath string) error {
	logger.Debug("Creating manifest file: %s", outputPath)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o640); err != nil {
		return fmt.Errorf("failed to write manifest file: %w", err)
	}
	return nil
}

// LoadManifest loads a manifest from a JSON file
func LoadManifest(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &manifest, nil
}

// VerifyChecksum verifies a file against an expected checksum.
func VerifyChecksum(ctx context.Context, logger *logging.Logger, filePath, expectedChecksum string) (bool, error) {
	actual, err := GenerateChecksum(ctx, logger, filePath)
	if err != nil {
		return false, fmt.Errorf("failed to generate checksum: %w", err)
	}
	if !strings.EqualFold(actual, expectedChecksum) {
		logger.Warning("Checksum mismatch! Expected: %s, Got: %s", expectedChecksum, actual)
		return false, nil
	}
	logger.Debug("Checksum verification passed")
	return true, nil
}

// SidecarPaths returns the paths of every sidecar that may accompany archivePath.
func SidecarPaths(archivePath string) []string {
	return []string{archivePath + ChecksumSuffix, archivePath + ManifestSuffix}
}
