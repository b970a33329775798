package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/tis24dev/cpanelsave/internal/logging"
)

// CloudStorage mirrors delivered files to a gocloud bucket (s3://, gs://,
// file://, mem://). Failures are never critical.
type CloudStorage struct {
	logger    *logging.Logger
	bucketURL string
	prefix    string
	bucket    *blob.Bucket
	owned     bool
}

// NewCloudStorage prepares a mirror for bucketURL; the bucket is opened by Open.
func NewCloudStorage(bucketURL, prefix string, logger *logging.Logger) *CloudStorage {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &CloudStorage{logger: logger, bucketURL: bucketURL, prefix: strings.Trim(prefix, "/")}
}

// NewCloudStorageWithBucket wraps an already opened bucket.
func NewCloudStorageWithBucket(bucket *blob.Bucket, prefix string, logger *logging.Logger) *CloudStorage {
	c := NewCloudStorage("", prefix, logger)
	c.bucket = bucket
	return c
}

// Open connects to the bucket.
func (c *CloudStorage) Open(ctx context.Context) error {
	if c.bucket != nil {
		return nil
	}
	c.logger.Debug("Opening cloud bucket %s", c.bucketURL)
	bkt, err := blob.OpenBucket(ctx, c.bucketURL)
	if err != nil {
		return c.fail("open", c.bucketURL, err)
	}
	c.bucket = bkt
	c.owned = true
	return nil
}

// Close releases a bucket opened by Open.
func (c *CloudStorage) Close() error {
	if c.bucket == nil || !c.owned {
		return nil
	}
	err := c.bucket.Close()
	c.bucket = nil
	return err
}

// Key returns the object key for a local file.
func (c *CloudStorage) Key(localPath string) string {
	name := filepath.Base(localPath)
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// Upload copies localPath into the bucket and verifies the stored size.
func (c *CloudStorage) Upload(ctx context.Context, localPath string) (string, error) {
	if err := c.Open(ctx); err != nil {
		return "", err
	}
	key := c.Key(localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return "", c.fail("upload", localPath, err)
	}
	defer f.Close()

	writer, err := c.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentTypeFor(localPath)})
	if err != nil {
		return "", c.fail("upload", key, fmt.Errorf("create writer: %w", err))
	}

	hash := sha256.New()
	written, err := io.Copy(writer, io.TeeReader(f, hash))
	if err != nil {
		writer.Close()
		return "", c.fail("upload", key, fmt.Errorf("write: %w", err))
	}
	if err := writer.Close(); err != nil {
		return "", c.fail("upload", key, fmt.Errorf("close writer: %w", err))
	}

	attrs, err := c.bucket.Attributes(ctx, key)
	if err != nil {
		return "", c.fail("verify", key, err)
	}
	if attrs.Size != written {
		c.bucket.Delete(ctx, key)
		return "", c.fail("verify", key, fmt.Errorf("size mismatch: expected %d, got %d", written, attrs.Size))
	}

	c.logger.Debug("Uploaded %s to %s (%d bytes, sha256 %s)", localPath, key, written, hex.EncodeToString(hash.Sum(nil)))
	return key, nil
}

// Store uploads every file, stopping at the first failure.
func (c *CloudStorage) Store(ctx context.Context, files ...string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, file := range files {
		key, err := c.Upload(ctx, file)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Exists reports whether key is present in the bucket.
func (c *CloudStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.Open(ctx); err != nil {
		return false, err
	}
	_, err := c.bucket.Attributes(ctx, key)
	if err == nil {
		return true, nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return false, nil
	}
	return false, c.fail("stat", key, err)
}

func (c *CloudStorage) fail(op, p string, err error) error {
	return &StorageError{Location: LocationCloud, Operation: op, Path: p, Err: err}
}

func contentTypeFor(p string) string {
	switch {
	case strings.HasSuffix(p, ".json"):
		return "application/json"
	case strings.HasSuffix(p, ".sha256"):
		return "text/plain"
	case strings.HasSuffix(p, ".gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
