package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/agessh"

	"github.com/tis24dev/cpanelsave/internal/logging"
)

// AgeSuffix is appended to encrypted archives.
const AgeSuffix = ".age"

// ErrEncryption is wrapped by every EncryptFile failure.
var ErrEncryption = errors.New("archive encryption failed")

// EncryptionConfig lists where age recipients come from. A passphrase
// cannot be combined with public-key recipients.
type EncryptionConfig struct {
	Recipients    []string
	RecipientFile string
	Passphrase    string
}

// ResolveRecipients parses every configured recipient.
func ResolveRecipients(cfg EncryptionConfig) ([]age.Recipient, error) {
	values := append([]string(nil), cfg.Recipients...)
	if path := strings.TrimSpace(cfg.RecipientFile); path != "" {
		fileRecipients, err := readRecipientFile(path)
		if err != nil {
			return nil, fmt.Errorf("read AGE recipients from %s: %w", path, err)
		}
		values = append(values, fileRecipients...)
	}
	values = dedupeRecipientStrings(values)

	if cfg.Passphrase != "" {
		if len(values) > 0 {
			return nil, fmt.Errorf("AGE_PASSPHRASE cannot be combined with public-key recipients")
		}
		r, err := age.NewScryptRecipient(cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("passphrase recipient: %w", err)
		}
		return []age.Recipient{r}, nil
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("no AGE recipients configured")
	}
	parsed := make([]age.Recipient, 0, len(values))
	for _, value := range values {
		recipient, err := parseRecipientString(value)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, recipient)
	}
	return parsed, nil
}

func parseRecipientString(value string) (age.Recipient, error) {
	switch {
	case strings.HasPrefix(value, "age1"):
		return age.ParseX25519Recipient(value)
	case strings.HasPrefix(strings.ToLower(value), "ssh-"):
		return agessh.ParseRecipient(value)
	default:
		return nil, fmt.Errorf("unsupported AGE recipient format: %s", value)
	}
}

func readRecipientFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recipients []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		recipients = append(recipients, line)
	}
	return recipients, scanner.Err()
}

func dedupeRecipientStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// EncryptFile encrypts src into src+".age" and removes the plaintext once
// the ciphertext is complete. On failure the partial output is removed and
// src is left untouched.
func EncryptFile(ctx context.Context, logger *logging.Logger, src string, recipients []age.Recipient) (dst string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrEncryption, err)
		}
	}()
	if len(recipients) == 0 {
		return "", fmt.Errorf("encryption enabled but no AGE recipients configured")
	}
	dst = src + AgeSuffix
	logger.Debug("Encrypting %s -> %s (%d recipient(s))", src, dst, len(recipients))

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open plaintext: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create encrypted file: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	writer, err := age.Encrypt(out, recipients...)
	if err != nil {
		return "", fmt.Errorf("initialize age encryption: %w", err)
	}
	if _, err = io.Copy(writer, &ctxReader{ctx: ctx, r: in}); err != nil {
		return "", fmt.Errorf("encrypt archive: %w", err)
	}
	if err = writer.Close(); err != nil {
		return "", fmt.Errorf("finalize age encryption: %w", err)
	}
	if err = out.Close(); err != nil {
		return "", fmt.Errorf("close encrypted file: %w", err)
	}

	if rmErr := os.Remove(src); rmErr != nil {
		logger.Warning("Encrypted archive written but plaintext %s could not be removed: %v", src, rmErr)
	}
	return dst, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
