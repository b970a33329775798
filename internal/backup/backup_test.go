package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/klauspost/compress/gzip"

	"github.com/tis24dev/cpanelsave/internal/logging"
	"github.com/tis24dev/cpanelsave/internal/types"
)

func quietLogger() *logging.Logger {
	l := logging.New(types.LogLevelDebug, false)
	l.SetOutput(io.Discard)
	return l
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestTarGzVerifier(t *testing.T) {
	dir := t.TempDir()
	good := buildTarGz(t, map[string]string{
		"homedir/public_html/index.html": strings.Repeat("<p>hi</p>", 200),
		"mysql/app.sql":                  "CREATE TABLE t (id int);",
	})

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", good, false},
		{"truncated", good[:len(good)/2], true},
		{"empty", nil, true},
		{"not gzip", []byte("this is not a gzip stream"), true},
		{"no entries", buildTarGz(t, map[string]string{}), true},
	}

	v := NewTarGzVerifier(quietLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".tar.gz", tt.data)
			err := v.Verify(context.Background(), path)
			if tt.wantErr {
				if !errors.Is(err, ErrVerification) {
					t.Fatalf("Verify() = %v, want ErrVerification", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() = %v", err)
			}
		})
	}
}

func TestTarGzVerifierMissingFile(t *testing.T) {
	err := NewTarGzVerifier(quietLogger()).Verify(context.Background(), filepath.Join(t.TempDir(), "nope.tar.gz"))
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("Verify() = %v, want ErrVerification", err)
	}
}

func TestChecksumSidecarAndManifest(t *testing.T) {
	dir := t.TempDir()
	logger := quietLogger()
	archive := writeFile(t, dir, "backup-1.tar.gz", []byte("hello"))

	sum, err := GenerateChecksum(context.Background(), logger, archive)
	if err != nil {
		t.Fatalf("GenerateChecksum: %v", err)
	}
	const helloSHA = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != helloSHA {
		t.Fatalf("checksum = %s, want %s", sum, helloSHA)
	}

	sidecar, err := WriteChecksumFile(archive, sum)
	if err != nil {
		t.Fatalf("WriteChecksumFile: %v", err)
	}
	data, _ := os.ReadFile(sidecar)
	if string(data) != helloSHA+"  backup-1.tar.gz\n" {
		t.Fatalf("sidecar content = %q", string(data))
	}
	if got, err := ReadChecksumFile(sidecar); err != nil || got != helloSHA {
		t.Fatalf("ReadChecksumFile = %s, %v", got, err)
	}

	ok, err := VerifyChecksum(context.Background(), logger, archive, strings.ToUpper(helloSHA))
	if err != nil || !ok {
		t.Fatalf("VerifyChecksum = %v, %v", ok, err)
	}
	ok, _ = VerifyChecksum(context.Background(), logger, archive, "deadbeef")
	if ok {
		t.Fatal("mismatching checksum reported as valid")
	}

	manifestPath := archive + ManifestSuffix
	m := &Manifest{ArchivePath: archive, ArchiveSize: 5, SHA256: sum, RemoteName: "backup-1.tar.gz", RunID: "run-1", Verified: true}
	if err := CreateManifest(context.Background(), logger, m, manifestPath); err != nil {
		t.Fatalf("CreateManifest: %v", err)
	}
	loaded, err := LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if loaded.SHA256 != sum || loaded.RunID != "run-1" || !loaded.Verified {
		t.Fatalf("loaded manifest = %+v", loaded)
	}
}

func TestEncryptFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	plain := []byte(strings.Repeat("backup payload ", 1000))
	src := writeFile(t, dir, "backup-2.tar.gz", plain)

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	recipients, err := ResolveRecipients(EncryptionConfig{Recipients: []string{identity.Recipient().String()}})
	if err != nil {
		t.Fatalf("ResolveRecipients: %v", err)
	}

	dst, err := EncryptFile(context.Background(), quietLogger(), src, recipients)
	if err != nil {
		t.Fatalf("EncryptFile: %v", err)
	}
	if dst != src+AgeSuffix {
		t.Fatalf("dst = %s", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("plaintext should be removed, stat err = %v", err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := age.Decrypt(f, identity)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatal("decrypted content differs")
	}
}

func TestEncryptFileRefusesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "backup-3.tar.gz", []byte("data"))
	writeFile(t, dir, "backup-3.tar.gz.age", []byte("old"))

	identity, _ := age.GenerateX25519Identity()
	if _, err := EncryptFile(context.Background(), quietLogger(), src, []age.Recipient{identity.Recipient()}); !errors.Is(err, ErrEncryption) {
		t.Fatalf("expected ErrEncryption when the .age file already exists, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("plaintext must survive a failed encryption: %v", err)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "backup-3.tar.gz.age")); string(data) != "old" {
		t.Fatal("existing .age file must not be touched")
	}
}

func TestResolveRecipients(t *testing.T) {
	identity, _ := age.GenerateX25519Identity()
	dir := t.TempDir()
	file := writeFile(t, dir, "recipients.txt", []byte("# comment\n\n"+identity.Recipient().String()+"\n"))

	rs, err := ResolveRecipients(EncryptionConfig{
		Recipients:    []string{identity.Recipient().String()},
		RecipientFile: file,
	})
	if err != nil {
		t.Fatalf("ResolveRecipients: %v", err)
	}
	if len(rs) != 1 {
		t.Fatalf("duplicates should collapse, got %d recipients", len(rs))
	}

	if _, err := ResolveRecipients(EncryptionConfig{}); err == nil {
		t.Fatal("expected error with no recipients")
	}
	if _, err := ResolveRecipients(EncryptionConfig{Recipients: []string{"pgp-key"}}); err == nil {
		t.Fatal("expected error for unsupported recipient")
	}
	if _, err := ResolveRecipients(EncryptionConfig{Recipients: []string{identity.Recipient().String()}, Passphrase: "long passphrase here"}); err == nil {
		t.Fatal("expected error mixing passphrase and recipients")
	}
	rs, err = ResolveRecipients(EncryptionConfig{Passphrase: "long passphrase here"})
	if err != nil || len(rs) != 1 {
		t.Fatalf("passphrase recipient = %v, %v", rs, err)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatBytes(512); got != "512 B" {
		t.Fatalf("FormatBytes(512) = %s", got)
	}
	if got := FormatBytes(5 * 1024 * 1024); got != "5.0 MiB" {
		t.Fatalf("FormatBytes(5MiB) = %s", got)
	}
	if got := FormatByteCount(5242880); got != "5,242,880 bytes (5.0 MiB)" {
		t.Fatalf("FormatByteCount = %s", got)
	}
}
