package ftp

import (
	"context"
	"crypto/tls"
	"io"
	"path"
	"time"

	goftp "github.com/jlaffaye/ftp"
)

// RemoteFile is an immutable snapshot of one remote directory entry.
type RemoteFile struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
	IsDir      bool
}

// Conn is one control connection. Each method performs a single protocol
// exchange; protocol failures carry a *textproto.Error with the reply code.
type Conn interface {
	Login(user, password string) error
	List(dir string) ([]RemoteFile, error)
	Stat(path string) (RemoteFile, error)
	Binary() error
	Retr(path string) (io.ReadCloser, error)
	Delete(path string) error
	Quit() error
}

// Dialer opens a control connection to addr.
type Dialer func(ctx context.Context, addr string, opts Options) (Conn, error)

// DialServer is the production Dialer backed by github.com/jlaffaye/ftp.
// Data connections are always opened by the client (EPSV, or PASV when
// EPSV is disabled).
func DialServer(ctx context.Context, addr string, opts Options) (Conn, error) {
	dialOpts := []goftp.DialOption{
		goftp.DialWithContext(ctx),
		goftp.DialWithDisabledEPSV(opts.DisableEPSV),
	}
	if opts.Timeout > 0 {
		dialOpts = append(dialOpts, goftp.DialWithTimeout(opts.Timeout))
	}
	if opts.TLS {
		dialOpts = append(dialOpts, goftp.DialWithExplicitTLS(&tls.Config{
			ServerName: opts.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}

	c, err := goftp.Dial(addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &serverConn{c: c}, nil
}

type serverConn struct {
	c *goftp.ServerConn
}

func (s *serverConn) Login(user, password string) error {
	return s.c.Login(user, password)
}

func (s *serverConn) List(dir string) ([]RemoteFile, error) {
	entries, err := s.c.List(dir)
	if err != nil {
		return nil, err
	}
	files := make([]RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Name == "." || e.Name == ".." {
			continue
		}
		files = append(files, fromEntry(e))
	}
	return files, nil
}

// Stat uses MLST and falls back to SIZE on servers that do not implement it.
func (s *serverConn) Stat(p string) (RemoteFile, error) {
	entry, err := s.c.GetEntry(p)
	if err == nil {
		f := fromEntry(entry)
		f.Name = path.Base(p)
		return f, nil
	}
	switch ReplyCode(err) {
	case 500, 502:
		size, serr := s.c.FileSize(p)
		if serr != nil {
			return RemoteFile{}, serr
		}
		return RemoteFile{Name: path.Base(p), Size: size}, nil
	default:
		return RemoteFile{}, err
	}
}

func (s *serverConn) Binary() error {
	return s.c.Type(goftp.TransferTypeBinary)
}

// Retr returns the data stream; closing it reads the final transfer reply.
func (s *serverConn) Retr(p string) (io.ReadCloser, error) {
	return s.c.Retr(p)
}

func (s *serverConn) Delete(p string) error {
	return s.c.Delete(p)
}

func (s *serverConn) Quit() error {
	return s.c.Quit()
}

func fromEntry(e *goftp.Entry) RemoteFile {
	return RemoteFile{
		Name:       e.Name,
		Size:       int64(e.Size),
		ModifiedAt: e.Time,
		IsDir:      e.Type == goftp.EntryTypeFolder,
	}
}
