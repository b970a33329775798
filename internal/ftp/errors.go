package ftp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
)

// StatusConnectionClosed is the reply a server sends when it is closing the
// control connection (service not available).
const StatusConnectionClosed = 421

var (
	ErrConnection     = errors.New("ftp connection error")
	ErrAuthentication = errors.New("ftp authentication error")
	ErrNotLoggedIn    = errors.New("ftp session not logged in")
	ErrListing        = errors.New("ftp listing error")
	ErrTransferSetup  = errors.New("ftp transfer setup error")
	ErrTransfer       = errors.New("ftp transfer error")
	ErrDeletion       = errors.New("ftp deletion error")
)

// OperationError describes a failed gateway operation. Kind is one of the
// package sentinels, Code the server reply (0 when none was received).
type OperationError struct {
	Op   string
	Kind error
	Code int
	Err  error
}

func (e *OperationError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("ftp %s failed (reply %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("ftp %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *OperationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ReplyCode extracts the FTP reply code carried by err, or 0.
func ReplyCode(err error) int {
	var perr *textproto.Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return 0
}

// connectionLost reports whether err means the control connection is gone:
// an explicit 421 reply, or the socket closing under us.
func connectionLost(err error) bool {
	if err == nil {
		return false
	}
	if ReplyCode(err) == StatusConnectionClosed {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
