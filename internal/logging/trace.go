package logging

import (
	"time"
)

// Exchange is one traced protocol round trip (an FTP command, an HTTP
// request). Start and outcome are written at DEBUG:
//
//	> FTP RETR /backup-1.tar.gz
//	< FTP RETR: ok, 5000 bytes (12ms)
type Exchange struct {
	logger  *Logger
	label   string
	started time.Time
}

// Trace opens an exchange for command over protocol. detail may be empty.
// A nil logger yields an exchange whose End methods do nothing.
func Trace(logger *Logger, protocol, command, detail string) *Exchange {
	e := &Exchange{logger: logger, label: protocol + " " + command, started: time.Now()}
	if logger == nil {
		return e
	}
	if detail != "" {
		logger.Debug("> %s %s", e.label, detail)
	} else {
		logger.Debug("> %s", e.label)
	}
	return e
}

// End logs the outcome of the exchange.
func (e *Exchange) End(err error) {
	if e == nil || e.logger == nil {
		return
	}
	if err != nil {
		e.logger.Debug("< %s: %v (%s)", e.label, err, e.elapsed())
		return
	}
	e.logger.Debug("< %s: ok (%s)", e.label, e.elapsed())
}

// EndBytes logs the outcome of a data transfer together with its size.
func (e *Exchange) EndBytes(n int64, err error) {
	if e == nil || e.logger == nil {
		return
	}
	if err != nil {
		e.logger.Debug("< %s: %v after %d bytes (%s)", e.label, err, n, e.elapsed())
		return
	}
	e.logger.Debug("< %s: ok, %d bytes (%s)", e.label, n, e.elapsed())
}

func (e *Exchange) elapsed() time.Duration {
	return time.Since(e.started).Round(time.Millisecond)
}
