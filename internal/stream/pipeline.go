// Package stream moves downloaded bytes from the goroutine driving the FTP
// exchange to the destination file through a bounded in-memory conduit
// drained by a background goroutine.
package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultQueueDepth is the number of chunks the conduit holds before the
// producer blocks.
const DefaultQueueDepth = 16

// ErrDrainStopped is returned by Write once the drain goroutine has exited
// early (destination failure or cancellation). Wait reports the cause.
var ErrDrainStopped = errors.New("stream drain stopped")

// ProgressFunc receives quantized completion percentages (10, 20, ..., 100).
type ProgressFunc func(percent int)

// Result is what the drain observed once joined.
type Result struct {
	Bytes  int64
	SHA256 string
}

// Drain is the handle of one running pipeline. It is the producer side
// (an io.WriteCloser fed by the download) and the join point of the
// background drain goroutine.
type Drain struct {
	ch       chan []byte
	gctx     context.Context
	group    *errgroup.Group
	progress *TransferProgress
	onStep   ProgressFunc
	lastStep int

	closeOnce sync.Once
	drained   atomic.Int64
	sum       string
	result    Result
	waited    bool
	waitErr   error
}

// Start launches the drain goroutine writing into sink. The sink is closed
// by the drain once the producer side is closed and the conduit is empty,
// or when the drain stops on error. expectedTotal is used only for
// percentage reporting; values <= 0 disable callbacks.
func Start(ctx context.Context, sink io.WriteCloser, expectedTotal int64, onStep ProgressFunc) *Drain {
	group, gctx := errgroup.WithContext(ctx)
	d := &Drain{
		ch:       make(chan []byte, DefaultQueueDepth),
		gctx:     gctx,
		group:    group,
		progress: NewTransferProgress(expectedTotal),
		onStep:   onStep,
	}
	group.Go(func() error {
		return d.run(sink)
	})
	return d
}

func (d *Drain) run(sink io.WriteCloser) (err error) {
	hasher := sha256.New()
	dst := io.MultiWriter(sink, hasher)
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close destination: %w", cerr)
		}
		if err == nil {
			d.sum = hex.EncodeToString(hasher.Sum(nil))
		}
	}()

	for {
		select {
		case chunk, ok := <-d.ch:
			if !ok {
				return nil
			}
			n, werr := dst.Write(chunk)
			d.drained.Add(int64(n))
			if werr != nil {
				return fmt.Errorf("write destination: %w", werr)
			}
		case <-d.gctx.Done():
			return d.gctx.Err()
		}
	}
}

// Write hands a copy of p to the drain goroutine, blocking while the
// conduit is full.
func (d *Drain) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)

	select {
	case d.ch <- chunk:
	case <-d.gctx.Done():
		return 0, ErrDrainStopped
	}

	done := d.progress.Add(int64(len(p)))
	d.report(done)
	return len(p), nil
}

func (d *Drain) report(done int64) {
	total := d.progress.TotalBytes()
	if d.onStep == nil || total <= 0 {
		return
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	step := int(pct/10) * 10
	if step > d.lastStep {
		d.lastStep = step
		d.onStep(step)
	}
}

// Close marks the end of the producer feed. It is safe to call more than once.
func (d *Drain) Close() error {
	d.closeOnce.Do(func() {
		close(d.ch)
	})
	return nil
}

// Progress exposes the wire-side counters.
func (d *Drain) Progress() *TransferProgress {
	return d.progress
}

// Wait closes the producer side if still open, joins the drain goroutine and
// returns its result. The sink is closed once Wait returns.
func (d *Drain) Wait() (Result, error) {
	if d.waited {
		return d.result, d.waitErr
	}
	_ = d.Close()
	err := d.group.Wait()
	d.waited = true
	d.result = Result{Bytes: d.drained.Load(), SHA256: d.sum}
	d.waitErr = err
	return d.result, err
}
