package stream

import "sync/atomic"

// TransferProgress is shared between the producer and any reader; all
// access goes through atomics.
type TransferProgress struct {
	transferred atomic.Int64
	total       atomic.Int64
}

// NewTransferProgress returns counters for a transfer of total bytes.
func NewTransferProgress(total int64) *TransferProgress {
	p := &TransferProgress{}
	p.total.Store(total)
	return p
}

// Add records n more bytes and returns the running total.
func (p *TransferProgress) Add(n int64) int64 {
	return p.transferred.Add(n)
}

func (p *TransferProgress) BytesTransferred() int64 {
	return p.transferred.Load()
}

func (p *TransferProgress) TotalBytes() int64 {
	return p.total.Load()
}

// Percent returns the unquantized completion (0-100), or -1 when the total
// is unknown.
func (p *TransferProgress) Percent() int {
	total := p.total.Load()
	if total <= 0 {
		return -1
	}
	pct := p.transferred.Load() * 100 / total
	if pct > 100 {
		pct = 100
	}
	return int(pct)
}
