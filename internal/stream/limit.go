package stream

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// LimitReader throttles r to bytesPerSec using a token bucket. A
// non-positive limit returns r unchanged.
func LimitReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}
	burst := int(bytesPerSec)
	if burst > 1<<20 {
		burst = 1 << 20
	}
	return &limitedReader{
		ctx:     ctx,
		r:       r,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		burst:   burst,
	}
}

type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
	burst   int
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) > l.burst {
		p = p[:l.burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
