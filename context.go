package data_portal

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// A context-aware io.Reader wrapper, so cancelling the context interrupts an
// io.Copy between chunk reads.
type readerContext struct {
	ctx context.Context
	r   io.Reader
}

func (r *readerContext) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// A bandwidth-limited io.Reader wrapper: each read reserves its byte count
// from the limiter, sleeping as required to stay under the configured rate.
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *limitedReader) Read(p []byte) (n int, err error) {
	// Never ask for more than one burst, or WaitN can fail outright.
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err = r.r.Read(p)
	if n > 0 {
		if waitErr := r.limiter.WaitN(r.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
