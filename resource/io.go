package resource

import (
	"context"
	"io"
)

// ioBurst returns the largest token count a single AcquireIO may request.
func (c *Controller) ioBurst() int {
	if c == nil || c.ioLimiter == nil {
		return 0
	}
	return c.ioLimiter.Burst()
}

// RateLimitedWriter wraps an io.Writer with the controller's IO limit.
// Writes larger than the limiter burst are split so they throttle instead
// of failing.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, rc *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, rc: rc}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	burst := w.rc.ioBurst()
	if burst <= 0 {
		return w.w.Write(p)
	}

	written := 0
	for written < len(p) {
		chunk := p[written:]
		if len(chunk) > burst {
			chunk = chunk[:burst]
		}
		if err := w.rc.AcquireIO(w.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := w.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// RateLimitedReader wraps an io.Reader with the controller's IO limit.
type RateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	rc  *Controller
}

// NewRateLimitedReader creates a new RateLimitedReader.
func NewRateLimitedReader(ctx context.Context, r io.Reader, rc *Controller) *RateLimitedReader {
	return &RateLimitedReader{ctx: ctx, r: r, rc: rc}
}

func (r *RateLimitedReader) Read(p []byte) (int, error) {
	burst := r.rc.ioBurst()
	if burst > 0 && len(p) > burst {
		p = p[:burst]
	}
	// Tokens are acquired for the buffer size up front; short reads overpay
	// slightly, which keeps the limiter conservative.
	if err := r.rc.AcquireIO(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
