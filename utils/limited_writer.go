package utils

import (
	"errors"
	"io"
)

// ErrWriteLimitExceeded is returned once writes run past the configured cap.
var ErrWriteLimitExceeded = errors.New("write limit exceeded")

// LimitedWriter passes writes through to w until limit bytes have been
// written. The write that crosses the limit is truncated to fit, and every
// write from then on fails with ErrWriteLimitExceeded. Errors from the
// underlying writer take precedence.
type LimitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func NewLimitedWriter(w io.Writer, limit int64) *LimitedWriter {
	return &LimitedWriter{w: w, limit: limit}
}

func (w *LimitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.written
	if remaining <= 0 && len(p) > 0 {
		return 0, ErrWriteLimitExceeded
	}

	truncated := false
	if int64(len(p)) > remaining {
		p = p[:remaining]
		truncated = true
	}

	n, err := w.w.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, err
	}
	if truncated {
		return n, ErrWriteLimitExceeded
	}
	return n, nil
}
