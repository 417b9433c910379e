// internal/bus/reader.go
package bus

import (
	"bytes"
	"context"
	"strings"

	"instrument-service/pkg/driver"
)

// chunkReader performs one bounded read attempt against the transport and
// returns whatever arrived. A timeout surfaces as a driver.KindTimeout error.
type chunkReader func(ctx context.Context) ([]byte, error)

// responseReader assembles lines, fixed-count reads and raw blocks out of
// transport chunks. Bytes that arrive past what a call consumed stay pending
// for the next call.
type responseReader struct {
	pending []byte
	read    chunkReader
}

func (r *responseReader) fill(ctx context.Context) error {
	chunk, err := r.read(ctx)
	if err != nil {
		return err
	}
	r.pending = append(r.pending, chunk...)
	return nil
}

// readLine returns one line with the terminator (and any preceding CR)
// stripped.
func (r *responseReader) readLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(r.pending, lineTerminator); i >= 0 {
			line := string(r.pending[:i])
			r.pending = r.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		if err := r.fill(ctx); err != nil {
			return "", err
		}
	}
}

// readBytes returns exactly n bytes.
func (r *responseReader) readBytes(ctx context.Context, n int) ([]byte, error) {
	for len(r.pending) < n {
		if err := r.fill(ctx); err != nil {
			return nil, err
		}
	}
	out := make([]byte, n)
	copy(out, r.pending)
	r.pending = r.pending[n:]
	return out, nil
}

// readRaw drains the full pending response. Binary payload bytes can equal
// the line terminator, so a trailing terminator is never taken as the end of
// the response: only transport silence (a timed-out read attempt after data
// has arrived) completes it. A timeout with nothing collected is an error.
func (r *responseReader) readRaw(ctx context.Context) ([]byte, error) {
	for {
		if err := r.fill(ctx); err != nil {
			if len(r.pending) > 0 && driver.IsTimeout(err) {
				break
			}
			return nil, err
		}
	}
	out := r.pending
	r.pending = nil
	return out, nil
}

// discard drops any unconsumed bytes, e.g. after a protocol error.
func (r *responseReader) discard() {
	r.pending = nil
}
