// internal/bus/reader_test.go
package bus

import (
	"bytes"
	"context"
	"testing"

	"instrument-service/pkg/driver"
)

// scriptedChunks feeds pre-cut transport chunks; once exhausted it returns a
// timeout like a real transport with nothing left to say.
func scriptedChunks(chunks ...[]byte) chunkReader {
	i := 0
	return func(ctx context.Context) ([]byte, error) {
		if i >= len(chunks) {
			return nil, driver.Errorf(driver.KindTimeout, "test.read", "no more data")
		}
		chunk := chunks[i]
		i++
		return chunk, nil
	}
}

func TestReadLineStripsTerminatorAndCR(t *testing.T) {
	r := &responseReader{read: scriptedChunks([]byte("531\r\n"))}

	line, err := r.readLine(context.Background())
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if line != "531" {
		t.Errorf("line = %q, want %q", line, "531")
	}
}

func TestReadLineAssemblesSplitChunks(t *testing.T) {
	r := &responseReader{read: scriptedChunks([]byte("1.23"), []byte("e-06"), []byte("\n"))}

	line, err := r.readLine(context.Background())
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	if line != "1.23e-06" {
		t.Errorf("line = %q, want %q", line, "1.23e-06")
	}
}

func TestReadLineKeepsExcessPending(t *testing.T) {
	r := &responseReader{read: scriptedChunks([]byte("first\nsecond\n"))}

	ctx := context.Background()
	first, err := r.readLine(ctx)
	if err != nil {
		t.Fatalf("first readLine: %v", err)
	}
	second, err := r.readLine(ctx)
	if err != nil {
		t.Fatalf("second readLine: %v", err)
	}
	if first != "first" || second != "second" {
		t.Errorf("lines = %q, %q", first, second)
	}
}

func TestReadBytesExactCount(t *testing.T) {
	r := &responseReader{read: scriptedChunks([]byte{0x01, 0x02}, []byte{0x03, 0x04, 0x05})}

	out, err := r.readBytes(context.Background(), 3)
	if err != nil {
		t.Fatalf("readBytes: %v", err)
	}
	if !bytes.Equal(out, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("out = %v", out)
	}
	if !bytes.Equal(r.pending, []byte{0x04, 0x05}) {
		t.Errorf("pending = %v", r.pending)
	}
}

func TestReadBytesPropagatesTimeout(t *testing.T) {
	r := &responseReader{read: scriptedChunks([]byte{0x01})}

	_, err := r.readBytes(context.Background(), 2)
	if !driver.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestReadRawCollectsSplitBinaryBlock(t *testing.T) {
	payload := []byte("#14\x00\x0a\x00\x14\n")
	r := &responseReader{read: scriptedChunks(payload[:4], payload[4:])}

	out, err := r.readRaw(context.Background())
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("out = %v, want %v", out, payload)
	}
}

func TestReadRawIgnoresTerminatorInsidePayload(t *testing.T) {
	// Chunk boundary lands right after a payload byte that equals the line
	// terminator (0x0A). The block must still come back whole.
	payload := []byte("#14\x00\x0a\x00\x14\n")
	r := &responseReader{read: scriptedChunks(payload[:5], payload[5:])}

	out, err := r.readRaw(context.Background())
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("out = %v, want %v", out, payload)
	}
}

func TestReadRawReturnsPartialOnTimeout(t *testing.T) {
	// Binary data that never ends in a newline: the trailing timeout closes
	// the response instead of failing it.
	r := &responseReader{read: scriptedChunks([]byte{0xFF, 0x10, 0x20})}

	out, err := r.readRaw(context.Background())
	if err != nil {
		t.Fatalf("readRaw: %v", err)
	}
	if !bytes.Equal(out, []byte{0xFF, 0x10, 0x20}) {
		t.Errorf("out = %v", out)
	}
}

func TestReadRawTimeoutWithNoDataFails(t *testing.T) {
	r := &responseReader{read: scriptedChunks()}

	_, err := r.readRaw(context.Background())
	if !driver.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestDiscardDropsPending(t *testing.T) {
	r := &responseReader{pending: []byte("stale")}
	r.discard()
	if len(r.pending) != 0 {
		t.Errorf("pending = %v, want empty", r.pending)
	}
}
