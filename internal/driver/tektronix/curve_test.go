// internal/driver/tektronix/curve_test.go
package tektronix

import (
	"context"
	"testing"

	"instrument-service/pkg/driver"
)

// byteFeed serves sized reads from a fixed byte sequence; once the data runs
// out it behaves like a silent line.
type byteFeed struct {
	data []byte
}

func (f *byteFeed) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	if len(f.data) < n {
		return nil, driver.Errorf(driver.KindTimeout, "test.read", "no more data")
	}
	out := f.data[:n]
	f.data = f.data[n:]
	return out, nil
}

func TestReadCurveBlock(t *testing.T) {
	// #18 + four big-endian int16 samples + terminator.
	feed := &byteFeed{data: []byte{'#', '1', '8',
		0x00, 0x0A, // 10
		0x00, 0x14, // 20
		0xFF, 0xEC, // -20
		0x80, 0x00, // -32768
		'\n'}}

	samples, err := readCurveBlock(context.Background(), feed)
	if err != nil {
		t.Fatalf("readCurveBlock: %v", err)
	}

	want := []int16{10, 20, -20, -32768}
	if len(samples) != len(want) {
		t.Fatalf("samples = %v, want %v", samples, want)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("samples[%d] = %d, want %d", i, samples[i], want[i])
		}
	}
	if len(feed.data) != 0 {
		t.Errorf("unconsumed bytes = %v", feed.data)
	}
}

func TestReadCurveBlockMultiDigitLength(t *testing.T) {
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}
	feed := &byteFeed{data: append([]byte("#220"), payload...)}

	samples, err := readCurveBlock(context.Background(), feed)
	if err != nil {
		t.Fatalf("readCurveBlock: %v", err)
	}
	if len(samples) != 10 {
		t.Errorf("len = %d, want 10", len(samples))
	}
}

func TestReadCurveBlockPayloadMatchingTerminator(t *testing.T) {
	// Sample bytes equal to the line terminator (0x0A) sit inside the
	// payload; the declared count, not the terminator, bounds the read.
	feed := &byteFeed{data: []byte{'#', '1', '4', 0x00, 0x0A, 0x00, 0x14, '\n'}}

	samples, err := readCurveBlock(context.Background(), feed)
	if err != nil {
		t.Fatalf("readCurveBlock: %v", err)
	}
	want := []int16{10, 20}
	if len(samples) != len(want) || samples[0] != want[0] || samples[1] != want[1] {
		t.Errorf("samples = %v, want %v", samples, want)
	}
}

func TestReadCurveBlockMissingTerminator(t *testing.T) {
	// A scope that never sends the trailing terminator still yields the
	// declared samples.
	feed := &byteFeed{data: []byte{'#', '1', '2', 0x00, 0x0A}}

	samples, err := readCurveBlock(context.Background(), feed)
	if err != nil {
		t.Fatalf("readCurveBlock: %v", err)
	}
	if len(samples) != 1 || samples[0] != 10 {
		t.Errorf("samples = %v, want [10]", samples)
	}
}

func TestReadCurveBlockHeaderErrors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"missing marker", []byte("18\x00\x0a")},
		{"zero digit count", []byte("#0")},
		{"non-digit count", []byte("#x12")},
		{"non-numeric length field", []byte("#3 12")},
		{"odd declared length", []byte{'#', '1', '3', 0x00, 0x0A, 0x00}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := readCurveBlock(context.Background(), &byteFeed{data: tc.data})
			if driver.KindOf(err) != driver.KindProtocol {
				t.Errorf("err = %v, want protocol error", err)
			}
		})
	}
}

func TestReadCurveBlockTruncatedPayload(t *testing.T) {
	// The line goes quiet before the declared byte count arrives.
	feed := &byteFeed{data: []byte{'#', '1', '4', 0x00, 0x0A}}

	_, err := readCurveBlock(context.Background(), feed)
	if !driver.IsTimeout(err) {
		t.Errorf("err = %v, want timeout", err)
	}
}
