// internal/bus/bus.go
package bus

import (
	"context"
	"time"

	"instrument-service/internal/model"
)

// Terminator conventions for message-based instruments. Commands go out
// with a trailing newline; responses are newline-terminated lines or
// self-describing binary blocks.
const (
	writeTerminator = "\n"
	lineTerminator  = '\n'
)

// Bus is the byte-oriented duplex channel to one instrument. Drivers borrow
// it for the duration of a call; they never own it. Implementations are safe
// for sequential use only — command sequencing is the driver's contract with
// the device, so callers must not interleave operations.
type Bus interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// WriteString sends one terminated command string.
	WriteString(ctx context.Context, cmd string) error

	// ReadLine reads one terminated line, with the terminator stripped.
	ReadLine(ctx context.Context) (string, error)

	// ReadBytes reads exactly n raw bytes.
	ReadBytes(ctx context.Context, n int) ([]byte, error)

	// ReadRaw drains the full pending response; the response is complete
	// once the transport goes quiet, so embedded terminator bytes are safe.
	ReadRaw(ctx context.Context) ([]byte, error)

	// SetTimeout changes the per-attempt read timeout for the session.
	SetTimeout(d time.Duration)
	Timeout() time.Duration

	// Bus information
	ConnectionType() model.ConnectionType

	// Health and diagnostics
	Ping(ctx context.Context) error
}

// Stats provides bus-level statistics
type Stats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	IsConnected    bool          `json:"is_connected"`
}

// SerialSettings represents serial bus configuration
type SerialSettings struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	Timeout  time.Duration `json:"timeout"`
}

// USBSettings represents USB bus configuration
type USBSettings struct {
	VendorID  string        `json:"vendor_id"`
	ProductID string        `json:"product_id"`
	Endpoint  int           `json:"endpoint"`
	Timeout   time.Duration `json:"timeout"`
}

// TCPSettings represents TCP bus configuration
type TCPSettings struct {
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Timeout time.Duration `json:"timeout"`
}
