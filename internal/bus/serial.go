// internal/bus/serial.go
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// SerialBus implements Bus over a serial port
type SerialBus struct {
	settings *SerialSettings
	port     serial.Port
	reader   responseReader
	logger   *zap.Logger
	mutex    sync.Mutex
	timeout  time.Duration
	isOpen   bool
	stats    *Stats
}

// NewSerialBus creates a new serial bus
func NewSerialBus(settings *SerialSettings, logger *zap.Logger) Bus {
	sb := &SerialBus{
		settings: settings,
		timeout:  settings.Timeout,
		logger: logger.With(
			zap.String("bus", "serial"),
			zap.String("port", settings.Port),
		),
		stats: &Stats{
			IsConnected: false,
		},
	}
	sb.reader.read = sb.readChunk
	return sb
}

// Open opens the serial port
func (sb *SerialBus) Open(ctx context.Context) error {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	if sb.isOpen {
		return nil
	}

	sb.logger.Info("Opening serial port",
		zap.String("port", sb.settings.Port),
		zap.Int("baud_rate", sb.settings.BaudRate),
	)

	mode := &serial.Mode{
		BaudRate: sb.settings.BaudRate,
		DataBits: sb.settings.DataBits,
		StopBits: serial.StopBits(sb.settings.StopBits),
	}

	switch sb.settings.Parity {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		mode.Parity = serial.NoParity
	}

	port, err := serial.Open(sb.settings.Port, mode)
	if err != nil {
		sb.logger.Error("Failed to open serial port", zap.Error(err))
		return classify("bus.serial.open", fmt.Errorf("failed to open serial port: %w", err))
	}

	if err := port.SetReadTimeout(sb.timeout); err != nil {
		port.Close()
		return classify("bus.serial.open", fmt.Errorf("failed to set read timeout: %w", err))
	}

	sb.port = port
	sb.reader.discard()
	sb.isOpen = true
	sb.stats.IsConnected = true
	sb.stats.LastActivity = time.Now()

	sb.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial port
func (sb *SerialBus) Close() error {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	if !sb.isOpen || sb.port == nil {
		return nil
	}

	if err := sb.port.Close(); err != nil {
		sb.logger.Error("Failed to close serial port", zap.Error(err))
		return classify("bus.serial.close", err)
	}

	sb.port = nil
	sb.isOpen = false
	sb.stats.IsConnected = false

	sb.logger.Info("Serial port closed")
	return nil
}

// IsOpen returns whether the bus is open
func (sb *SerialBus) IsOpen() bool {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	return sb.isOpen && sb.port != nil
}

// WriteString sends one terminated command
func (sb *SerialBus) WriteString(ctx context.Context, cmd string) error {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	if !sb.isOpen || sb.port == nil {
		return driver.Errorf(driver.KindTransport, "bus.serial.write", "serial port not open")
	}

	select {
	case <-ctx.Done():
		return classify("bus.serial.write", ctx.Err())
	default:
	}

	data := []byte(cmd + writeTerminator)
	n, err := sb.port.Write(data)
	if err != nil {
		sb.stats.ErrorCount++
		sb.logger.Error("Serial write failed", zap.Error(err))
		return classify("bus.serial.write", err)
	}
	if n != len(data) {
		return driver.Errorf(driver.KindTransport, "bus.serial.write",
			"incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sb.stats.BytesWritten += int64(len(data))
	sb.stats.OperationCount++
	sb.stats.LastActivity = time.Now()

	sb.logger.Debug("Serial write completed", zap.String("command", cmd))
	return nil
}

// ReadLine reads one terminated line
func (sb *SerialBus) ReadLine(ctx context.Context) (string, error) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	line, err := sb.reader.readLine(ctx)
	if err != nil {
		sb.stats.ErrorCount++
		return "", err
	}
	sb.touch(len(line))
	return line, nil
}

// ReadBytes reads exactly n raw bytes
func (sb *SerialBus) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	data, err := sb.reader.readBytes(ctx, n)
	if err != nil {
		sb.stats.ErrorCount++
		return nil, err
	}
	sb.touch(len(data))
	return data, nil
}

// ReadRaw drains the full pending response
func (sb *SerialBus) ReadRaw(ctx context.Context) ([]byte, error) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	data, err := sb.reader.readRaw(ctx)
	if err != nil {
		sb.stats.ErrorCount++
		return nil, err
	}
	sb.touch(len(data))
	return data, nil
}

// SetTimeout changes the per-attempt read timeout
func (sb *SerialBus) SetTimeout(d time.Duration) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	sb.timeout = d
	if sb.port != nil {
		sb.port.SetReadTimeout(d)
	}
}

// Timeout returns the current per-attempt read timeout
func (sb *SerialBus) Timeout() time.Duration {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()
	return sb.timeout
}

// ConnectionType returns the bus type
func (sb *SerialBus) ConnectionType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

// Ping tests the connection by asserting the port is usable
func (sb *SerialBus) Ping(ctx context.Context) error {
	if !sb.IsOpen() {
		return driver.Errorf(driver.KindTransport, "bus.serial.ping", "serial port not open")
	}
	return nil
}

// readChunk performs one bounded read attempt. go.bug.st/serial reports a
// read timeout as a zero-byte read with nil error.
func (sb *SerialBus) readChunk(ctx context.Context) ([]byte, error) {
	if !sb.isOpen || sb.port == nil {
		return nil, driver.Errorf(driver.KindTransport, "bus.serial.read", "serial port not open")
	}

	select {
	case <-ctx.Done():
		return nil, classify("bus.serial.read", ctx.Err())
	default:
	}

	buf := make([]byte, 4096)
	n, err := sb.port.Read(buf)
	if err != nil {
		return nil, classify("bus.serial.read", err)
	}
	if n == 0 {
		return nil, driver.Errorf(driver.KindTimeout, "bus.serial.read",
			"no data within %s", sb.timeout)
	}
	return buf[:n], nil
}

func (sb *SerialBus) touch(n int) {
	sb.stats.BytesRead += int64(n)
	sb.stats.OperationCount++
	sb.stats.LastActivity = time.Now()
}
