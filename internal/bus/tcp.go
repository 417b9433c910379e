// internal/bus/tcp.go
package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// TCPBus implements Bus over a TCP socket, e.g. a LAN-attached scope or an
// instrument gateway.
type TCPBus struct {
	settings *TCPSettings
	conn     net.Conn
	reader   responseReader
	logger   *zap.Logger
	mutex    sync.Mutex
	timeout  time.Duration
	isOpen   bool
	stats    *Stats
}

// NewTCPBus creates a new TCP bus
func NewTCPBus(settings *TCPSettings, logger *zap.Logger) Bus {
	tb := &TCPBus{
		settings: settings,
		timeout:  settings.Timeout,
		logger: logger.With(
			zap.String("bus", "tcp"),
			zap.String("host", settings.Host),
			zap.Int("port", settings.Port),
		),
		stats: &Stats{
			IsConnected: false,
		},
	}
	tb.reader.read = tb.readChunk
	return tb
}

// Open opens the TCP connection
func (tb *TCPBus) Open(ctx context.Context) error {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	if tb.isOpen {
		return nil
	}

	address := fmt.Sprintf("%s:%d", tb.settings.Host, tb.settings.Port)
	tb.logger.Info("Opening TCP connection", zap.String("address", address))

	dialer := &net.Dialer{
		Timeout:   tb.timeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		tb.logger.Error("Failed to open TCP connection", zap.Error(err))
		return classify("bus.tcp.open", fmt.Errorf("failed to connect to %s: %w", address, err))
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	tb.conn = conn
	tb.reader.discard()
	tb.isOpen = true
	tb.stats.IsConnected = true
	tb.stats.LastActivity = time.Now()

	tb.logger.Info("TCP connection opened successfully")
	return nil
}

// Close closes the TCP connection
func (tb *TCPBus) Close() error {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	if !tb.isOpen || tb.conn == nil {
		return nil
	}

	if err := tb.conn.Close(); err != nil {
		tb.logger.Error("Failed to close TCP connection", zap.Error(err))
		return classify("bus.tcp.close", err)
	}

	tb.conn = nil
	tb.isOpen = false
	tb.stats.IsConnected = false

	tb.logger.Info("TCP connection closed")
	return nil
}

// IsOpen returns whether the bus is open
func (tb *TCPBus) IsOpen() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return tb.isOpen && tb.conn != nil
}

// WriteString sends one terminated command
func (tb *TCPBus) WriteString(ctx context.Context, cmd string) error {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	if !tb.isOpen || tb.conn == nil {
		return driver.Errorf(driver.KindTransport, "bus.tcp.write", "TCP connection not open")
	}

	select {
	case <-ctx.Done():
		return classify("bus.tcp.write", ctx.Err())
	default:
	}

	tb.conn.SetWriteDeadline(time.Now().Add(tb.timeout))

	data := []byte(cmd + writeTerminator)
	n, err := tb.conn.Write(data)
	if err != nil {
		tb.stats.ErrorCount++
		tb.logger.Error("TCP write failed", zap.Error(err))
		return classify("bus.tcp.write", err)
	}
	if n != len(data) {
		return driver.Errorf(driver.KindTransport, "bus.tcp.write",
			"incomplete write: wrote %d of %d bytes", n, len(data))
	}

	tb.stats.BytesWritten += int64(len(data))
	tb.stats.OperationCount++
	tb.stats.LastActivity = time.Now()

	tb.logger.Debug("TCP write completed", zap.String("command", cmd))
	return nil
}

// ReadLine reads one terminated line
func (tb *TCPBus) ReadLine(ctx context.Context) (string, error) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	line, err := tb.reader.readLine(ctx)
	if err != nil {
		tb.stats.ErrorCount++
		return "", err
	}
	tb.touch(len(line))
	return line, nil
}

// ReadBytes reads exactly n raw bytes
func (tb *TCPBus) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	data, err := tb.reader.readBytes(ctx, n)
	if err != nil {
		tb.stats.ErrorCount++
		return nil, err
	}
	tb.touch(len(data))
	return data, nil
}

// ReadRaw drains the full pending response
func (tb *TCPBus) ReadRaw(ctx context.Context) ([]byte, error) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	data, err := tb.reader.readRaw(ctx)
	if err != nil {
		tb.stats.ErrorCount++
		return nil, err
	}
	tb.touch(len(data))
	return data, nil
}

// SetTimeout changes the per-attempt read timeout
func (tb *TCPBus) SetTimeout(d time.Duration) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	tb.timeout = d
}

// Timeout returns the current per-attempt read timeout
func (tb *TCPBus) Timeout() time.Duration {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return tb.timeout
}

// ConnectionType returns the bus type
func (tb *TCPBus) ConnectionType() model.ConnectionType {
	return model.ConnectionTypeTCP
}

// Ping tests the connection
func (tb *TCPBus) Ping(ctx context.Context) error {
	if !tb.IsOpen() {
		return driver.Errorf(driver.KindTransport, "bus.tcp.ping", "TCP connection not open")
	}
	return nil
}

// readChunk performs one deadline-bounded read attempt
func (tb *TCPBus) readChunk(ctx context.Context) ([]byte, error) {
	if !tb.isOpen || tb.conn == nil {
		return nil, driver.Errorf(driver.KindTransport, "bus.tcp.read", "TCP connection not open")
	}

	select {
	case <-ctx.Done():
		return nil, classify("bus.tcp.read", ctx.Err())
	default:
	}

	deadline := time.Now().Add(tb.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	tb.conn.SetReadDeadline(deadline)

	buf := make([]byte, 4096)
	n, err := tb.conn.Read(buf)
	if err != nil {
		return nil, classify("bus.tcp.read", err)
	}
	return buf[:n], nil
}

func (tb *TCPBus) touch(n int) {
	tb.stats.BytesRead += int64(n)
	tb.stats.OperationCount++
	tb.stats.LastActivity = time.Now()
}
