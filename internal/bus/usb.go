// internal/bus/usb.go
package bus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// USBBus implements Bus over USB bulk endpoints for instruments attached
// directly, e.g. bench meters with a USB device port.
type USBBus struct {
	settings *USBSettings
	ctx      *gousb.Context
	device   *gousb.Device
	intf     *gousb.Interface
	intfDone func()
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint
	reader   responseReader
	logger   *zap.Logger
	mutex    sync.Mutex
	timeout  time.Duration
	isOpen   bool
	stats    *Stats
}

// NewUSBBus creates a new USB bus
func NewUSBBus(settings *USBSettings, logger *zap.Logger) Bus {
	ub := &USBBus{
		settings: settings,
		timeout:  settings.Timeout,
		logger: logger.With(
			zap.String("bus", "usb"),
			zap.String("vendor_id", settings.VendorID),
			zap.String("product_id", settings.ProductID),
		),
		stats: &Stats{
			IsConnected: false,
		},
	}
	ub.reader.read = ub.readChunk
	return ub
}

// Open opens the USB connection
func (ub *USBBus) Open(ctx context.Context) error {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()

	if ub.isOpen {
		return nil
	}

	ub.logger.Info("Opening USB connection",
		zap.String("vendor_id", ub.settings.VendorID),
		zap.String("product_id", ub.settings.ProductID),
	)

	vendorID, err := parseHexID(ub.settings.VendorID)
	if err != nil {
		return driver.Errorf(driver.KindTransport, "bus.usb.open", "invalid vendor ID: %v", err)
	}
	productID, err := parseHexID(ub.settings.ProductID)
	if err != nil {
		return driver.Errorf(driver.KindTransport, "bus.usb.open", "invalid product ID: %v", err)
	}

	ub.ctx = gousb.NewContext()

	device, err := ub.ctx.OpenDeviceWithVIDPID(vendorID, productID)
	if err != nil {
		ub.ctx.Close()
		ub.ctx = nil
		return classify("bus.usb.open", fmt.Errorf("failed to open USB device: %w", err))
	}
	if device == nil {
		ub.ctx.Close()
		ub.ctx = nil
		return driver.Errorf(driver.KindTransport, "bus.usb.open",
			"USB device not found (VID: %04X, PID: %04X)", uint16(vendorID), uint16(productID))
	}

	intf, done, err := device.DefaultInterface()
	if err != nil {
		device.Close()
		ub.ctx.Close()
		ub.ctx = nil
		return classify("bus.usb.open", fmt.Errorf("failed to claim interface: %w", err))
	}

	outEndpt, err := intf.OutEndpoint(ub.settings.Endpoint)
	if err != nil {
		done()
		device.Close()
		ub.ctx.Close()
		ub.ctx = nil
		return classify("bus.usb.open", fmt.Errorf("failed to get out endpoint: %w", err))
	}

	inEndpt, err := intf.InEndpoint(ub.settings.Endpoint)
	if err != nil {
		done()
		device.Close()
		ub.ctx.Close()
		ub.ctx = nil
		return classify("bus.usb.open", fmt.Errorf("failed to get in endpoint: %w", err))
	}

	ub.device = device
	ub.intf = intf
	ub.intfDone = done
	ub.outEndpt = outEndpt
	ub.inEndpt = inEndpt
	ub.reader.discard()
	ub.isOpen = true
	ub.stats.IsConnected = true
	ub.stats.LastActivity = time.Now()

	ub.logger.Info("USB connection opened successfully")
	return nil
}

// Close closes the USB connection
func (ub *USBBus) Close() error {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()

	if !ub.isOpen {
		return nil
	}

	if ub.intfDone != nil {
		ub.intfDone()
		ub.intfDone = nil
	}
	ub.intf = nil

	if ub.device != nil {
		ub.device.Close()
		ub.device = nil
	}

	if ub.ctx != nil {
		ub.ctx.Close()
		ub.ctx = nil
	}

	ub.outEndpt = nil
	ub.inEndpt = nil
	ub.isOpen = false
	ub.stats.IsConnected = false

	ub.logger.Info("USB connection closed")
	return nil
}

// IsOpen returns whether the bus is open
func (ub *USBBus) IsOpen() bool {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()
	return ub.isOpen && ub.device != nil && ub.outEndpt != nil
}

// WriteString sends one terminated command
func (ub *USBBus) WriteString(ctx context.Context, cmd string) error {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()

	if !ub.isOpen || ub.outEndpt == nil {
		return driver.Errorf(driver.KindTransport, "bus.usb.write", "USB connection not open")
	}

	select {
	case <-ctx.Done():
		return classify("bus.usb.write", ctx.Err())
	default:
	}

	data := []byte(cmd + writeTerminator)
	n, err := ub.outEndpt.WriteContext(ctx, data)
	if err != nil {
		ub.stats.ErrorCount++
		ub.logger.Error("USB write failed", zap.Error(err))
		return classify("bus.usb.write", err)
	}
	if n != len(data) {
		return driver.Errorf(driver.KindTransport, "bus.usb.write",
			"incomplete write: wrote %d of %d bytes", n, len(data))
	}

	ub.stats.BytesWritten += int64(len(data))
	ub.stats.OperationCount++
	ub.stats.LastActivity = time.Now()

	ub.logger.Debug("USB write completed", zap.String("command", cmd))
	return nil
}

// ReadLine reads one terminated line
func (ub *USBBus) ReadLine(ctx context.Context) (string, error) {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()
	line, err := ub.reader.readLine(ctx)
	if err != nil {
		ub.stats.ErrorCount++
		return "", err
	}
	ub.touch(len(line))
	return line, nil
}

// ReadBytes reads exactly n raw bytes
func (ub *USBBus) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()
	data, err := ub.reader.readBytes(ctx, n)
	if err != nil {
		ub.stats.ErrorCount++
		return nil, err
	}
	ub.touch(len(data))
	return data, nil
}

// ReadRaw drains the full pending response
func (ub *USBBus) ReadRaw(ctx context.Context) ([]byte, error) {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()
	data, err := ub.reader.readRaw(ctx)
	if err != nil {
		ub.stats.ErrorCount++
		return nil, err
	}
	ub.touch(len(data))
	return data, nil
}

// SetTimeout changes the per-attempt read timeout
func (ub *USBBus) SetTimeout(d time.Duration) {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()
	ub.timeout = d
}

// Timeout returns the current per-attempt read timeout
func (ub *USBBus) Timeout() time.Duration {
	ub.mutex.Lock()
	defer ub.mutex.Unlock()
	return ub.timeout
}

// ConnectionType returns the bus type
func (ub *USBBus) ConnectionType() model.ConnectionType {
	return model.ConnectionTypeUSB
}

// Ping tests the connection
func (ub *USBBus) Ping(ctx context.Context) error {
	if !ub.IsOpen() {
		return driver.Errorf(driver.KindTransport, "bus.usb.ping", "USB connection not open")
	}
	return nil
}

// readChunk performs one bounded bulk-in read attempt
func (ub *USBBus) readChunk(ctx context.Context) ([]byte, error) {
	if !ub.isOpen || ub.inEndpt == nil {
		return nil, driver.Errorf(driver.KindTransport, "bus.usb.read", "USB connection not open")
	}

	readCtx, cancel := context.WithTimeout(ctx, ub.timeout)
	defer cancel()

	buf := make([]byte, 4096)
	n, err := ub.inEndpt.ReadContext(readCtx, buf)
	if err != nil {
		return nil, classify("bus.usb.read", err)
	}
	return buf[:n], nil
}

func (ub *USBBus) touch(n int) {
	ub.stats.BytesRead += int64(n)
	ub.stats.OperationCount++
	ub.stats.LastActivity = time.Now()
}

// parseHexID parses a hex ID string (0x1234 or 1234)
func parseHexID(hexStr string) (gousb.ID, error) {
	if len(hexStr) > 2 && hexStr[:2] == "0x" {
		hexStr = hexStr[2:]
	}
	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}
	return gousb.ID(id), nil
}
