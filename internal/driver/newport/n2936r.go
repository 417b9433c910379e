// internal/driver/newport/n2936r.go
package newport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/bus"
	"instrument-service/internal/model"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// 2936-R timing. The meter drops characters when commands arrive
// back-to-back, so every write is preceded by a settle delay, and replies
// are polled one byte at a time.
const (
	defaultInterCommandDelay = 10 * time.Millisecond
	defaultReadDeadline      = 5 * time.Second
)

// Units codes accepted by `pm:units`.
var n2936rUnitsCodes = map[string]int{
	"amps":       0,
	"volts":      1,
	"watts":      2,
	"watts_cm2":  3,
	"joules":     4,
	"joules_cm2": 5,
	"dbm":        6,
}

var n2936rUnitsNames = map[int]string{
	0: "amps",
	1: "volts",
	2: "watts",
	3: "watts_cm2",
	4: "joules",
	5: "joules_cm2",
	6: "dbm",
}

// Analog filter codes accepted by `pm:analogfilter`.
var n2936rAnalogFilters = map[string]int{
	"none":    0,
	"250khz":  1,
	"12.5khz": 2,
	"1khz":    3,
	"5hz":     4,
}

// N2936RDriver implements driver.PowerMeterDriver for the Newport 2936-R
// dual-channel optical power meter. Each per-channel operation reselects its
// channel with `pm:channel` before the command proper, so the meter's
// session state never goes stale between calls.
type N2936RDriver struct {
	meterBase

	delay        time.Duration
	readDeadline time.Duration
	channel      int
}

// New2936RDriver creates a new 2936-R power meter driver
func New2936RDriver(instrument *model.Instrument, b bus.Bus, logger *zap.Logger) (driver.InstrumentDriver, error) {
	instrumentLogger := utils.NewInstrumentLogger(logger, instrument.InstrumentID,
		string(instrument.InstrumentType), string(instrument.Brand))

	d := &N2936RDriver{
		meterBase: meterBase{
			instrumentID: instrument.InstrumentID,
			bus:          b,
			logger:       instrumentLogger,
			healthMetrics: &driver.HealthMetrics{
				HealthScore: 0,
			},
			instrumentInfo: &driver.InstrumentInfo{
				Brand:          instrument.Brand,
				Model:          "2936-R",
				ConnectionType: instrument.ConnectionType,
				Capabilities:   n2936rCapabilities(),
				Manufacturer:   "Newport Corporation",
			},
		},
		delay:        defaultInterCommandDelay,
		readDeadline: defaultReadDeadline,
		channel:      1,
	}

	if timeout, ok := instrument.ConnectionConfig["read_deadline"].(string); ok {
		if dur, err := time.ParseDuration(timeout); err == nil {
			d.readDeadline = dur
		}
	}

	return d, nil
}

func n2936rCapabilities() []model.Capability {
	return []model.Capability{
		model.CapabilityPowerReading,
		model.CapabilityRangeControl,
		model.CapabilityMultiChannel,
		model.CapabilityStatus,
	}
}

// Connect establishes connection to the meter and puts both channels into
// watts mode, starting from a drained input buffer.
func (d *N2936RDriver) Connect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.isConnected {
		return nil
	}

	startTime := time.Now()

	if err := d.openBus(ctx); err != nil {
		d.updateHealthMetrics(false, time.Since(startTime))
		return err
	}

	if err := d.initializeLocked(ctx); err != nil {
		d.closeBus()
		d.updateHealthMetrics(false, time.Since(startTime))
		return fmt.Errorf("failed to initialize meter: %w", err)
	}

	d.updateHealthMetrics(true, time.Since(startTime))
	d.notifyEvent("connected", nil)

	d.logger.Info("Newport 2936-R connected",
		zap.String("connection_type", string(d.bus.ConnectionType())),
	)
	return nil
}

func (d *N2936RDriver) initializeLocked(ctx context.Context) error {
	if err := d.flushReadLocked(ctx); err != nil {
		return err
	}
	for _, ch := range []int{1, 2} {
		if err := d.selectChannel(ctx, ch); err != nil {
			return err
		}
		if err := d.write(ctx, "pm:units "+strconv.Itoa(n2936rUnitsCodes["watts"])); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect closes connection to the meter
func (d *N2936RDriver) Disconnect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return nil
	}

	if err := d.closeBus(); err != nil {
		d.logger.Error("Failed to close bus", zap.Error(err))
	}
	d.notifyEvent("disconnected", "manual disconnect")

	d.logger.Info("Newport 2936-R disconnected")
	return nil
}

// Ping tests instrument connectivity with a power query on the selected
// channel.
func (d *N2936RDriver) Ping(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return driver.Errorf(driver.KindTransport, "newport.2936r.ping", "instrument not connected")
	}

	startTime := time.Now()
	_, err := d.powerLocked(ctx, d.channel)
	d.updateHealthMetrics(err == nil, time.Since(startTime))
	if err != nil {
		return err
	}

	d.lastPing = time.Now()
	return nil
}

// Close cleans up resources
func (d *N2936RDriver) Close() error {
	return d.Disconnect(context.Background())
}

// SetChannel selects the channel used by the channel-less interface
// methods. Valid channels are 1 and 2.
func (d *N2936RDriver) SetChannel(channel int) error {
	if err := validChannel(channel); err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.channel = channel
	return nil
}

// Channel returns the currently selected channel.
func (d *N2936RDriver) Channel() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.channel
}

// Power returns the current reading of the selected channel in watts.
func (d *N2936RDriver) Power(ctx context.Context) (model.Quantity, error) {
	return d.PowerChannel(ctx, d.Channel())
}

// PowerChannel returns the current reading of the given channel in watts.
func (d *N2936RDriver) PowerChannel(ctx context.Context, channel int) (model.Quantity, error) {
	if err := validChannel(channel); err != nil {
		return model.Quantity{}, err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	startTime := time.Now()
	value, err := d.powerLocked(ctx, channel)
	d.updateHealthMetrics(err == nil, time.Since(startTime))
	if err != nil {
		return model.Quantity{}, err
	}
	return model.Quantity{Value: value, Unit: "W"}, nil
}

func (d *N2936RDriver) powerLocked(ctx context.Context, channel int) (float64, error) {
	if err := d.selectChannel(ctx, channel); err != nil {
		return 0, err
	}
	line, err := d.query(ctx, "pm:power?")
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, driver.Errorf(driver.KindProtocol, "newport.2936r.power",
			"expected numeric reply to pm:power?, got %q", line)
	}
	return value, nil
}

// SetUnits sets the measurement units of the selected channel. Accepted
// values: amps, volts, watts, watts_cm2, joules, joules_cm2, dbm.
func (d *N2936RDriver) SetUnits(ctx context.Context, units string) error {
	return d.SetUnitsChannel(ctx, units, d.Channel())
}

// SetUnitsChannel sets the measurement units of the given channel.
func (d *N2936RDriver) SetUnitsChannel(ctx context.Context, units string, channel int) error {
	code, ok := n2936rUnitsCodes[strings.ToLower(units)]
	if !ok {
		return driver.Errorf(driver.KindInvalidArgument, "newport.2936r.units",
			"invalid units %q", units)
	}
	if err := validChannel(channel); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.selectChannel(ctx, channel); err != nil {
		return err
	}
	return d.write(ctx, "pm:units "+strconv.Itoa(code))
}

// GetUnits returns the measurement units of the selected channel.
func (d *N2936RDriver) GetUnits(ctx context.Context) (driver.PowerUnits, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.selectChannel(ctx, d.channel); err != nil {
		return "", err
	}
	line, err := d.query(ctx, "pm:units?")
	if err != nil {
		return "", err
	}
	code, err := strconv.Atoi(line)
	if err != nil {
		return "", driver.Errorf(driver.KindProtocol, "newport.2936r.units",
			"expected integer reply to pm:units?, got %q", line)
	}
	name, ok := n2936rUnitsNames[code]
	if !ok {
		return "", driver.Errorf(driver.KindProtocol, "newport.2936r.units",
			"unknown units code: %d", code)
	}
	return driver.PowerUnits(name), nil
}

// SetAnalogFilter sets the analog filter mode of the given channel.
// Accepted modes: none, 250khz, 12.5khz, 1khz, 5hz.
func (d *N2936RDriver) SetAnalogFilter(ctx context.Context, mode string, channel int) error {
	code, ok := n2936rAnalogFilters[strings.ToLower(mode)]
	if !ok {
		return driver.Errorf(driver.KindInvalidArgument, "newport.2936r.analogfilter",
			"invalid analog filter mode %q", mode)
	}
	if err := validChannel(channel); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.selectChannel(ctx, channel); err != nil {
		return err
	}
	return d.write(ctx, "pm:analogfilter "+strconv.Itoa(code))
}

// SetDigitalFilter sets the digital filter length of the given channel,
// 0 to 10000.
func (d *N2936RDriver) SetDigitalFilter(ctx context.Context, num int, channel int) error {
	if num < 0 || num > 10000 {
		return driver.Errorf(driver.KindInvalidArgument, "newport.2936r.digitalfilter",
			"digital filter must be 0-10000, got %d", num)
	}
	if err := validChannel(channel); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.selectChannel(ctx, channel); err != nil {
		return err
	}
	return d.write(ctx, "pm:digitalfilter "+strconv.Itoa(num))
}

// SetAutoRanging turns auto-ranging on or off for the given channel.
func (d *N2936RDriver) SetAutoRanging(ctx context.Context, auto bool, channel int) error {
	if err := validChannel(channel); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.selectChannel(ctx, channel); err != nil {
		return err
	}
	return d.write(ctx, "pm:auto "+strconv.Itoa(boolCode(auto)))
}

// SetRange sets the power range of the selected channel, 0 to 7.
func (d *N2936RDriver) SetRange(ctx context.Context, value int) error {
	return d.SetRangeChannel(ctx, value, d.Channel())
}

// SetRangeChannel sets the power range of the given channel, 0 to 7.
func (d *N2936RDriver) SetRangeChannel(ctx context.Context, value int, channel int) error {
	if value < 0 || value > 7 {
		return driver.Errorf(driver.KindInvalidArgument, "newport.2936r.range",
			"range must be 0-7, got %d", value)
	}
	if err := validChannel(channel); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.selectChannel(ctx, channel); err != nil {
		return err
	}
	return d.write(ctx, "pm:range "+strconv.Itoa(value))
}

// GetRange returns the power range setting of the selected channel.
func (d *N2936RDriver) GetRange(ctx context.Context) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.selectChannel(ctx, d.channel); err != nil {
		return 0, err
	}
	line, err := d.query(ctx, "pm:range?")
	if err != nil {
		return 0, err
	}
	val, err := strconv.Atoi(line)
	if err != nil {
		return 0, driver.Errorf(driver.KindProtocol, "newport.2936r.range",
			"expected integer reply to pm:range?, got %q", line)
	}
	return val, nil
}

// GetWavelength is not available on the 2936-R.
func (d *N2936RDriver) GetWavelength(ctx context.Context) (model.Quantity, error) {
	return model.Quantity{}, driver.Errorf(driver.KindUnsupported, "newport.2936r.wavelength",
		"wavelength readback is not supported on the 2936-R")
}

// SetWavelength is not available on the 2936-R.
func (d *N2936RDriver) SetWavelength(ctx context.Context, nm int) error {
	return driver.Errorf(driver.KindUnsupported, "newport.2936r.wavelength",
		"wavelength control is not supported on the 2936-R")
}

// IsMeasurementValid is not available on the 2936-R; the meter has no
// status byte register.
func (d *N2936RDriver) IsMeasurementValid(ctx context.Context) (bool, error) {
	return false, driver.Errorf(driver.KindUnsupported, "newport.2936r.status",
		"measurement validity is not reported by the 2936-R")
}

// EnableZero is not available on the 2936-R.
func (d *N2936RDriver) EnableZero(ctx context.Context) error {
	return driver.Errorf(driver.KindUnsupported, "newport.2936r.zero",
		"zero function is not supported on the 2936-R")
}

// DisableZero is not available on the 2936-R.
func (d *N2936RDriver) DisableZero(ctx context.Context) error {
	return driver.Errorf(driver.KindUnsupported, "newport.2936r.zero",
		"zero function is not supported on the 2936-R")
}

// ZeroEnabled is not available on the 2936-R.
func (d *N2936RDriver) ZeroEnabled(ctx context.Context) (bool, error) {
	return false, driver.Errorf(driver.KindUnsupported, "newport.2936r.zero",
		"zero function is not supported on the 2936-R")
}

// FlushRead drains any stale bytes from the meter. A read timeout is the
// normal exit, not a failure.
func (d *N2936RDriver) FlushRead(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.flushReadLocked(ctx)
}

func (d *N2936RDriver) flushReadLocked(ctx context.Context) error {
	for {
		if err := d.settle(ctx); err != nil {
			return err
		}
		if _, err := d.bus.ReadBytes(ctx, 1); err != nil {
			if driver.IsTimeout(err) {
				return nil
			}
			return err
		}
	}
}

// I/O helpers

func validChannel(channel int) error {
	if channel != 1 && channel != 2 {
		return driver.Errorf(driver.KindInvalidArgument, "newport.2936r.channel",
			"channel must be 1 or 2, got %d", channel)
	}
	return nil
}

// selectChannel routes the following command to the given channel.
func (d *N2936RDriver) selectChannel(ctx context.Context, channel int) error {
	return d.write(ctx, "pm:channel "+strconv.Itoa(channel))
}

// write sends one command after the settle delay.
func (d *N2936RDriver) write(ctx context.Context, cmd string) error {
	if err := d.settle(ctx); err != nil {
		return err
	}
	return d.bus.WriteString(ctx, cmd)
}

// readLine assembles one reply line out of single-byte polls. Per-attempt
// timeouts are retried with the settle delay in between; the whole read is
// bounded by the driver's read deadline.
func (d *N2936RDriver) readLine(ctx context.Context) (string, error) {
	deadline := time.Now().Add(d.readDeadline)
	var line []byte
	for {
		if time.Now().After(deadline) {
			return "", driver.Errorf(driver.KindTimeout, "newport.2936r.read",
				"no complete reply within %s", d.readDeadline)
		}
		if err := d.settle(ctx); err != nil {
			return "", err
		}
		b, err := d.bus.ReadBytes(ctx, 1)
		if err != nil {
			if driver.IsTimeout(err) {
				continue
			}
			return "", err
		}
		if b[0] == '\n' {
			return strings.Trim(string(line), "\r\n"), nil
		}
		line = append(line, b[0])
	}
}

// query sends one command and reads the reply line.
func (d *N2936RDriver) query(ctx context.Context, cmd string) (string, error) {
	if err := d.write(ctx, cmd); err != nil {
		return "", err
	}
	return d.readLine(ctx)
}

// settle waits the inter-command delay.
func (d *N2936RDriver) settle(ctx context.Context) error {
	select {
	case <-time.After(d.delay):
		return nil
	case <-ctx.Done():
		return driver.NewError(driver.KindTimeout, "newport.2936r.settle", ctx.Err())
	}
}
