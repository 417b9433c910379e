// internal/driver/newport/n1830c.go
package newport

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/bus"
	"instrument-service/internal/model"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// Status byte codes of the 1830-C
const (
	statusParamError     = 1
	statusCommandError   = 2
	statusSaturated      = 4
	statusOutOfRange     = 8
	statusMsgAvailable   = 16
	statusBusy           = 32
	statusServiceRequest = 64
	statusReadyReading   = 128
)

// Display-units codes, used for both set and get.
var unitsCodes = map[driver.PowerUnits]int{
	driver.PowerUnitsWatts: 1,
	driver.PowerUnitsDBM:   2,
	driver.PowerUnitsDB:    3,
	driver.PowerUnitsREL:   4,
}

var unitsNames = map[int]driver.PowerUnits{
	1: driver.PowerUnitsWatts,
	2: driver.PowerUnitsDBM,
	3: driver.PowerUnitsDB,
	4: driver.PowerUnitsREL,
}

// N1830CDriver implements driver.PowerMeterDriver for the Newport 1830-C
// single-channel optical power meter.
type N1830CDriver struct {
	meterBase

	statusByte facet
	rangeFacet facet
	wavelength facet
	attenuator facet
	zero       facet
	units      facet
}

// New1830CDriver creates a new 1830-C power meter driver
func New1830CDriver(instrument *model.Instrument, b bus.Bus, logger *zap.Logger) (driver.InstrumentDriver, error) {
	instrumentLogger := utils.NewInstrumentLogger(logger, instrument.InstrumentID,
		string(instrument.InstrumentType), string(instrument.Brand))

	d := &N1830CDriver{
		meterBase: meterBase{
			instrumentID: instrument.InstrumentID,
			bus:          b,
			logger:       instrumentLogger,
			healthMetrics: &driver.HealthMetrics{
				HealthScore: 0,
			},
			instrumentInfo: &driver.InstrumentInfo{
				Brand:          instrument.Brand,
				Model:          "1830-C",
				ConnectionType: instrument.ConnectionType,
				Capabilities:   n1830cCapabilities(),
				Manufacturer:   "Newport Corporation",
			},
		},
		statusByte: facet{name: "status_byte", cmd: "Q", readOnly: true},
		rangeFacet: facet{name: "range", cmd: "R"},
		wavelength: facet{name: "wavelength", cmd: "W"},
		attenuator: facet{name: "attenuator", cmd: "A"},
		zero:       facet{name: "zero", cmd: "Z"},
		units:      facet{name: "units", cmd: "U"},
	}

	return d, nil
}

func n1830cCapabilities() []model.Capability {
	return []model.Capability{
		model.CapabilityPowerReading,
		model.CapabilityRangeControl,
		model.CapabilityWavelength,
		model.CapabilityZeroOffset,
		model.CapabilityStatus,
	}
}

// Connect establishes connection to the meter
func (d *N1830CDriver) Connect(ctx context.Context) error {
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

	d.updateHealthMetrics(true, time.Since(startTime))
	d.notifyEvent("connected", nil)

	d.logger.Info("Newport 1830-C connected",
		zap.String("connection_type", string(d.bus.ConnectionType())),
	)
	return nil
}

// Disconnect closes connection to the meter
func (d *N1830CDriver) Disconnect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return nil
	}

	// Release the front panel before dropping the line.
	if err := d.setLocalLockoutLocked(ctx, false); err != nil {
		d.logger.Warn("Failed to release local lockout", zap.Error(err))
	}

	if err := d.closeBus(); err != nil {
		d.logger.Error("Failed to close bus", zap.Error(err))
	}
	d.notifyEvent("disconnected", "manual disconnect")

	d.logger.Info("Newport 1830-C disconnected")
	return nil
}

// Ping tests instrument connectivity. The 1830-C does not answer *IDN?, so
// the probe queries the zero function and expects a 0/1 reply.
func (d *N1830CDriver) Ping(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return driver.Errorf(driver.KindTransport, "newport.ping", "instrument not connected")
	}

	startTime := time.Now()
	val, err := d.zero.get(ctx, d.bus)
	if err != nil {
		d.updateHealthMetrics(false, time.Since(startTime))
		return err
	}
	if val != 0 && val != 1 {
		d.updateHealthMetrics(false, time.Since(startTime))
		return driver.Errorf(driver.KindProtocol, "newport.ping",
			"unexpected Z? reply: %d", val)
	}

	d.lastPing = time.Now()
	d.updateHealthMetrics(true, time.Since(startTime))
	return nil
}

// Close cleans up resources
func (d *N1830CDriver) Close() error {
	return d.Disconnect(context.Background())
}

// StatusByte queries the status byte register.
func (d *N1830CDriver) StatusByte(ctx context.Context) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.statusByte.get(ctx, d.bus)
}

// GetStatusByte queries the status byte register.
//
// Deprecated: Use StatusByte.
func (d *N1830CDriver) GetStatusByte(ctx context.Context) (int, error) {
	return d.StatusByte(ctx)
}

// Power returns the current reading in watts, regardless of the meter's
// display-units setting. If the meter is not in watts mode it is switched
// over for the read and restored afterwards; the switch and the restore are
// separate commands, so a concurrent front-panel change can interleave.
func (d *N1830CDriver) Power(ctx context.Context) (model.Quantity, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	startTime := time.Now()
	value, err := d.powerLocked(ctx)
	d.updateHealthMetrics(err == nil, time.Since(startTime))
	if err != nil {
		return model.Quantity{}, err
	}
	return model.Quantity{Value: value, Unit: "W"}, nil
}

func (d *N1830CDriver) powerLocked(ctx context.Context) (float64, error) {
	originalUnits, err := d.queryLine(ctx, "U?")
	if err != nil {
		return 0, err
	}

	if originalUnits != "1" {
		if err := d.bus.WriteString(ctx, "U1"); err != nil {
			return 0, err
		}
		value, err := d.queryFloat(ctx, "D?")
		if err != nil {
			return 0, err
		}
		if err := d.bus.WriteString(ctx, "U"+originalUnits); err != nil {
			return 0, err
		}
		return value, nil
	}

	return d.queryFloat(ctx, "D?")
}

// GetPower returns the current power reading.
//
// Deprecated: Use Power.
func (d *N1830CDriver) GetPower(ctx context.Context) (model.Quantity, error) {
	return d.Power(ctx)
}

// GetRange returns the current range setting. 1 corresponds to the lowest
// range, 8 to the highest (least amplifier gain). This does not report
// whether auto-range is active.
func (d *N1830CDriver) GetRange(ctx context.Context) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.rangeFacet.get(ctx, d.bus)
}

// SetRange sets the signal range. 0 selects auto-range, 1-8 are manual
// ranges from lowest to highest signal.
func (d *N1830CDriver) SetRange(ctx context.Context, n int) error {
	if n < 0 || n > 8 {
		return driver.Errorf(driver.KindInvalidArgument, "newport.range",
			"range must be 0 (auto) or 1-8, got %d", n)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.rangeFacet.set(ctx, d.bus, n)
}

// EnableAutoRange enables auto-range
func (d *N1830CDriver) EnableAutoRange(ctx context.Context) error {
	return d.SetRange(ctx, 0)
}

// DisableAutoRange disables auto-range, leaving the signal range at its
// current position.
func (d *N1830CDriver) DisableAutoRange(ctx context.Context) error {
	cur, err := d.GetRange(ctx)
	if err != nil {
		return err
	}
	return d.SetRange(ctx, cur)
}

// GetWavelength returns the input wavelength setting.
func (d *N1830CDriver) GetWavelength(ctx context.Context) (model.Quantity, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	val, err := d.wavelength.get(ctx, d.bus)
	if err != nil {
		return model.Quantity{}, err
	}
	return model.Quantity{Value: float64(val), Unit: "nm"}, nil
}

// SetWavelength sets the input signal wavelength in nanometers.
func (d *N1830CDriver) SetWavelength(ctx context.Context, nm int) error {
	if nm <= 0 {
		return driver.Errorf(driver.KindInvalidArgument, "newport.wavelength",
			"wavelength must be positive, got %d", nm)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.wavelength.set(ctx, d.bus, nm)
}

// GetUnits returns the display-units mode.
func (d *N1830CDriver) GetUnits(ctx context.Context) (driver.PowerUnits, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	code, err := d.units.get(ctx, d.bus)
	if err != nil {
		return "", err
	}
	units, ok := unitsNames[code]
	if !ok {
		return "", driver.Errorf(driver.KindProtocol, "newport.units",
			"unknown units code: %d", code)
	}
	return units, nil
}

// SetUnits sets the display-units mode. Accepted values are "watts", "dBm",
// "dB" and "REL", case-insensitive. "dB" readings are relative to the stored
// reference power, which is 1mW at power-up; see StoreReference.
func (d *N1830CDriver) SetUnits(ctx context.Context, units string) error {
	code, ok := unitsCodes[driver.PowerUnits(strings.ToLower(units))]
	if !ok {
		return driver.Errorf(driver.KindInvalidArgument, "newport.units",
			"units must be one of 'watts', 'dbm', 'db', or 'rel', got %q", units)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.units.set(ctx, d.bus, code)
}

// GetAttenuator reports whether the attenuator is enabled.
func (d *N1830CDriver) GetAttenuator(ctx context.Context) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.attenuator.getBool(ctx, d.bus)
}

// SetAttenuator enables or disables the attenuator.
func (d *N1830CDriver) SetAttenuator(ctx context.Context, enable bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.attenuator.setBool(ctx, d.bus, enable)
}

// SetFilter selects the averaging filter: FilterSlow is a 16-measurement
// running average, FilterMedium a 4-measurement one, FilterNone disables
// averaging.
func (d *N1830CDriver) SetFilter(ctx context.Context, mode driver.FilterMode) error {
	if mode < driver.FilterSlow || mode > driver.FilterNone {
		return driver.Errorf(driver.KindInvalidArgument, "newport.filter",
			"invalid filter mode: %d", mode)
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.WriteString(ctx, "F"+strconv.Itoa(int(mode)))
}

// GetFilter returns the current averaging filter setting.
func (d *N1830CDriver) GetFilter(ctx context.Context) (driver.FilterMode, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	val, err := facet{name: "filter", cmd: "F"}.get(ctx, d.bus)
	if err != nil {
		return 0, err
	}
	return driver.FilterMode(val), nil
}

// EnableHold enables hold mode. The G command is inverted: G0 holds the
// display, G1 resumes the run mode.
func (d *N1830CDriver) EnableHold(ctx context.Context, enable bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.WriteString(ctx, "G"+strconv.Itoa(boolCode(!enable)))
}

// DisableHold disables hold mode
func (d *N1830CDriver) DisableHold(ctx context.Context) error {
	return d.EnableHold(ctx, false)
}

// HoldEnabled reports whether the meter is in hold mode.
func (d *N1830CDriver) HoldEnabled(ctx context.Context) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	val, err := facet{name: "hold", cmd: "G"}.get(ctx, d.bus)
	if err != nil {
		return false, err
	}
	return val == 0, nil
}

// IsMeasurementValid reports whether the current reading can be trusted.
// The measurement is considered invalid if the meter is saturated,
// over-range or busy.
func (d *N1830CDriver) IsMeasurementValid(ctx context.Context) (bool, error) {
	reg, err := d.StatusByte(ctx)
	if err != nil {
		return false, err
	}
	isSaturated := reg&statusSaturated != 0
	isOverRange := reg&statusOutOfRange != 0
	isBusy := reg&statusBusy != 0

	return !(isSaturated || isOverRange || isBusy), nil
}

// StoreReference stores the current power input as the reference power for
// future dB or relative measurements.
func (d *N1830CDriver) StoreReference(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.bus.WriteString(ctx, "S")
}

// EnableZero enables the zero function. The next power reading is stored as
// a background value and subtracted off all subsequent readings.
func (d *N1830CDriver) EnableZero(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.zero.setBool(ctx, d.bus, true)
}

// DisableZero disables the zero function
func (d *N1830CDriver) DisableZero(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.zero.setBool(ctx, d.bus, false)
}

// ZeroEnabled reports whether the zero function is enabled
func (d *N1830CDriver) ZeroEnabled(ctx context.Context) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.zero.getBool(ctx, d.bus)
}

// LocalLockout reports whether local lockout is enabled.
func (d *N1830CDriver) LocalLockout(ctx context.Context) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return facet{name: "local_lockout", cmd: "L"}.getBool(ctx, d.bus)
}

// SetLocalLockout enables or disables the front-panel lockout.
func (d *N1830CDriver) SetLocalLockout(ctx context.Context, enable bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.setLocalLockoutLocked(ctx, enable)
}

func (d *N1830CDriver) setLocalLockoutLocked(ctx context.Context, enable bool) error {
	return d.bus.WriteString(ctx, "L"+strconv.Itoa(boolCode(enable)))
}

// queryLine sends a query and returns the reply line.
func (d *N1830CDriver) queryLine(ctx context.Context, cmd string) (string, error) {
	if err := d.bus.WriteString(ctx, cmd); err != nil {
		return "", err
	}
	line, err := d.bus.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// queryFloat sends a query and parses the reply as a float.
func (d *N1830CDriver) queryFloat(ctx context.Context, cmd string) (float64, error) {
	line, err := d.queryLine(ctx, cmd)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, driver.Errorf(driver.KindProtocol, "newport.query",
			"expected numeric reply to %s, got %q", cmd, line)
	}
	return value, nil
}
