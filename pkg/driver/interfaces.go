// pkg/driver/interfaces.go
package driver

import (
	"context"

	"instrument-service/internal/model"
)

// InstrumentDriver is the main interface that all hardware drivers must implement
type InstrumentDriver interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Instrument information
	GetInstrumentInfo() (*InstrumentInfo, error)
	GetCapabilities() []model.Capability
	GetStatus() (*InstrumentStatus, error)

	// Health and monitoring
	Ping(ctx context.Context) error
	GetHealthMetrics() (*HealthMetrics, error)

	// Event handling
	SetEventHandler(handler EventHandler)

	// Cleanup
	Close() error
}

// PowerMeterDriver extends InstrumentDriver for optical power meters.
//
// Calls are not safe for concurrent use: every operation is a sequence of
// command/response round-trips over one exclusive bus, and the device's
// session state (channel selection, units mode) is order-sensitive. The
// service layer serializes access per instrument.
type PowerMeterDriver interface {
	InstrumentDriver

	// Power returns the current reading in watts, regardless of the meter's
	// display-units setting.
	Power(ctx context.Context) (model.Quantity, error)

	// Range management. 0 selects auto-range, 1-8 are manual ranges from
	// lowest to highest signal.
	GetRange(ctx context.Context) (int, error)
	SetRange(ctx context.Context, n int) error

	// Wavelength of the input signal, as a length quantity.
	GetWavelength(ctx context.Context) (model.Quantity, error)
	SetWavelength(ctx context.Context, nm int) error

	// Display-units mode.
	GetUnits(ctx context.Context) (PowerUnits, error)
	SetUnits(ctx context.Context, units string) error

	// IsMeasurementValid reports whether the current reading can be trusted
	// (not saturated, not over-range, not busy).
	IsMeasurementValid(ctx context.Context) (bool, error)

	// Zero function: background subtraction of the next reading.
	EnableZero(ctx context.Context) error
	DisableZero(ctx context.Context) error
	ZeroEnabled(ctx context.Context) (bool, error)
}

// ScopeDriver extends InstrumentDriver for oscilloscopes.
//
// The same exclusive-bus caveat as PowerMeterDriver applies; in particular
// the waveform fetch is a multi-command sequence that must not be
// interleaved with other traffic.
type ScopeDriver interface {
	InstrumentDriver

	// GetData pulls one channel's waveform as physically-scaled, unit-tagged
	// x/y sequences of equal length.
	GetData(ctx context.Context, channel int) (*model.Waveform, error)

	// Measurement slot configuration and readback.
	SetMeasurementParams(ctx context.Context, num MeasurementSlot, mtype string, channel int) error
	ReadMeasurementValue(ctx context.Context, num MeasurementSlot) (model.Quantity, error)
	ReadMeasurementStats(ctx context.Context, num MeasurementSlot) (*model.MeasurementStats, error)

	// Acquisition state control.
	RunAcquire(ctx context.Context) error
	StopAcquire(ctx context.Context) error

	// Measurement statistics mode.
	EnableMeasurementStats(ctx context.Context, enable bool) error
	AreMeasurementStatsOn(ctx context.Context) (bool, error)
	SetMeasurementNsamps(ctx context.Context, nsamps int) error
}
