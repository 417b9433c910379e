// internal/driver/registry_init.go
package driver

import (
	"go.uber.org/zap"

	"instrument-service/internal/driver/newport"
	"instrument-service/internal/driver/tektronix"
	"instrument-service/internal/model"
)

// RegisterDefaultDrivers registers all default instrument drivers
func RegisterDefaultDrivers(registry *Registry, logger *zap.Logger) {
	registerNewportDrivers(registry, logger)
	registerTektronixDrivers(registry, logger)
}

// registerNewportDrivers registers Newport power meter drivers
func registerNewportDrivers(registry *Registry, logger *zap.Logger) {
	// Newport 1830-C single channel
	registry.Register(
		model.BrandNewport,
		model.InstrumentTypePowerMeter,
		"1830-C",
		newport.New1830CDriver,
	)

	// Newport 2936-R dual channel
	registry.Register(
		model.BrandNewport,
		model.InstrumentTypePowerMeter,
		"2936-R",
		newport.New2936RDriver,
	)

	logger.Info("Newport power meter drivers registered",
		zap.Int("models", 2),
	)
}

// registerTektronixDrivers registers Tektronix oscilloscope drivers
func registerTektronixDrivers(registry *Registry, logger *zap.Logger) {
	// TDS 3000 series
	registry.Register(
		model.BrandTektronix,
		model.InstrumentTypeOscilloscope,
		"TDS3000",
		tektronix.NewTDS3000Driver,
	)

	// MSO/DPO 4000 series
	registry.Register(
		model.BrandTektronix,
		model.InstrumentTypeOscilloscope,
		"MSODPO4000",
		tektronix.NewMSODPO4000Driver,
	)

	// Generic Tektronix scope (wildcard) - identifies the series via *IDN?
	registry.Register(
		model.BrandTektronix,
		model.InstrumentTypeOscilloscope,
		"*",
		tektronix.NewAutoDetectDriver,
	)

	logger.Info("Tektronix oscilloscope drivers registered",
		zap.Int("models", 3),
	)
}
