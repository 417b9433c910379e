// internal/driver/registry.go
package driver

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"instrument-service/internal/bus"
	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// DriverFactory creates instrument drivers bound to a bus
type DriverFactory func(instrument *model.Instrument, b bus.Bus, logger *zap.Logger) (driver.InstrumentDriver, error)

// Registry manages instrument driver registration and creation
type Registry struct {
	drivers map[DriverKey]DriverFactory
	mu      sync.RWMutex
	logger  *zap.Logger
}

// DriverKey uniquely identifies a driver
type DriverKey struct {
	Brand          model.InstrumentBrand
	InstrumentType model.InstrumentType
	Model          string
}

// NewRegistry creates a new driver registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers: make(map[DriverKey]DriverFactory),
		logger:  logger,
	}
}

// Register registers a driver factory
func (r *Registry) Register(brand model.InstrumentBrand, instrumentType model.InstrumentType, model string, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := DriverKey{
		Brand:          brand,
		InstrumentType: instrumentType,
		Model:          model,
	}

	r.drivers[key] = factory
	r.logger.Info("Driver registered",
		zap.String("brand", string(brand)),
		zap.String("instrument_type", string(instrumentType)),
		zap.String("model", model),
	)
}

// CreateDriver creates a driver instance
func (r *Registry) CreateDriver(instrument *model.Instrument, b bus.Bus) (driver.InstrumentDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Try exact match first
	key := DriverKey{
		Brand:          instrument.Brand,
		InstrumentType: instrument.InstrumentType,
		Model:          instrument.Model,
	}

	if factory, exists := r.drivers[key]; exists {
		return factory(instrument, b, r.logger)
	}

	// Try brand + instrument type match (any model)
	key.Model = "*"
	if factory, exists := r.drivers[key]; exists {
		return factory(instrument, b, r.logger)
	}

	// Try generic driver
	key.Brand = model.BrandGeneric
	if factory, exists := r.drivers[key]; exists {
		return factory(instrument, b, r.logger)
	}

	return nil, fmt.Errorf("no driver found for brand=%s, type=%s, model=%s",
		instrument.Brand, instrument.InstrumentType, instrument.Model)
}

// ListDrivers returns all registered drivers
func (r *Registry) ListDrivers() []DriverKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]DriverKey, 0, len(r.drivers))
	for key := range r.drivers {
		keys = append(keys, key)
	}
	return keys
}

// IsSupported checks if an instrument is supported
func (r *Registry) IsSupported(brand model.InstrumentBrand, instrumentType model.InstrumentType, instrumentModel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Check exact match
	key := DriverKey{Brand: brand, InstrumentType: instrumentType, Model: instrumentModel}
	if _, exists := r.drivers[key]; exists {
		return true
	}

	// Check wildcard match
	key.Model = "*"
	if _, exists := r.drivers[key]; exists {
		return true
	}

	// Check generic driver
	key.Brand = model.BrandGeneric
	if _, exists := r.drivers[key]; exists {
		return true
	}

	return false
}

// GetSupportedBrands returns all supported brands for an instrument type
func (r *Registry) GetSupportedBrands(instrumentType model.InstrumentType) []model.InstrumentBrand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	brandSet := make(map[model.InstrumentBrand]bool)
	for key := range r.drivers {
		if key.InstrumentType == instrumentType {
			brandSet[key.Brand] = true
		}
	}

	brands := make([]model.InstrumentBrand, 0, len(brandSet))
	for brand := range brandSet {
		brands = append(brands, brand)
	}
	return brands
}
