// internal/model/instrument.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// InstrumentType represents the type of instrument
type InstrumentType string

const (
	InstrumentTypePowerMeter   InstrumentType = "POWER_METER"
	InstrumentTypeOscilloscope InstrumentType = "OSCILLOSCOPE"
)

// InstrumentStatus represents the current status of an instrument
type InstrumentStatus string

const (
	InstrumentStatusOnline     InstrumentStatus = "ONLINE"
	InstrumentStatusOffline    InstrumentStatus = "OFFLINE"
	InstrumentStatusError      InstrumentStatus = "ERROR"
	InstrumentStatusConnecting InstrumentStatus = "CONNECTING"
)

// ConnectionType represents how the instrument is connected
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeUSB    ConnectionType = "USB"
	ConnectionTypeTCP    ConnectionType = "TCP"
)

// InstrumentBrand represents supported instrument brands
type InstrumentBrand string

const (
	BrandNewport   InstrumentBrand = "NEWPORT"
	BrandTektronix InstrumentBrand = "TEKTRONIX"
	BrandGeneric   InstrumentBrand = "GENERIC"
)

// Capability represents what an instrument can do
type Capability string

const (
	CapabilityPowerReading     Capability = "POWER_READING"
	CapabilityRangeControl     Capability = "RANGE_CONTROL"
	CapabilityWavelength       Capability = "WAVELENGTH"
	CapabilityZeroOffset       Capability = "ZERO_OFFSET"
	CapabilityMultiChannel     Capability = "MULTI_CHANNEL"
	CapabilityWaveformCapture  Capability = "WAVEFORM_CAPTURE"
	CapabilityMeasurementSlots Capability = "MEASUREMENT_SLOTS"
	CapabilityMeasurementStats Capability = "MEASUREMENT_STATS"
	CapabilityStatus           Capability = "STATUS"
)

// JSONObject is a free-form configuration map
type JSONObject map[string]interface{}

// Instrument represents a physical instrument in the system
type Instrument struct {
	ID               uuid.UUID        `json:"id"`
	InstrumentID     string           `json:"instrument_id"`
	InstrumentType   InstrumentType   `json:"instrument_type"`
	Brand            InstrumentBrand  `json:"brand"`
	Model            string           `json:"model"`
	ConnectionType   ConnectionType   `json:"connection_type"`
	ConnectionConfig JSONObject       `json:"connection_config"`
	Capabilities     []Capability     `json:"capabilities"`
	Location         *string          `json:"location"`
	Status           InstrumentStatus `json:"status"`
	LastPing         *time.Time       `json:"last_ping"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// HasCapability checks if the instrument has a specific capability
func (i *Instrument) HasCapability(capability Capability) bool {
	for _, c := range i.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// IsOnline checks if the instrument is currently online
func (i *Instrument) IsOnline() bool {
	return i.Status == InstrumentStatusOnline
}

// ConnectionConfig structures for different connection types
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

type USBConfig struct {
	VendorID  string `json:"vendor_id"`
	ProductID string `json:"product_id"`
	Interface int    `json:"interface"`
}

type TCPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}
