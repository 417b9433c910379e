// pkg/driver/types.go
package driver

import (
	"time"

	"instrument-service/internal/model"
)

// Core data structures

// InstrumentInfo contains basic instrument information
type InstrumentInfo struct {
	Brand           model.InstrumentBrand `json:"brand"`
	Model           string                `json:"model"`
	SerialNumber    string                `json:"serial_number"`
	FirmwareVersion string                `json:"firmware_version"`
	Capabilities    []model.Capability    `json:"capabilities"`
	ConnectionType  model.ConnectionType  `json:"connection_type"`
	Manufacturer    string                `json:"manufacturer"`
}

// InstrumentStatus represents current instrument status
type InstrumentStatus struct {
	Status       model.InstrumentStatus `json:"status"`
	IsReady      bool                   `json:"is_ready"`
	HasError     bool                   `json:"has_error"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	LastResponse time.Time              `json:"last_response"`
}

// OperationResult represents the result of an instrument operation
type OperationResult struct {
	Success      bool                   `json:"success"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Duration     string                 `json:"duration"`
	Timestamp    time.Time              `json:"timestamp"`
}

// HealthMetrics contains instrument health information
type HealthMetrics struct {
	HealthScore     int           `json:"health_score"` // 0-100
	ResponseTime    time.Duration `json:"response_time"`
	SuccessRate     float64       `json:"success_rate"` // 0.0-1.0
	ErrorCount      int64         `json:"error_count"`
	TotalOperations int64         `json:"total_operations"`
	LastErrorTime   *time.Time    `json:"last_error_time,omitempty"`
	LastSuccessTime *time.Time    `json:"last_success_time,omitempty"`
}

// EventHandler handles instrument events
type EventHandler interface {
	OnInstrumentConnected(instrumentID string)
	OnInstrumentDisconnected(instrumentID string, reason string)
	OnInstrumentError(instrumentID string, err error)
	OnOperationCompleted(instrumentID string, operationID string, result *OperationResult)
	OnStatusChanged(instrumentID string, oldStatus, newStatus model.InstrumentStatus)
}

// Power-meter-specific types

// PowerUnits are the display-units modes of a power meter.
type PowerUnits string

const (
	PowerUnitsWatts PowerUnits = "watts"
	PowerUnitsDBM   PowerUnits = "dbm"
	PowerUnitsDB    PowerUnits = "db"
	PowerUnitsREL   PowerUnits = "rel"
)

// FilterMode selects the averaging filter of a power meter.
type FilterMode int

const (
	FilterSlow   FilterMode = 1 // 16-measurement running average
	FilterMedium FilterMode = 2 // 4-measurement running average
	FilterNone   FilterMode = 3 // no averaging
)

// Scope-specific types

// MeasurementSlot identifies one of the scope's configurable measurement
// channels, numbered 1-4.
type MeasurementSlot int

const (
	MinMeasurementSlot = 1
	MaxMeasurementSlot = 4
)

// Valid reports whether the slot number is one the scope accepts.
func (s MeasurementSlot) Valid() bool {
	return s >= MinMeasurementSlot && s <= MaxMeasurementSlot
}
