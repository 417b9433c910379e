// internal/model/operation.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationType represents the type of operation
type OperationType string

const (
	OperationTypePowerReading     OperationType = "POWER_READING"
	OperationTypeWaveformCapture  OperationType = "WAVEFORM_CAPTURE"
	OperationTypeMeasurementRead  OperationType = "MEASUREMENT_READ"
	OperationTypeMeasurementStats OperationType = "MEASUREMENT_STATS"
	OperationTypeConfigChange     OperationType = "CONFIG_CHANGE"
	OperationTypeStatusCheck      OperationType = "STATUS_CHECK"
	OperationTypeAcquireControl   OperationType = "ACQUIRE_CONTROL"
)

// OperationStatus represents the status of an operation
type OperationStatus string

const (
	OperationStatusProcessing OperationStatus = "PROCESSING"
	OperationStatusSuccess    OperationStatus = "SUCCESS"
	OperationStatusFailed     OperationStatus = "FAILED"
	OperationStatusTimeout    OperationStatus = "TIMEOUT"
)

// InstrumentOperation represents an operation performed on an instrument
type InstrumentOperation struct {
	ID            uuid.UUID       `json:"id"`
	InstrumentID  uuid.UUID       `json:"instrument_id"`
	OperationType OperationType   `json:"operation_type"`
	OperationData JSONObject      `json:"operation_data"`
	Status        OperationStatus `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	DurationMs    *int            `json:"duration_ms"`
	ErrorMessage  *string         `json:"error_message"`
	Result        JSONObject      `json:"result"`
}

// IsCompleted checks if the operation reached a terminal state
func (op *InstrumentOperation) IsCompleted() bool {
	return op.Status == OperationStatusSuccess ||
		op.Status == OperationStatusFailed ||
		op.Status == OperationStatusTimeout
}
