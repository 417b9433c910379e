// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventInstrumentConnected    EventType = "INSTRUMENT_CONNECTED"
	EventInstrumentDisconnected EventType = "INSTRUMENT_DISCONNECTED"
	EventInstrumentError        EventType = "INSTRUMENT_ERROR"
	EventOperationCompleted     EventType = "OPERATION_COMPLETED"
	EventOperationFailed        EventType = "OPERATION_FAILED"
	EventWaveformCaptured       EventType = "WAVEFORM_CAPTURED"
	EventStatusChange           EventType = "STATUS_CHANGE"
)

// InstrumentEvent represents an event in the system
type InstrumentEvent struct {
	ID           uuid.UUID  `json:"id"`
	EventType    EventType  `json:"event_type"`
	InstrumentID string     `json:"instrument_id"`
	Data         JSONObject `json:"data"`
	Timestamp    time.Time  `json:"timestamp"`
	Source       string     `json:"source"`
	Severity     string     `json:"severity"` // INFO, WARNING, ERROR
}
