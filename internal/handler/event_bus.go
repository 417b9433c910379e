// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/pkg/driver"
)

// EventBus manages event distribution
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// Event represents a system event
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
	}
}

// Start starts the event bus
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.events <- event:
	default:
		// Event bus is full, log warning
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", event.Type),
			)
		}
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	subscribers := eb.subscribers[event.Type]
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// InstrumentEventHandler bridges driver events to WebSocket broadcasts
type InstrumentEventHandler struct {
	websocketHandler *WebSocketHandler
	logger           *zap.Logger
}

// NewInstrumentEventHandler creates a new instrument event handler
func NewInstrumentEventHandler(websocketHandler *WebSocketHandler, logger *zap.Logger) *InstrumentEventHandler {
	return &InstrumentEventHandler{
		websocketHandler: websocketHandler,
		logger:           logger,
	}
}

// OnInstrumentConnected handles instrument connected events
func (ieh *InstrumentEventHandler) OnInstrumentConnected(instrumentID string) {
	ieh.websocketHandler.BroadcastInstrumentEvent(instrumentID, model.EventInstrumentConnected, "INFO", model.JSONObject{
		"status":  "online",
		"message": "Instrument connected successfully",
	})

	ieh.logger.Info("Instrument connected event broadcasted", zap.String("instrument_id", instrumentID))
}

// OnInstrumentDisconnected handles instrument disconnected events
func (ieh *InstrumentEventHandler) OnInstrumentDisconnected(instrumentID string, reason string) {
	ieh.websocketHandler.BroadcastInstrumentEvent(instrumentID, model.EventInstrumentDisconnected, "INFO", model.JSONObject{
		"status": "offline",
		"reason": reason,
	})

	ieh.logger.Info("Instrument disconnected event broadcasted",
		zap.String("instrument_id", instrumentID),
		zap.String("reason", reason),
	)
}

// OnInstrumentError handles instrument error events
func (ieh *InstrumentEventHandler) OnInstrumentError(instrumentID string, err error) {
	ieh.websocketHandler.BroadcastInstrumentEvent(instrumentID, model.EventInstrumentError, "ERROR", model.JSONObject{
		"status": "error",
		"error":  err.Error(),
		"kind":   string(driver.KindOf(err)),
	})

	ieh.logger.Error("Instrument error event broadcasted",
		zap.String("instrument_id", instrumentID),
		zap.Error(err),
	)
}

// OnOperationCompleted handles operation completed events
func (ieh *InstrumentEventHandler) OnOperationCompleted(instrumentID string, operationID string, result *driver.OperationResult) {
	ieh.websocketHandler.BroadcastInstrumentEvent(instrumentID, model.EventOperationCompleted, "INFO", model.JSONObject{
		"operation_id": operationID,
		"result":       result,
	})

	ieh.logger.Info("Operation completed event broadcasted",
		zap.String("instrument_id", instrumentID),
		zap.String("operation_id", operationID),
	)
}

// OnStatusChanged handles instrument status change events
func (ieh *InstrumentEventHandler) OnStatusChanged(instrumentID string, oldStatus, newStatus model.InstrumentStatus) {
	ieh.websocketHandler.BroadcastInstrumentEvent(instrumentID, model.EventStatusChange, "WARNING", model.JSONObject{
		"old_status": string(oldStatus),
		"new_status": string(newStatus),
	})

	ieh.logger.Info("Instrument status change event broadcasted",
		zap.String("instrument_id", instrumentID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(newStatus)),
	)
}
