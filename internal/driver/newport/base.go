// internal/driver/newport/base.go
package newport

import (
	"context"
	"sync"
	"time"

	"instrument-service/internal/bus"
	"instrument-service/internal/model"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// meterBase carries the plumbing shared by the Newport meter drivers:
// connection state, health bookkeeping and event notification.
type meterBase struct {
	instrumentID   string
	bus            bus.Bus
	logger         *utils.InstrumentLogger
	eventHandler   driver.EventHandler
	isConnected    bool
	lastPing       time.Time
	healthMetrics  *driver.HealthMetrics
	mutex          sync.RWMutex
	instrumentInfo *driver.InstrumentInfo
}

// IsConnected returns connection status
func (m *meterBase) IsConnected() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.isConnected && m.bus != nil && m.bus.IsOpen()
}

// GetInstrumentInfo returns instrument information
func (m *meterBase) GetInstrumentInfo() (*driver.InstrumentInfo, error) {
	return m.instrumentInfo, nil
}

// GetCapabilities returns instrument capabilities
func (m *meterBase) GetCapabilities() []model.Capability {
	return m.instrumentInfo.Capabilities
}

// GetStatus returns current instrument status
func (m *meterBase) GetStatus() (*driver.InstrumentStatus, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if !m.isConnected {
		return &driver.InstrumentStatus{
			Status:       model.InstrumentStatusOffline,
			IsReady:      false,
			HasError:     false,
			LastResponse: m.lastPing,
		}, nil
	}

	return &driver.InstrumentStatus{
		Status:       model.InstrumentStatusOnline,
		IsReady:      true,
		HasError:     false,
		LastResponse: m.lastPing,
	}, nil
}

// GetHealthMetrics returns health metrics
func (m *meterBase) GetHealthMetrics() (*driver.HealthMetrics, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	metrics := *m.healthMetrics
	return &metrics, nil
}

// SetEventHandler sets event handler
func (m *meterBase) SetEventHandler(handler driver.EventHandler) {
	m.eventHandler = handler
}

// openBus opens the underlying bus connection
func (m *meterBase) openBus(ctx context.Context) error {
	if err := m.bus.Open(ctx); err != nil {
		return err
	}
	m.isConnected = true
	m.lastPing = time.Now()
	return nil
}

// closeBus closes the underlying bus connection
func (m *meterBase) closeBus() error {
	if m.bus == nil {
		return nil
	}
	err := m.bus.Close()
	m.isConnected = false
	return err
}

// updateHealthMetrics updates instrument health metrics
func (m *meterBase) updateHealthMetrics(success bool, responseTime time.Duration) {
	m.healthMetrics.TotalOperations++
	m.healthMetrics.ResponseTime = responseTime

	if success {
		now := time.Now()
		m.healthMetrics.LastSuccessTime = &now
	} else {
		m.healthMetrics.ErrorCount++
		now := time.Now()
		m.healthMetrics.LastErrorTime = &now
	}
	m.healthMetrics.SuccessRate = float64(m.healthMetrics.TotalOperations-m.healthMetrics.ErrorCount) / float64(m.healthMetrics.TotalOperations)

	m.healthMetrics.HealthScore = int(m.healthMetrics.SuccessRate * 100)
	if responseTime > 5*time.Second {
		m.healthMetrics.HealthScore -= 10
	}
	if m.healthMetrics.HealthScore < 0 {
		m.healthMetrics.HealthScore = 0
	}
}

// notifyEvent notifies event handler
func (m *meterBase) notifyEvent(eventType string, data interface{}) {
	if m.eventHandler != nil {
		switch eventType {
		case "connected":
			m.eventHandler.OnInstrumentConnected(m.instrumentID)
		case "disconnected":
			m.eventHandler.OnInstrumentDisconnected(m.instrumentID, data.(string))
		case "error":
			m.eventHandler.OnInstrumentError(m.instrumentID, data.(error))
		}
	}
}
