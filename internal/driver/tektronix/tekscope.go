// internal/driver/tektronix/tekscope.go
package tektronix

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/bus"
	"instrument-service/internal/model"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// Known model strings per series, as reported in the *IDN? reply.
var (
	tds3000Models    = []string{"TDS 3032", "TDS 3034B"}
	msoDpo4000Models = []string{"MSO4034", "DPO4034"}
)

// TekScope implements driver.ScopeDriver for Tektronix TDS 3000 and
// MSO/DPO 4000 series oscilloscopes. The two series share a command set;
// they differ only in the token that turns measurement statistics on.
type TekScope struct {
	instrumentID   string
	series         string
	statsOnToken   string
	autoDetect     bool
	bus            bus.Bus
	logger         *utils.InstrumentLogger
	eventHandler   driver.EventHandler
	isConnected    bool
	lastPing       time.Time
	healthMetrics  *driver.HealthMetrics
	mutex          sync.RWMutex
	instrumentInfo *driver.InstrumentInfo
}

// NewTDS3000Driver creates a driver for a TDS 3000 series scope
func NewTDS3000Driver(instrument *model.Instrument, b bus.Bus, logger *zap.Logger) (driver.InstrumentDriver, error) {
	return newTekScope(instrument, b, logger, "TDS 3000", "ON", false), nil
}

// NewMSODPO4000Driver creates a driver for an MSO/DPO 4000 series scope
func NewMSODPO4000Driver(instrument *model.Instrument, b bus.Bus, logger *zap.Logger) (driver.InstrumentDriver, error) {
	return newTekScope(instrument, b, logger, "MSO/DPO 4000", "ALL", false), nil
}

// NewAutoDetectDriver creates a driver that identifies the series from the
// *IDN? reply on connect.
func NewAutoDetectDriver(instrument *model.Instrument, b bus.Bus, logger *zap.Logger) (driver.InstrumentDriver, error) {
	return newTekScope(instrument, b, logger, "unknown", "ALL", true), nil
}

func newTekScope(instrument *model.Instrument, b bus.Bus, logger *zap.Logger, series, statsOnToken string, autoDetect bool) *TekScope {
	instrumentLogger := utils.NewInstrumentLogger(logger, instrument.InstrumentID,
		string(instrument.InstrumentType), string(instrument.Brand))

	return &TekScope{
		instrumentID: instrument.InstrumentID,
		series:       series,
		statsOnToken: statsOnToken,
		autoDetect:   autoDetect,
		bus:          b,
		logger:       instrumentLogger,
		healthMetrics: &driver.HealthMetrics{
			HealthScore: 0,
		},
		instrumentInfo: &driver.InstrumentInfo{
			Brand:          instrument.Brand,
			Model:          instrument.Model,
			ConnectionType: instrument.ConnectionType,
			Capabilities:   scopeCapabilities(),
			Manufacturer:   "Tektronix, Inc.",
		},
	}
}

func scopeCapabilities() []model.Capability {
	return []model.Capability{
		model.CapabilityWaveformCapture,
		model.CapabilityMeasurementSlots,
		model.CapabilityMeasurementStats,
		model.CapabilityStatus,
	}
}

// Connect establishes connection to the scope and identifies it via *IDN?.
func (d *TekScope) Connect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.isConnected {
		return nil
	}

	startTime := time.Now()

	if err := d.bus.Open(ctx); err != nil {
		d.updateHealthMetrics(false, time.Since(startTime))
		return err
	}
	d.isConnected = true

	if err := d.identifyLocked(ctx); err != nil {
		d.bus.Close()
		d.isConnected = false
		d.updateHealthMetrics(false, time.Since(startTime))
		return err
	}

	d.lastPing = time.Now()
	d.updateHealthMetrics(true, time.Since(startTime))
	d.notifyEvent("connected", nil)

	d.logger.Info("Tektronix scope connected",
		zap.String("series", d.series),
		zap.String("model", d.instrumentInfo.Model),
		zap.String("connection_type", string(d.bus.ConnectionType())),
	)
	return nil
}

// identifyLocked parses the *IDN? reply and, for auto-detect drivers,
// selects the series and its statistics-enable token.
func (d *TekScope) identifyLocked(ctx context.Context) error {
	idn, err := d.ask(ctx, "*IDN?")
	if err != nil {
		return err
	}

	parts := strings.Split(idn, ",")
	if len(parts) != 4 {
		return driver.Errorf(driver.KindProtocol, "tektronix.idn",
			"unexpected *IDN? reply %q", idn)
	}
	manufacturer := strings.TrimSpace(parts[0])
	scopeModel := strings.TrimSpace(parts[1])
	serial := strings.TrimSpace(parts[2])
	firmware := strings.TrimSpace(parts[3])

	if manufacturer != "TEKTRONIX" {
		return driver.Errorf(driver.KindProtocol, "tektronix.idn",
			"not a Tektronix scope: %q", manufacturer)
	}

	d.instrumentInfo.Model = scopeModel
	d.instrumentInfo.SerialNumber = serial
	d.instrumentInfo.FirmwareVersion = firmware

	if d.autoDetect {
		switch {
		case matchesModel(scopeModel, tds3000Models) || strings.HasPrefix(scopeModel, "TDS 3"):
			d.series = "TDS 3000"
			d.statsOnToken = "ON"
		case matchesModel(scopeModel, msoDpo4000Models) ||
			strings.HasPrefix(scopeModel, "MSO4") || strings.HasPrefix(scopeModel, "DPO4"):
			d.series = "MSO/DPO 4000"
			d.statsOnToken = "ALL"
		default:
			return driver.Errorf(driver.KindUnsupported, "tektronix.idn",
				"unsupported scope model %q", scopeModel)
		}
	}

	return nil
}

func matchesModel(scopeModel string, known []string) bool {
	for _, m := range known {
		if scopeModel == m {
			return true
		}
	}
	return false
}

// Disconnect closes connection to the scope
func (d *TekScope) Disconnect(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return nil
	}

	if err := d.bus.Close(); err != nil {
		d.logger.Error("Failed to close bus", zap.Error(err))
	}
	d.isConnected = false
	d.notifyEvent("disconnected", "manual disconnect")

	d.logger.Info("Tektronix scope disconnected")
	return nil
}

// IsConnected returns connection status
func (d *TekScope) IsConnected() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.isConnected && d.bus != nil && d.bus.IsOpen()
}

// GetInstrumentInfo returns instrument information
func (d *TekScope) GetInstrumentInfo() (*driver.InstrumentInfo, error) {
	return d.instrumentInfo, nil
}

// GetCapabilities returns instrument capabilities
func (d *TekScope) GetCapabilities() []model.Capability {
	return d.instrumentInfo.Capabilities
}

// GetStatus returns current instrument status
func (d *TekScope) GetStatus() (*driver.InstrumentStatus, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if !d.isConnected {
		return &driver.InstrumentStatus{
			Status:       model.InstrumentStatusOffline,
			IsReady:      false,
			HasError:     false,
			LastResponse: d.lastPing,
		}, nil
	}

	return &driver.InstrumentStatus{
		Status:       model.InstrumentStatusOnline,
		IsReady:      true,
		HasError:     false,
		LastResponse: d.lastPing,
	}, nil
}

// Ping tests instrument connectivity with an *IDN? round trip.
func (d *TekScope) Ping(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.isConnected {
		return driver.Errorf(driver.KindTransport, "tektronix.ping", "instrument not connected")
	}

	startTime := time.Now()
	_, err := d.ask(ctx, "*IDN?")
	d.updateHealthMetrics(err == nil, time.Since(startTime))
	if err != nil {
		return err
	}

	d.lastPing = time.Now()
	return nil
}

// GetHealthMetrics returns health metrics
func (d *TekScope) GetHealthMetrics() (*driver.HealthMetrics, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	metrics := *d.healthMetrics
	return &metrics, nil
}

// SetEventHandler sets event handler
func (d *TekScope) SetEventHandler(handler driver.EventHandler) {
	d.eventHandler = handler
}

// Close cleans up resources
func (d *TekScope) Close() error {
	return d.Disconnect(context.Background())
}

// I/O helpers

// ask sends one query and reads the reply line.
func (d *TekScope) ask(ctx context.Context, cmd string) (string, error) {
	if err := d.bus.WriteString(ctx, cmd); err != nil {
		return "", err
	}
	line, err := d.bus.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// updateHealthMetrics updates instrument health metrics
func (d *TekScope) updateHealthMetrics(success bool, responseTime time.Duration) {
	d.healthMetrics.TotalOperations++
	d.healthMetrics.ResponseTime = responseTime

	if success {
		now := time.Now()
		d.healthMetrics.LastSuccessTime = &now
	} else {
		d.healthMetrics.ErrorCount++
		now := time.Now()
		d.healthMetrics.LastErrorTime = &now
	}
	d.healthMetrics.SuccessRate = float64(d.healthMetrics.TotalOperations-d.healthMetrics.ErrorCount) / float64(d.healthMetrics.TotalOperations)

	d.healthMetrics.HealthScore = int(d.healthMetrics.SuccessRate * 100)
	if responseTime > 5*time.Second {
		d.healthMetrics.HealthScore -= 10
	}
	if d.healthMetrics.HealthScore < 0 {
		d.healthMetrics.HealthScore = 0
	}
}

// notifyEvent notifies event handler
func (d *TekScope) notifyEvent(eventType string, data interface{}) {
	if d.eventHandler != nil {
		switch eventType {
		case "connected":
			d.eventHandler.OnInstrumentConnected(d.instrumentID)
		case "disconnected":
			d.eventHandler.OnInstrumentDisconnected(d.instrumentID, data.(string))
		case "error":
			d.eventHandler.OnInstrumentError(d.instrumentID, data.(error))
		}
	}
}
