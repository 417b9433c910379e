// internal/service/instrument_service.go
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"instrument-service/internal/bus"
	"instrument-service/internal/config"
	internalDriver "instrument-service/internal/driver"
	"instrument-service/internal/model"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// managedInstrument pairs an instrument record with its live driver. The
// mutex serializes bus conversations: every operation owns the command/
// response exchange end-to-end, overlapping calls queue up behind it.
type managedInstrument struct {
	instrument *model.Instrument
	driver     driver.InstrumentDriver
	mu         sync.Mutex

	stopMonitor chan struct{}
}

// InstrumentService handles instrument management business logic
type InstrumentService struct {
	instruments    map[string]*managedInstrument
	mu             sync.RWMutex
	driverRegistry *internalDriver.Registry
	config         *config.Config
	logger         *utils.ServiceLogger
	auditLogger    *utils.AuditLogger
	eventHandler   driver.EventHandler
}

// NewInstrumentService creates a new instrument service instance
func NewInstrumentService(
	driverRegistry *internalDriver.Registry,
	config *config.Config,
	logger *zap.Logger,
) *InstrumentService {
	return &InstrumentService{
		instruments:    make(map[string]*managedInstrument),
		driverRegistry: driverRegistry,
		config:         config,
		logger:         utils.NewServiceLogger(logger, "instrument-service"),
		auditLogger:    utils.NewAuditLogger(logger),
	}
}

// SetEventHandler sets the handler propagated to every driver, current and
// future.
func (is *InstrumentService) SetEventHandler(handler driver.EventHandler) {
	is.mu.Lock()
	defer is.mu.Unlock()

	is.eventHandler = handler
	for _, managed := range is.instruments {
		managed.driver.SetEventHandler(handler)
	}
}

// RegisterInstrument registers a new instrument in the system
func (is *InstrumentService) RegisterInstrument(ctx context.Context, req *RegisterInstrumentRequest) (*model.Instrument, error) {
	// Validate request
	if err := is.validateRegisterRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	// Verify driver support
	if !is.driverRegistry.IsSupported(req.Brand, req.InstrumentType, req.Model) {
		return nil, fmt.Errorf("unsupported instrument: %s %s %s", req.Brand, req.InstrumentType, req.Model)
	}

	// Validate connection config before building anything
	if err := bus.ValidateConfig(req.ConnectionType, req.ConnectionConfig); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	is.mu.Lock()
	defer is.mu.Unlock()

	// Check if instrument already exists
	if _, exists := is.instruments[req.InstrumentID]; exists {
		return nil, fmt.Errorf("instrument with ID %s already exists", req.InstrumentID)
	}

	// Create instrument model
	instrument := &model.Instrument{
		ID:               uuid.New(),
		InstrumentID:     req.InstrumentID,
		InstrumentType:   req.InstrumentType,
		Brand:            req.Brand,
		Model:            req.Model,
		ConnectionType:   req.ConnectionType,
		ConnectionConfig: model.JSONObject(req.ConnectionConfig),
		Location:         req.Location,
		Status:           model.InstrumentStatusOffline,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	// Create bus and driver
	instrumentBus, err := bus.CreateBus(req.ConnectionType, req.ConnectionConfig, is.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus: %w", err)
	}

	driverInstance, err := is.driverRegistry.CreateDriver(instrument, instrumentBus)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}
	if is.eventHandler != nil {
		driverInstance.SetEventHandler(is.eventHandler)
	}

	instrument.Capabilities = driverInstance.GetCapabilities()

	is.instruments[req.InstrumentID] = &managedInstrument{
		instrument: instrument,
		driver:     driverInstance,
	}

	// Audit log
	is.auditLogger.LogInstrumentRegistration(
		instrument.InstrumentID,
		string(instrument.InstrumentType),
		string(instrument.Brand),
		req.UserID,
		true,
	)

	is.logger.Info("Instrument registered successfully",
		zap.String("instrument_id", instrument.InstrumentID),
		zap.String("instrument_type", string(instrument.InstrumentType)),
		zap.String("brand", string(instrument.Brand)),
	)

	return instrument, nil
}

// ConnectInstrument attempts to connect to an instrument
func (is *InstrumentService) ConnectInstrument(ctx context.Context, instrumentID string) error {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return err
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()

	instrumentLogger := is.instrumentLogger(managed.instrument)
	managed.instrument.Status = model.InstrumentStatusConnecting

	connectCtx, cancel := context.WithTimeout(ctx, is.config.Instrument.OperationTimeout)
	defer cancel()

	if err := managed.driver.Connect(connectCtx); err != nil {
		instrumentLogger.LogConnection("connect", false, err)
		managed.instrument.Status = model.InstrumentStatusError
		return fmt.Errorf("failed to connect to instrument: %w", err)
	}

	now := time.Now()
	managed.instrument.Status = model.InstrumentStatusOnline
	managed.instrument.LastPing = &now
	managed.instrument.UpdatedAt = now

	instrumentLogger.LogConnection("connect", true, nil)

	// Health monitoring runs until disconnect.
	managed.stopMonitor = make(chan struct{})
	go is.monitorInstrument(managed, managed.stopMonitor)

	return nil
}

// monitorInstrument pings the instrument on the configured interval and
// flips its status when connectivity changes.
func (is *InstrumentService) monitorInstrument(managed *managedInstrument, stop chan struct{}) {
	interval := is.config.Instrument.HealthCheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	instrumentLogger := is.instrumentLogger(managed.instrument)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			managed.mu.Lock()

			pingCtx, cancel := context.WithTimeout(context.Background(), is.config.Instrument.OperationTimeout)
			err := managed.driver.Ping(pingCtx)
			cancel()

			oldStatus := managed.instrument.Status
			if err != nil {
				managed.instrument.Status = model.InstrumentStatusError
			} else {
				now := time.Now()
				managed.instrument.Status = model.InstrumentStatusOnline
				managed.instrument.LastPing = &now
			}
			newStatus := managed.instrument.Status
			managed.mu.Unlock()

			if oldStatus != newStatus {
				instrumentLogger.Warn("Instrument status changed",
					zap.String("old_status", string(oldStatus)),
					zap.String("new_status", string(newStatus)),
				)
				is.mu.RLock()
				handler := is.eventHandler
				is.mu.RUnlock()
				if handler != nil {
					handler.OnStatusChanged(managed.instrument.InstrumentID, oldStatus, newStatus)
				}
			}

			if metrics, merr := managed.driver.GetHealthMetrics(); merr == nil {
				instrumentLogger.LogHealth(metrics.HealthScore, metrics.ResponseTime, 1-metrics.SuccessRate)
			}
		}
	}
}

// DisconnectInstrument disconnects an instrument
func (is *InstrumentService) DisconnectInstrument(ctx context.Context, instrumentID string) error {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return err
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()

	instrumentLogger := is.instrumentLogger(managed.instrument)

	if managed.stopMonitor != nil {
		close(managed.stopMonitor)
		managed.stopMonitor = nil
	}

	if err := managed.driver.Disconnect(ctx); err != nil {
		instrumentLogger.LogConnection("disconnect", false, err)
		return fmt.Errorf("failed to disconnect instrument: %w", err)
	}

	managed.instrument.Status = model.InstrumentStatusOffline
	managed.instrument.UpdatedAt = time.Now()

	instrumentLogger.LogConnection("disconnect", true, nil)
	return nil
}

// GetInstrument retrieves instrument information
func (is *InstrumentService) GetInstrument(ctx context.Context, instrumentID string) (*model.Instrument, error) {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return nil, err
	}
	return managed.instrument, nil
}

// ListInstruments retrieves instruments with optional filtering
func (is *InstrumentService) ListInstruments(ctx context.Context, filter *InstrumentFilter) []*model.Instrument {
	is.mu.RLock()
	defer is.mu.RUnlock()

	instruments := make([]*model.Instrument, 0, len(is.instruments))
	for _, managed := range is.instruments {
		inst := managed.instrument
		if filter != nil {
			if filter.InstrumentType != nil && inst.InstrumentType != *filter.InstrumentType {
				continue
			}
			if filter.Brand != nil && inst.Brand != *filter.Brand {
				continue
			}
			if filter.Status != nil && inst.Status != *filter.Status {
				continue
			}
		}
		instruments = append(instruments, inst)
	}

	sort.Slice(instruments, func(i, j int) bool {
		return instruments[i].InstrumentID < instruments[j].InstrumentID
	})
	return instruments
}

// RemoveInstrument removes an instrument from the system
func (is *InstrumentService) RemoveInstrument(ctx context.Context, instrumentID string, userID string) error {
	is.mu.Lock()
	defer is.mu.Unlock()

	managed, exists := is.instruments[instrumentID]
	if !exists {
		return fmt.Errorf("instrument not found: %s", instrumentID)
	}

	// Check if instrument is online
	if managed.instrument.Status == model.InstrumentStatusOnline {
		return fmt.Errorf("cannot remove online instrument, disconnect first")
	}

	if managed.stopMonitor != nil {
		close(managed.stopMonitor)
		managed.stopMonitor = nil
	}

	if err := managed.driver.Close(); err != nil {
		is.logger.Warn("Failed to close driver during removal", zap.Error(err))
	}

	delete(is.instruments, instrumentID)

	is.logger.Info("Instrument removed",
		zap.String("instrument_id", instrumentID),
		zap.String("user_id", userID),
	)

	return nil
}

// GetInstrumentHealth retrieves instrument health metrics
func (is *InstrumentService) GetInstrumentHealth(ctx context.Context, instrumentID string) (*InstrumentHealth, error) {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return nil, err
	}

	metrics, err := managed.driver.GetHealthMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get health metrics: %w", err)
	}

	return &InstrumentHealth{
		InstrumentID: instrumentID,
		HealthScore:  metrics.HealthScore,
		Status:       string(managed.instrument.Status),
		LastCheck:    managed.instrument.LastPing,
		ResponseTime: metrics.ResponseTime.Milliseconds(),
		SuccessRate:  metrics.SuccessRate,
		ErrorCount:   metrics.ErrorCount,
	}, nil
}

// TestInstrument performs an instrument connectivity test
func (is *InstrumentService) TestInstrument(ctx context.Context, instrumentID string) (*TestResult, error) {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return nil, err
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()

	instrumentLogger := is.instrumentLogger(managed.instrument)
	startTime := time.Now()

	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if !managed.driver.IsConnected() {
		if err := managed.driver.Connect(testCtx); err != nil {
			instrumentLogger.LogConnection("test", false, err)
			return &TestResult{
				Success:      false,
				ErrorMessage: err.Error(),
				Duration:     time.Since(startTime).String(),
			}, nil
		}
	}

	if err := managed.driver.Ping(testCtx); err != nil {
		instrumentLogger.LogConnection("test", false, err)
		return &TestResult{
			Success:      false,
			ErrorMessage: err.Error(),
			Duration:     time.Since(startTime).String(),
		}, nil
	}

	info, err := managed.driver.GetInstrumentInfo()
	if err != nil {
		instrumentLogger.Warn("Failed to get instrument info during test", zap.Error(err))
	}

	now := time.Now()
	managed.instrument.LastPing = &now
	instrumentLogger.LogConnection("test", true, nil)

	return &TestResult{
		Success:        true,
		Duration:       time.Since(startTime).String(),
		InstrumentInfo: info,
	}, nil
}

// WithPowerMeter runs fn with exclusive access to a power meter driver. The
// instrument's mutex is held for the duration, so the bus conversation
// inside fn cannot interleave with other operations.
func (is *InstrumentService) WithPowerMeter(instrumentID string, fn func(driver.PowerMeterDriver) error) error {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return err
	}

	meter, ok := managed.driver.(driver.PowerMeterDriver)
	if !ok {
		return fmt.Errorf("instrument %s is not a power meter", instrumentID)
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()
	return fn(meter)
}

// WithScope runs fn with exclusive access to a scope driver.
func (is *InstrumentService) WithScope(instrumentID string, fn func(driver.ScopeDriver) error) error {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return err
	}

	scope, ok := managed.driver.(driver.ScopeDriver)
	if !ok {
		return fmt.Errorf("instrument %s is not an oscilloscope", instrumentID)
	}

	managed.mu.Lock()
	defer managed.mu.Unlock()
	return fn(scope)
}

// TrackedPowerMeterOperation runs fn against a power meter as a tracked
// operation: the returned record carries timing, outcome and the result
// payload, and the completion is announced to the event handler.
func (is *InstrumentService) TrackedPowerMeterOperation(instrumentID string, opType model.OperationType, fn func(driver.PowerMeterDriver) (model.JSONObject, error)) (*model.InstrumentOperation, error) {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return nil, err
	}

	meter, ok := managed.driver.(driver.PowerMeterDriver)
	if !ok {
		return nil, fmt.Errorf("instrument %s is not a power meter", instrumentID)
	}

	return is.runTracked(managed, opType, func() (model.JSONObject, error) {
		return fn(meter)
	})
}

// TrackedScopeOperation runs fn against a scope as a tracked operation.
func (is *InstrumentService) TrackedScopeOperation(instrumentID string, opType model.OperationType, fn func(driver.ScopeDriver) (model.JSONObject, error)) (*model.InstrumentOperation, error) {
	managed, err := is.getManaged(instrumentID)
	if err != nil {
		return nil, err
	}

	scope, ok := managed.driver.(driver.ScopeDriver)
	if !ok {
		return nil, fmt.Errorf("instrument %s is not an oscilloscope", instrumentID)
	}

	return is.runTracked(managed, opType, func() (model.JSONObject, error) {
		return fn(scope)
	})
}

// runTracked owns the bus conversation while fn runs and builds the
// operation record around it.
func (is *InstrumentService) runTracked(managed *managedInstrument, opType model.OperationType, fn func() (model.JSONObject, error)) (*model.InstrumentOperation, error) {
	operation := &model.InstrumentOperation{
		ID:            uuid.New(),
		InstrumentID:  managed.instrument.ID,
		OperationType: opType,
		Status:        model.OperationStatusProcessing,
		StartedAt:     time.Now(),
	}

	opLogger := utils.NewOperationLogger(is.logger.Logger, string(opType), operation.ID.String())
	opLogger.Start(zap.String("instrument_id", managed.instrument.InstrumentID))

	managed.mu.Lock()
	result, err := fn()
	managed.mu.Unlock()

	now := time.Now()
	duration := int(now.Sub(operation.StartedAt).Milliseconds())
	operation.CompletedAt = &now
	operation.DurationMs = &duration

	if err != nil {
		operation.Status = model.OperationStatusFailed
		if driver.IsTimeout(err) {
			operation.Status = model.OperationStatusTimeout
		}
		msg := err.Error()
		operation.ErrorMessage = &msg
		opLogger.Error(err)
	} else {
		operation.Status = model.OperationStatusSuccess
		operation.Result = result
		opLogger.Success(zap.Int("duration_ms", duration))
	}

	is.mu.RLock()
	handler := is.eventHandler
	is.mu.RUnlock()
	if handler != nil {
		handler.OnOperationCompleted(managed.instrument.InstrumentID, operation.ID.String(), &driver.OperationResult{
			Success:      err == nil,
			ErrorMessage: stringOrEmpty(operation.ErrorMessage),
			Data:         result,
			Duration:     now.Sub(operation.StartedAt).String(),
			Timestamp:    now,
		})
	}

	if err != nil {
		return operation, err
	}
	return operation, nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Helper methods

func (is *InstrumentService) getManaged(instrumentID string) (*managedInstrument, error) {
	is.mu.RLock()
	defer is.mu.RUnlock()

	managed, exists := is.instruments[instrumentID]
	if !exists {
		return nil, fmt.Errorf("instrument not found: %s", instrumentID)
	}
	return managed, nil
}

func (is *InstrumentService) instrumentLogger(instrument *model.Instrument) *utils.InstrumentLogger {
	return utils.NewInstrumentLogger(is.logger.Logger, instrument.InstrumentID,
		string(instrument.InstrumentType), string(instrument.Brand))
}

// validateRegisterRequest validates instrument registration request
func (is *InstrumentService) validateRegisterRequest(req *RegisterInstrumentRequest) error {
	if req.InstrumentID == "" {
		return fmt.Errorf("instrument_id is required")
	}
	if req.InstrumentType == "" {
		return fmt.Errorf("instrument_type is required")
	}
	if req.Brand == "" {
		return fmt.Errorf("brand is required")
	}
	if req.Model == "" {
		return fmt.Errorf("model is required")
	}
	if req.ConnectionType == "" {
		return fmt.Errorf("connection_type is required")
	}
	if req.ConnectionConfig == nil {
		return fmt.Errorf("connection_config is required")
	}
	return nil
}

// Data Transfer Objects

// RegisterInstrumentRequest represents instrument registration request
type RegisterInstrumentRequest struct {
	InstrumentID     string                 `json:"instrument_id"`
	InstrumentType   model.InstrumentType   `json:"instrument_type"`
	Brand            model.InstrumentBrand  `json:"brand"`
	Model            string                 `json:"model"`
	ConnectionType   model.ConnectionType   `json:"connection_type"`
	ConnectionConfig map[string]interface{} `json:"connection_config"`
	Location         *string                `json:"location,omitempty"`
	UserID           string                 `json:"user_id"`
}

// InstrumentFilter represents instrument listing filters
type InstrumentFilter struct {
	InstrumentType *model.InstrumentType   `json:"instrument_type,omitempty"`
	Brand          *model.InstrumentBrand  `json:"brand,omitempty"`
	Status         *model.InstrumentStatus `json:"status,omitempty"`
}

// InstrumentHealth represents instrument health information
type InstrumentHealth struct {
	InstrumentID string     `json:"instrument_id"`
	HealthScore  int        `json:"health_score"`
	Status       string     `json:"status"`
	LastCheck    *time.Time `json:"last_check,omitempty"`
	ResponseTime int64      `json:"response_time_ms"`
	SuccessRate  float64    `json:"success_rate"`
	ErrorCount   int64      `json:"error_count"`
}

// TestResult represents instrument test result
type TestResult struct {
	Success        bool                   `json:"success"`
	Duration       string                 `json:"duration"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	InstrumentInfo *driver.InstrumentInfo `json:"instrument_info,omitempty"`
}
