// internal/handler/instrument_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"instrument-service/internal/model"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
	"instrument-service/pkg/driver"
)

// InstrumentHandler handles instrument-related HTTP requests
type InstrumentHandler struct {
	instrumentService *service.InstrumentService
	logger            *utils.ServiceLogger
}

// NewInstrumentHandler creates a new instrument handler
func NewInstrumentHandler(instrumentService *service.InstrumentService, logger *zap.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		instrumentService: instrumentService,
		logger:            utils.NewServiceLogger(logger, "instrument-handler"),
	}
}

// RegisterRoutes registers instrument-related routes
func (h *InstrumentHandler) RegisterRoutes(router *gin.RouterGroup) {
	instruments := router.Group("/instruments")
	{
		instruments.POST("", h.RegisterInstrument)
		instruments.GET("", h.ListInstruments)

		instrumentRoutes := instruments.Group("/:id")
		{
			instrumentRoutes.GET("", h.GetInstrument)
			instrumentRoutes.DELETE("", h.RemoveInstrument)
			instrumentRoutes.POST("/connect", h.ConnectInstrument)
			instrumentRoutes.POST("/disconnect", h.DisconnectInstrument)
			instrumentRoutes.POST("/test", h.TestInstrument)
			instrumentRoutes.GET("/health", h.GetInstrumentHealth)

			powerMeter := instrumentRoutes.Group("/power-meter")
			{
				powerMeter.GET("/power", h.ReadPower)
				powerMeter.GET("/range", h.GetRange)
				powerMeter.PUT("/range", h.SetRange)
				powerMeter.GET("/wavelength", h.GetWavelength)
				powerMeter.PUT("/wavelength", h.SetWavelength)
				powerMeter.GET("/units", h.GetUnits)
				powerMeter.PUT("/units", h.SetUnits)
				powerMeter.GET("/validity", h.GetMeasurementValidity)
				powerMeter.GET("/zero", h.GetZero)
				powerMeter.PUT("/zero", h.SetZero)
			}

			scope := instrumentRoutes.Group("/scope")
			{
				scope.GET("/channels/:channel/waveform", h.GetWaveform)
				scope.PUT("/measurements/:slot", h.SetMeasurementParams)
				scope.GET("/measurements/:slot/value", h.ReadMeasurementValue)
				scope.GET("/measurements/:slot/stats", h.ReadMeasurementStats)
				scope.POST("/acquire/run", h.RunAcquire)
				scope.POST("/acquire/stop", h.StopAcquire)
				scope.GET("/stats-mode", h.GetStatsMode)
				scope.PUT("/stats-mode", h.SetStatsMode)
				scope.PUT("/stats-nsamps", h.SetStatsNsamps)
			}
		}
	}
}

// Instrument lifecycle

// RegisterInstrument registers a new instrument
func (h *InstrumentHandler) RegisterInstrument(c *gin.Context) {
	var req service.RegisterInstrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if userID, exists := c.Get("user_id"); exists {
		req.UserID = userID.(string)
	}

	instrument, err := h.instrumentService.RegisterInstrument(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to register instrument", zap.Error(err))
		utils.ErrorResponse(c, http.StatusBadRequest, "Failed to register instrument", err)
		return
	}

	h.logger.Info("Instrument registered successfully", zap.String("instrument_id", instrument.InstrumentID))
	utils.SuccessResponse(c, http.StatusCreated, "Instrument registered successfully", instrument)
}

// ListInstruments lists instruments with optional filtering
func (h *InstrumentHandler) ListInstruments(c *gin.Context) {
	filter := &service.InstrumentFilter{}

	if instrumentType := c.Query("instrument_type"); instrumentType != "" {
		it := model.InstrumentType(instrumentType)
		filter.InstrumentType = &it
	}
	if brand := c.Query("brand"); brand != "" {
		b := model.InstrumentBrand(brand)
		filter.Brand = &b
	}
	if status := c.Query("status"); status != "" {
		s := model.InstrumentStatus(status)
		filter.Status = &s
	}

	instruments := h.instrumentService.ListInstruments(c.Request.Context(), filter)
	utils.SuccessResponse(c, http.StatusOK, "Instruments retrieved successfully", gin.H{
		"instruments": instruments,
		"count":       len(instruments),
	})
}

// GetInstrument retrieves instrument by ID
func (h *InstrumentHandler) GetInstrument(c *gin.Context) {
	instrumentID := c.Param("id")

	instrument, err := h.instrumentService.GetInstrument(c.Request.Context(), instrumentID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Instrument not found", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument retrieved successfully", instrument)
}

// RemoveInstrument removes an instrument
func (h *InstrumentHandler) RemoveInstrument(c *gin.Context) {
	instrumentID := c.Param("id")

	if err := h.instrumentService.RemoveInstrument(c.Request.Context(), instrumentID, getUserID(c)); err != nil {
		h.logger.Error("Failed to remove instrument", zap.Error(err), zap.String("instrument_id", instrumentID))
		utils.ErrorResponse(c, http.StatusConflict, "Failed to remove instrument", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument removed successfully", gin.H{"instrument_id": instrumentID})
}

// ConnectInstrument connects to an instrument
func (h *InstrumentHandler) ConnectInstrument(c *gin.Context) {
	instrumentID := c.Param("id")

	if err := h.instrumentService.ConnectInstrument(c.Request.Context(), instrumentID); err != nil {
		h.logger.Error("Failed to connect instrument", zap.Error(err), zap.String("instrument_id", instrumentID))
		utils.ErrorResponse(c, statusForError(err), "Failed to connect instrument", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument connected successfully", gin.H{"instrument_id": instrumentID})
}

// DisconnectInstrument disconnects from an instrument
func (h *InstrumentHandler) DisconnectInstrument(c *gin.Context) {
	instrumentID := c.Param("id")

	if err := h.instrumentService.DisconnectInstrument(c.Request.Context(), instrumentID); err != nil {
		h.logger.Error("Failed to disconnect instrument", zap.Error(err), zap.String("instrument_id", instrumentID))
		utils.ErrorResponse(c, statusForError(err), "Failed to disconnect instrument", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument disconnected successfully", gin.H{"instrument_id": instrumentID})
}

// TestInstrument tests instrument connectivity
func (h *InstrumentHandler) TestInstrument(c *gin.Context) {
	instrumentID := c.Param("id")

	result, err := h.instrumentService.TestInstrument(c.Request.Context(), instrumentID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Failed to test instrument", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument test completed", result)
}

// GetInstrumentHealth retrieves instrument health metrics
func (h *InstrumentHandler) GetInstrumentHealth(c *gin.Context) {
	instrumentID := c.Param("id")

	health, err := h.instrumentService.GetInstrumentHealth(c.Request.Context(), instrumentID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Failed to get instrument health", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument health retrieved successfully", health)
}

// Power meter operations

// ReadPower reads the current power in watts. The read is a tracked
// operation: the response carries the value plus timing and outcome.
func (h *InstrumentHandler) ReadPower(c *gin.Context) {
	instrumentID := c.Param("id")

	operation, err := h.instrumentService.TrackedPowerMeterOperation(instrumentID, model.OperationTypePowerReading,
		func(meter driver.PowerMeterDriver) (model.JSONObject, error) {
			power, err := meter.Power(c.Request.Context())
			if err != nil {
				return nil, err
			}
			return model.JSONObject{"power": power}, nil
		})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to read power", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Power read successfully", operation)
}

// GetRange reads the current range setting
func (h *InstrumentHandler) GetRange(c *gin.Context) {
	instrumentID := c.Param("id")

	var n int
	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		var err error
		n, err = meter.GetRange(c.Request.Context())
		return err
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get range", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Range retrieved successfully", gin.H{"range": n})
}

// SetRange sets the range. 0 selects auto-range.
func (h *InstrumentHandler) SetRange(c *gin.Context) {
	instrumentID := c.Param("id")

	var req struct {
		Range int `json:"range"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		return meter.SetRange(c.Request.Context(), req.Range)
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to set range", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Range set successfully", gin.H{"range": req.Range})
}

// GetWavelength reads the configured wavelength
func (h *InstrumentHandler) GetWavelength(c *gin.Context) {
	instrumentID := c.Param("id")

	var wavelength model.Quantity
	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		var err error
		wavelength, err = meter.GetWavelength(c.Request.Context())
		return err
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get wavelength", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Wavelength retrieved successfully", wavelength)
}

// SetWavelength sets the input wavelength in nanometers
func (h *InstrumentHandler) SetWavelength(c *gin.Context) {
	instrumentID := c.Param("id")

	var req struct {
		Nanometers int `json:"nanometers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		return meter.SetWavelength(c.Request.Context(), req.Nanometers)
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to set wavelength", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Wavelength set successfully", gin.H{"nanometers": req.Nanometers})
}

// GetUnits reads the display-units mode
func (h *InstrumentHandler) GetUnits(c *gin.Context) {
	instrumentID := c.Param("id")

	var units driver.PowerUnits
	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		var err error
		units, err = meter.GetUnits(c.Request.Context())
		return err
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get units", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Units retrieved successfully", gin.H{"units": units})
}

// SetUnits sets the display-units mode
func (h *InstrumentHandler) SetUnits(c *gin.Context) {
	instrumentID := c.Param("id")

	var req struct {
		Units string `json:"units"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		return meter.SetUnits(c.Request.Context(), req.Units)
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to set units", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Units set successfully", gin.H{"units": req.Units})
}

// GetMeasurementValidity reports whether the current reading can be trusted
func (h *InstrumentHandler) GetMeasurementValidity(c *gin.Context) {
	instrumentID := c.Param("id")

	var valid bool
	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		var err error
		valid, err = meter.IsMeasurementValid(c.Request.Context())
		return err
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to check measurement validity", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Measurement validity checked", gin.H{"valid": valid})
}

// GetZero reads the zero-function state
func (h *InstrumentHandler) GetZero(c *gin.Context) {
	instrumentID := c.Param("id")

	var enabled bool
	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		var err error
		enabled, err = meter.ZeroEnabled(c.Request.Context())
		return err
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get zero state", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Zero state retrieved successfully", gin.H{"enabled": enabled})
}

// SetZero enables or disables the zero function
func (h *InstrumentHandler) SetZero(c *gin.Context) {
	instrumentID := c.Param("id")

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.instrumentService.WithPowerMeter(instrumentID, func(meter driver.PowerMeterDriver) error {
		if req.Enabled {
			return meter.EnableZero(c.Request.Context())
		}
		return meter.DisableZero(c.Request.Context())
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to set zero state", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Zero state set successfully", gin.H{"enabled": req.Enabled})
}

// Oscilloscope operations

// GetWaveform pulls one channel's waveform
func (h *InstrumentHandler) GetWaveform(c *gin.Context) {
	instrumentID := c.Param("id")

	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid channel", err)
		return
	}

	operation, err := h.instrumentService.TrackedScopeOperation(instrumentID, model.OperationTypeWaveformCapture,
		func(scope driver.ScopeDriver) (model.JSONObject, error) {
			waveform, err := scope.GetData(c.Request.Context(), channel)
			if err != nil {
				return nil, err
			}
			return model.JSONObject{"channel": channel, "waveform": waveform}, nil
		})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to capture waveform", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Waveform captured successfully", operation)
}

// SetMeasurementParams configures a measurement slot
func (h *InstrumentHandler) SetMeasurementParams(c *gin.Context) {
	instrumentID := c.Param("id")

	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid measurement slot", err)
		return
	}

	var req struct {
		Type    string `json:"type"`
		Channel int    `json:"channel"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err = h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
		return scope.SetMeasurementParams(c.Request.Context(), driver.MeasurementSlot(slot), req.Type, req.Channel)
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to configure measurement", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Measurement configured successfully", gin.H{
		"slot":    slot,
		"type":    req.Type,
		"channel": req.Channel,
	})
}

// ReadMeasurementValue reads a measurement slot's current value
func (h *InstrumentHandler) ReadMeasurementValue(c *gin.Context) {
	instrumentID := c.Param("id")

	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid measurement slot", err)
		return
	}

	var value model.Quantity
	err = h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
		var err error
		value, err = scope.ReadMeasurementValue(c.Request.Context(), driver.MeasurementSlot(slot))
		return err
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to read measurement", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Measurement read successfully", value)
}

// ReadMeasurementStats reads a measurement slot's statistics
func (h *InstrumentHandler) ReadMeasurementStats(c *gin.Context) {
	instrumentID := c.Param("id")

	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid measurement slot", err)
		return
	}

	operation, err := h.instrumentService.TrackedScopeOperation(instrumentID, model.OperationTypeMeasurementStats,
		func(scope driver.ScopeDriver) (model.JSONObject, error) {
			stats, err := scope.ReadMeasurementStats(c.Request.Context(), driver.MeasurementSlot(slot))
			if err != nil {
				return nil, err
			}
			return model.JSONObject{"slot": slot, "stats": stats}, nil
		})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to read measurement statistics", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Measurement statistics read successfully", operation)
}

// RunAcquire starts acquisition
func (h *InstrumentHandler) RunAcquire(c *gin.Context) {
	instrumentID := c.Param("id")

	err := h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
		return scope.RunAcquire(c.Request.Context())
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to start acquisition", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Acquisition started", nil)
}

// StopAcquire stops acquisition
func (h *InstrumentHandler) StopAcquire(c *gin.Context) {
	instrumentID := c.Param("id")

	err := h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
		return scope.StopAcquire(c.Request.Context())
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to stop acquisition", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Acquisition stopped", nil)
}

// GetStatsMode reports whether measurement statistics mode is on
func (h *InstrumentHandler) GetStatsMode(c *gin.Context) {
	instrumentID := c.Param("id")

	var on bool
	err := h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
		var err error
		on, err = scope.AreMeasurementStatsOn(c.Request.Context())
		return err
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to get statistics mode", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Statistics mode retrieved", gin.H{"enabled": on})
}

// SetStatsMode turns measurement statistics mode on or off
func (h *InstrumentHandler) SetStatsMode(c *gin.Context) {
	instrumentID := c.Param("id")

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
		return scope.EnableMeasurementStats(c.Request.Context(), req.Enabled)
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to set statistics mode", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Statistics mode set successfully", gin.H{"enabled": req.Enabled})
}

// SetStatsNsamps sets the statistics window sample count
func (h *InstrumentHandler) SetStatsNsamps(c *gin.Context) {
	instrumentID := c.Param("id")

	var req struct {
		NSamps int `json:"nsamps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.instrumentService.WithScope(instrumentID, func(scope driver.ScopeDriver) error {
		return scope.SetMeasurementNsamps(c.Request.Context(), req.NSamps)
	})
	if err != nil {
		utils.ErrorResponse(c, statusForError(err), "Failed to set statistics window", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Statistics window set successfully", gin.H{"nsamps": req.NSamps})
}

// Helper functions

// getUserID extracts user ID from context
func getUserID(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		return userID.(string)
	}
	return ""
}

// statusForError maps driver error kinds to HTTP status codes
func statusForError(err error) int {
	switch driver.KindOf(err) {
	case driver.KindInvalidArgument:
		return http.StatusBadRequest
	case driver.KindPrecondition:
		return http.StatusConflict
	case driver.KindUnsupported:
		return http.StatusUnprocessableEntity
	case driver.KindTimeout:
		return http.StatusGatewayTimeout
	case driver.KindTransport, driver.KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
