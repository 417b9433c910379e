// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/model"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	instrumentService *service.InstrumentService
	config            *config.Config
	logger            *utils.ServiceLogger
	startTime         time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(instrumentService *service.InstrumentService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		instrumentService: instrumentService,
		config:            config,
		logger:            utils.NewServiceLogger(logger, "health-handler"),
		startTime:         time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]CheckResult),
	}

	instruments := h.instrumentService.ListInstruments(c.Request.Context(), nil)
	online := 0
	errored := 0
	for _, inst := range instruments {
		switch inst.Status {
		case model.InstrumentStatusOnline:
			online++
		case model.InstrumentStatusError:
			errored++
		}
	}

	instrumentCheck := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"registered": len(instruments),
			"online":     online,
			"errored":    errored,
		},
	}
	if errored > 0 {
		instrumentCheck.Status = "degraded"
		instrumentCheck.Message = "one or more instruments report errors"
		health.Status = "degraded"
	}
	health.Checks["instruments"] = instrumentCheck

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck for Kubernetes readiness probe
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	// Simple liveness check - service is alive if it can respond
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
