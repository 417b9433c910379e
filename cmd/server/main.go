// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/driver"
	"instrument-service/internal/model"
	"instrument-service/internal/routes"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server

	// Services
	instrumentService *service.InstrumentService

	// Driver registry
	driverRegistry *driver.Registry
}

func main() {
	// Initialize application
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create service logger
	serviceLogger := utils.NewServiceLogger(logger, "instrument-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	// Initialize components
	if err := app.initializeDriverRegistry(); err != nil {
		return nil, fmt.Errorf("failed to initialize driver registry: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDriverRegistry sets up instrument driver registry
func (app *Application) initializeDriverRegistry() error {
	app.driverRegistry = driver.NewRegistry(app.logger)

	// Register all supported drivers
	driver.RegisterDefaultDrivers(app.driverRegistry, app.logger)

	app.logger.Info("Driver registry initialized successfully",
		zap.Int("registered_drivers", len(app.driverRegistry.ListDrivers())),
	)
	return nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.instrumentService = service.NewInstrumentService(
		app.driverRegistry,
		app.config,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	// Create router
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.instrumentService,
	)

	// Setup router with all routes
	router := routerManager.SetupRouter()

	// Create HTTP server
	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)

	return nil
}

// registerConfiguredInstruments registers the instruments listed in the
// configuration file. Failures are logged, not fatal: the rest of the list
// and the HTTP registration path remain available.
func (app *Application) registerConfiguredInstruments() {
	for _, entry := range app.config.Instruments {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		req := &service.RegisterInstrumentRequest{
			InstrumentID:     entry.InstrumentID,
			InstrumentType:   model.InstrumentType(entry.InstrumentType),
			Brand:            model.InstrumentBrand(entry.Brand),
			Model:            entry.Model,
			ConnectionType:   model.ConnectionType(entry.ConnectionType),
			ConnectionConfig: entry.ConnectionConfig,
			UserID:           "system",
		}
		if entry.Location != "" {
			location := entry.Location
			req.Location = &location
		}

		if _, err := app.instrumentService.RegisterInstrument(ctx, req); err != nil {
			app.logger.Error("Failed to register configured instrument",
				zap.Error(err),
				zap.String("instrument_id", entry.InstrumentID),
			)
			cancel()
			continue
		}

		if err := app.instrumentService.ConnectInstrument(ctx, entry.InstrumentID); err != nil {
			app.logger.Warn("Configured instrument registered but not reachable",
				zap.Error(err),
				zap.String("instrument_id", entry.InstrumentID),
			)
		}
		cancel()
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	// Create channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for signal
	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Perform graceful shutdown
	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "instrument-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Disconnect remaining instruments so serial/USB handles are released
	for _, instrument := range app.instrumentService.ListInstruments(ctx, nil) {
		if instrument.IsOnline() {
			if err := app.instrumentService.DisconnectInstrument(ctx, instrument.InstrumentID); err != nil {
				app.logger.Error("Failed to disconnect instrument during shutdown",
					zap.Error(err),
					zap.String("instrument_id", instrument.InstrumentID),
				)
			}
		}
	}

	// Flush logger
	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}

	app.logger.Info("Application shutdown completed")
}

func (app *Application) Start() error {
	// Start server in goroutine
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Register instruments declared in the configuration
	go app.registerConfiguredInstruments()

	// Wait for interrupt signal
	app.waitForShutdown()

	return nil
}
