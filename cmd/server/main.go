package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/api"
	"github.com/bobby-s-dev/trip-planner/internal/app"
	"github.com/bobby-s-dev/trip-planner/internal/config"
	"github.com/bobby-s-dev/trip-planner/internal/scheduler"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	level := zap.NewAtomicLevel()
	logCfg := zap.NewProductionConfig()
	logCfg.Level = level
	logger, _ := logCfg.Build()
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	logger.Info("Starting Trip Planner Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		logger.Warn("Invalid log level, keeping info", zap.String("level", cfg.Server.LogLevel))
	}

	// Wire cache, warehouse, object store and pipeline
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.Build(startupCtx, cfg, logger)
	cancelStartup()
	if err != nil {
		application.Close()
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	// Initialize scheduler
	pipelineScheduler, err := scheduler.NewScheduler(application.Pipeline, scheduler.Config{
		Spec:       cfg.Scheduler.Spec,
		RunTimeout: cfg.Scheduler.RunTimeout,
		RunOnStart: cfg.Scheduler.RunOnStart,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize scheduler", zap.Error(err))
	}

	// Create Fiber app
	server := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		JSONEncoder:  json.Marshal,
		ErrorHandler: api.ErrorHandler,
	})

	// Setup handlers and routes
	handler := api.NewHandler(api.Deps{
		Pipeline:     application.Pipeline,
		Trigger:      pipelineScheduler,
		Rankings:     application.Ranking,
		Artifacts:    application.Artifacts,
		Cache:        application.Cache,
		Gatherer:     application.Registry,
		Cities:       cfg.Pipeline.Cities,
		Country:      cfg.Pipeline.Country,
		TopN:         cfg.Pipeline.TopN,
		StaysPerCity: cfg.Pipeline.StaysPerCity,
	}, logger)
	api.SetupRoutes(server, handler, logger)

	// Start scheduler
	if cfg.Scheduler.Enabled {
		pipelineScheduler.Start()
	}

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("Starting server", zap.String("address", addr))

		if err := server.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop scheduler, cancelling any run in flight
	pipelineScheduler.Stop()

	// Shutdown Fiber app
	if err := server.ShutdownWithContext(ctx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}
