package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobby-s-dev/trip-planner/internal/app"
	"github.com/bobby-s-dev/trip-planner/internal/config"
	"github.com/bobby-s-dev/trip-planner/internal/pipeline"
	"go.uber.org/zap"
)

// Runs the pipeline once and prints the run report as JSON.
func main() {
	reload := flag.Bool("reload", false, "rebuild the warehouse from stored artifacts instead of fetching")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Scheduler.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Scheduler.RunTimeout)
		defer cancel()
	}

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		application.Close()
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	var report *pipeline.Report
	if *reload {
		report, err = application.Pipeline.Reload(ctx)
	} else {
		report, err = application.Pipeline.Run(ctx)
	}

	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}
	application.Close()

	if err != nil {
		logger.Error("Pipeline failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
