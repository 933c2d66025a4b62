package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRoutes(app *fiber.App, handler *Handler, log *zap.Logger) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD",
	}))

	// Custom logger middleware
	app.Use(logger.New(logger.Config{
		Format:     "${time} ${pid} ${locals:requestid} ${status} - ${method} ${path}\n",
		TimeFormat: time.RFC3339,
	}))

	// Prometheus exposition
	if handler.deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(handler.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	api := app.Group("/api/v1")

	// Health check
	api.Get("/health", handler.GetHealth)

	// Metrics
	api.Get("/metrics", handler.GetMetrics)

	// Cities
	api.Get("/cities", handler.GetCities)

	// Pipeline routes
	runs := api.Group("/pipeline")
	runs.Post("/run", handler.TriggerRun)
	runs.Get("/last", handler.GetLastRun)
	runs.Get("/artifacts", handler.GetArtifacts)

	// Ranking routes
	rankings := api.Group("/rankings")
	rankings.Get("/weather", handler.GetBestWeather)
	rankings.Get("/stays", handler.GetBestStays)

	// Map routes
	maps := api.Group("/maps")
	maps.Get("/forecast", handler.GetForecastMap)
	maps.Get("/stays", handler.GetStaysMap)

	log.Debug("Routes registered", zap.Int("handlers", int(app.HandlersCount())))

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
			"path":  c.Path(),
		})
	})
}
