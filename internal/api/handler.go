package api

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/bobby-s-dev/trip-planner/internal/pipeline"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const maxLimit = 50

type PipelineState interface {
	LastReport() *pipeline.Report
	Running() bool
}

type RunTrigger interface {
	ForceRun() error
	GetStatus() map[string]interface{}
}

type Rankings interface {
	BestWeather(ctx context.Context, n int) ([]models.CityRanking, error)
	BestStays(ctx context.Context, cityIDs []int, perCity int) ([]models.AccommodationRecord, error)
	ForecastMap(ctx context.Context, n int) (*models.BubbleMap, error)
	StaysMap(ctx context.Context, cityIDs []int, perCity int) (*models.BubbleMap, error)
}

type ArtifactLister interface {
	List(ctx context.Context) ([]string, error)
}

type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Deps wires the handler. Artifacts and Cache may be nil.
type Deps struct {
	Pipeline     PipelineState
	Trigger      RunTrigger
	Rankings     Rankings
	Artifacts    ArtifactLister
	Cache        StatsProvider
	Gatherer     prometheus.Gatherer
	Cities       []string
	Country      string
	TopN         int
	StaysPerCity int
}

type Handler struct {
	deps   Deps
	logger *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.TopN <= 0 {
		deps.TopN = 5
	}
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(c *fiber.Ctx) error {
	response := fiber.Map{
		"status":          "healthy",
		"timestamp":       time.Now(),
		"uptime":          time.Since(startTime).String(),
		"pipeline_active": h.deps.Pipeline.Running(),
	}
	if report := h.deps.Pipeline.LastReport(); report != nil {
		response["last_run"] = fiber.Map{
			"run_id":      report.RunID,
			"status":      report.Status,
			"finished_at": report.FinishedAt,
		}
	}
	return c.JSON(response)
}

// GetMetrics handles GET /api/v1/metrics
func (h *Handler) GetMetrics(c *fiber.Ctx) error {
	metrics := fiber.Map{
		"scheduler": h.deps.Trigger.GetStatus(),
	}
	if h.deps.Cache != nil {
		metrics["cache"] = h.deps.Cache.GetStats()
	}
	if report := h.deps.Pipeline.LastReport(); report != nil {
		metrics["last_run_stages"] = report.Stages
	}

	return c.JSON(fiber.Map{
		"metrics":   metrics,
		"timestamp": time.Now(),
	})
}

// GetCities handles GET /api/v1/cities
func (h *Handler) GetCities(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"country": h.deps.Country,
		"cities":  h.deps.Cities,
	})
}

// TriggerRun handles POST /api/v1/pipeline/run
func (h *Handler) TriggerRun(c *fiber.Ctx) error {
	if err := h.deps.Trigger.ForceRun(); err != nil {
		if errors.Is(err, apperrors.ErrRunInProgress) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   err.Error(),
				"success": false,
			})
		}
		return err
	}

	h.logger.Info("Pipeline run requested", zap.String("ip", c.IP()))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": "Pipeline run started",
	})
}

// GetLastRun handles GET /api/v1/pipeline/last
func (h *Handler) GetLastRun(c *fiber.Ctx) error {
	report := h.deps.Pipeline.LastReport()
	if report == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "No pipeline run has completed yet",
			"running": h.deps.Pipeline.Running(),
		})
	}
	return c.JSON(report)
}

// GetArtifacts handles GET /api/v1/pipeline/artifacts
func (h *Handler) GetArtifacts(c *fiber.Ctx) error {
	if h.deps.Artifacts == nil {
		return c.JSON(fiber.Map{"artifacts": []string{}})
	}

	names, err := h.deps.Artifacts.List(c.Context())
	if err != nil {
		h.logger.Error("Failed to list artifacts", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to list artifacts",
			"details": err.Error(),
		})
	}
	if names == nil {
		names = []string{}
	}
	return c.JSON(fiber.Map{"artifacts": names})
}

// GetBestWeather handles GET /api/v1/rankings/weather
func (h *Handler) GetBestWeather(c *fiber.Ctx) error {
	limit, err := h.limitParam(c)
	if err != nil {
		return paramError(c, err)
	}

	rankings, err := h.deps.Rankings.BestWeather(c.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to rank cities", zap.Int("limit", limit), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to rank cities",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"limit":  limit,
		"cities": rankings,
	})
}

// GetBestStays handles GET /api/v1/rankings/stays
func (h *Handler) GetBestStays(c *fiber.Ctx) error {
	perCity, err := h.perCityParam(c)
	if err != nil {
		return paramError(c, err)
	}

	ids, err := h.cityIDs(c)
	if err != nil {
		return paramError(c, err)
	}

	stays, err := h.deps.Rankings.BestStays(c.Context(), ids, perCity)
	if err != nil {
		h.logger.Error("Failed to rank stays", zap.Ints("city_ids", ids), zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Failed to rank stays",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"city_ids": ids,
		"per_city": perCity,
		"stays":    stays,
	})
}

// GetForecastMap handles GET /api/v1/maps/forecast
func (h *Handler) GetForecastMap(c *fiber.Ctx) error {
	limit, err := h.limitParam(c)
	if err != nil {
		return paramError(c, err)
	}

	m, err := h.deps.Rankings.ForecastMap(c.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to build forecast map", zap.Error(err))
		return err
	}
	return c.JSON(m)
}

// GetStaysMap handles GET /api/v1/maps/stays
func (h *Handler) GetStaysMap(c *fiber.Ctx) error {
	perCity, err := h.perCityParam(c)
	if err != nil {
		return paramError(c, err)
	}

	ids, err := h.cityIDs(c)
	if err != nil {
		return paramError(c, err)
	}

	m, err := h.deps.Rankings.StaysMap(c.Context(), ids, perCity)
	if err != nil {
		h.logger.Error("Failed to build stays map", zap.Error(err))
		return err
	}
	return c.JSON(m)
}

func (h *Handler) limitParam(c *fiber.Ctx) (int, error) {
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(h.deps.TopN)))
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Limit parameter must be between 1 and 50")
	}
	return limit, nil
}

func (h *Handler) perCityParam(c *fiber.Ctx) (int, error) {
	perCity, err := strconv.Atoi(c.Query("per_city", strconv.Itoa(h.deps.StaysPerCity)))
	if err != nil || perCity < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "per_city parameter must be a non-negative integer")
	}
	return perCity, nil
}

// cityIDs reads the city_ids query parameter, defaulting to the current top
// cities by weather.
func (h *Handler) cityIDs(c *fiber.Ctx) ([]int, error) {
	raw := c.Query("city_ids")
	if raw == "" {
		top, err := h.deps.Rankings.BestWeather(c.Context(), h.deps.TopN)
		if err != nil {
			return nil, err
		}
		ids := make([]int, len(top))
		for i, city := range top {
			ids[i] = city.CityID
		}
		return ids, nil
	}

	var ids []int
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "city_ids must be a comma separated list of integers")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// paramError renders a rejected query parameter as 400. Other errors go to
// the app error handler.
func paramError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{
			"error": fe.Message,
		})
	}
	return err
}

var startTime = time.Now()
