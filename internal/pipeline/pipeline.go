package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/bobby-s-dev/trip-planner/internal/scraper"
	"github.com/bobby-s-dev/trip-planner/internal/services"
	"github.com/bobby-s-dev/trip-planner/internal/storage"
	"github.com/bobby-s-dev/trip-planner/internal/warehouse"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StageGeocode            = "geocode"
	StageForecast           = "forecast"
	StageScrape             = "scrape"
	StageLoadCities         = "load_cities"
	StageLoadForecasts      = "load_forecasts"
	StageLoadAccommodations = "load_accommodations"
	StageRank               = "rank"
)

type Resolver interface {
	Resolve(ctx context.Context, names []string, country string) ([]models.City, services.GeoReport, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, cities []models.City) services.ForecastBatch
}

type Scraper interface {
	Scrape(ctx context.Context, cities []models.City) ([]models.RawListing, scraper.Report)
}

type Loader interface {
	LoadCities(ctx context.Context, cities []models.City) ([]models.City, error)
	LoadForecasts(ctx context.Context, records []models.ForecastRecord) ([]models.ForecastRecord, error)
	LoadAccommodations(ctx context.Context, listings []models.RawListing, cities []models.City) ([]models.AccommodationRecord, warehouse.LoadReport, error)
}

type Ranker interface {
	BestWeather(ctx context.Context, n int) ([]models.CityRanking, error)
	ForecastMapOf(rankings []models.CityRanking) *models.BubbleMap
	StaysMap(ctx context.Context, cityIDs []int, perCity int) (*models.BubbleMap, error)
}

// ArtifactStore keeps the intermediate files of a run so the warehouse can
// be rebuilt without calling the external services again.
type ArtifactStore interface {
	WriteCities(ctx context.Context, cities []models.City) error
	ReadCities(ctx context.Context) ([]models.City, error)
	WriteForecasts(ctx context.Context, records []models.ForecastRecord) error
	ReadForecasts(ctx context.Context) ([]models.ForecastRecord, error)
	WriteListings(ctx context.Context, listings []models.RawListing) error
	ReadListings(ctx context.Context) ([]models.RawListing, error)
	WriteMap(ctx context.Context, name string, m *models.BubbleMap) error
}

// Deps are the collaborators of a pipeline. Scraper, Artifacts and Metrics
// may be nil.
type Deps struct {
	Resolver  Resolver
	Fetcher   Fetcher
	Scraper   Scraper
	Loader    Loader
	Ranker    Ranker
	Artifacts ArtifactStore
	Metrics   *Metrics
}

type Options struct {
	Cities       []string
	Country      string
	TopN         int
	StaysPerCity int
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// StageReport counts what one stage consumed and produced. Skipped items
// were dropped as unusable, failed items hit an error.
type StageReport struct {
	Name     string        `json:"name"`
	Input    int           `json:"input"`
	Output   int           `json:"output"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type Report struct {
	RunID          string               `json:"run_id"`
	Mode           string               `json:"mode"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
	Status         Status               `json:"status"`
	Stages         []StageReport        `json:"stages"`
	Geo            *services.GeoReport  `json:"geo,omitempty"`
	Scrape         *scraper.Report      `json:"scrape,omitempty"`
	TopCities      []models.CityRanking `json:"top_cities"`
	ArtifactErrors []string             `json:"artifact_errors,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Stage returns the report of the named stage, if it ran.
func (r *Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

type Pipeline struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	mu      sync.Mutex
	running atomic.Bool

	reportMu   sync.RWMutex
	lastReport *Report
}

func New(deps Deps, opts Options, logger *zap.Logger) *Pipeline {
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logger,
	}
}

// run is the state of a single execution.
type run struct {
	report *Report
	logger *zap.Logger
}

// Run executes every stage in order: geocode, forecast, scrape, load, rank.
// Per-item failures are counted and the run continues; a failed geocoding
// batch, a warehouse error or a cancelled context stop it. The report is
// returned even when the run fails.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if !p.mu.TryLock() {
		return nil, apperrors.ErrRunInProgress
	}
	defer p.mu.Unlock()
	p.running.Store(true)
	defer p.running.Store(false)

	r := p.newRun("fetch")
	r.logger.Info("Pipeline run started",
		zap.Int("cities", len(p.opts.Cities)),
		zap.String("country", p.opts.Country))

	err := p.execute(ctx, r)
	return p.finish(r, err)
}

// Reload rebuilds the warehouse and the ranking output from the artifacts of
// a previous run, without calling any external service.
func (p *Pipeline) Reload(ctx context.Context) (*Report, error) {
	if p.deps.Artifacts == nil {
		return nil, fmt.Errorf("%w: no artifact store configured", apperrors.ErrConfiguration)
	}
	if !p.mu.TryLock() {
		return nil, apperrors.ErrRunInProgress
	}
	defer p.mu.Unlock()
	p.running.Store(true)
	defer p.running.Store(false)

	r := p.newRun("reload")
	r.logger.Info("Pipeline reload started")

	err := p.reload(ctx, r)
	return p.finish(r, err)
}

func (p *Pipeline) Running() bool {
	return p.running.Load()
}

func (p *Pipeline) LastReport() *Report {
	p.reportMu.RLock()
	defer p.reportMu.RUnlock()
	return p.lastReport
}

func (p *Pipeline) newRun(mode string) *run {
	id := uuid.NewString()
	return &run{
		report: &Report{
			RunID:     id,
			Mode:      mode,
			StartedAt: time.Now().UTC(),
			TopCities: []models.CityRanking{},
		},
		logger: p.logger.With(zap.String("run_id", id), zap.String("mode", mode)),
	}
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	cities, err := p.geocode(ctx, r)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	forecasts := p.forecast(ctx, r, cities)
	if err := ctx.Err(); err != nil {
		return err
	}

	var listings []models.RawListing
	withListings := p.deps.Scraper != nil
	if withListings {
		listings = p.scrape(ctx, r, cities)
		if err := ctx.Err(); err != nil {
			return err
		}
	} else {
		r.logger.Info("Scraper disabled, re-keying existing accommodations")
	}

	return p.loadAndRank(ctx, r, cities, forecasts, listings, withListings)
}

func (p *Pipeline) reload(ctx context.Context, r *run) error {
	cities, err := p.deps.Artifacts.ReadCities(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cities artifact: %w", err)
	}
	forecasts, err := p.deps.Artifacts.ReadForecasts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read forecasts artifact: %w", err)
	}

	withListings := true
	listings, err := p.deps.Artifacts.ReadListings(ctx)
	if errors.Is(err, storage.ErrObjectNotFound) {
		r.logger.Info("No listings artifact, re-keying existing accommodations")
		withListings = false
	} else if err != nil {
		return fmt.Errorf("failed to read listings artifact: %w", err)
	}

	return p.loadAndRank(ctx, r, cities, forecasts, listings, withListings)
}

func (p *Pipeline) geocode(ctx context.Context, r *run) ([]models.City, error) {
	start := time.Now()
	cities, geo, err := p.deps.Resolver.Resolve(ctx, p.opts.Cities, p.opts.Country)
	r.report.Geo = &geo

	if err == nil && len(cities) == 0 {
		err = fmt.Errorf("%w: none of %d cities resolved", apperrors.ErrResolutionMiss, geo.Requested)
	}
	p.record(r, StageReport{
		Name:    StageGeocode,
		Input:   geo.Requested,
		Output:  len(cities),
		Skipped: len(geo.Misses),
		Failed:  len(geo.Failed),
	}, start, err)
	if err != nil {
		return nil, err
	}

	p.writeArtifact(ctx, r, storage.CitiesObject, func(ctx context.Context) error {
		return p.deps.Artifacts.WriteCities(ctx, cities)
	})
	return cities, nil
}

func (p *Pipeline) forecast(ctx context.Context, r *run, cities []models.City) []models.ForecastRecord {
	start := time.Now()
	batch := p.deps.Fetcher.Fetch(ctx, cities)

	stage := StageReport{
		Name:   StageForecast,
		Input:  len(cities),
		Output: len(batch.Records),
		Failed: len(batch.Failed),
	}
	if err := batch.Err(); err != nil {
		stage.Error = err.Error()
	}
	p.record(r, stage, start, nil)

	p.writeArtifact(ctx, r, storage.ForecastsObject, func(ctx context.Context) error {
		return p.deps.Artifacts.WriteForecasts(ctx, batch.Records)
	})
	return batch.Records
}

func (p *Pipeline) scrape(ctx context.Context, r *run, cities []models.City) []models.RawListing {
	start := time.Now()
	listings, report := p.deps.Scraper.Scrape(ctx, cities)
	r.report.Scrape = &report

	var detailFailures int
	for _, city := range report.Cities {
		detailFailures += city.DetailFailures
	}
	p.record(r, StageReport{
		Name:    StageScrape,
		Input:   len(cities),
		Output:  len(listings),
		Skipped: detailFailures,
		Failed:  report.Failed,
	}, start, nil)

	p.writeArtifact(ctx, r, storage.ListingsObject, func(ctx context.Context) error {
		return p.deps.Artifacts.WriteListings(ctx, listings)
	})
	return listings
}

// loadAndRank writes the three tables in dependency order, cities first, and
// then ranks. Accommodations are only replaced when listings were collected;
// otherwise LoadCities has re-keyed the stored ones to the new city ids.
func (p *Pipeline) loadAndRank(ctx context.Context, r *run, cities []models.City, forecasts []models.ForecastRecord, listings []models.RawListing, withListings bool) error {
	start := time.Now()
	loaded, err := p.deps.Loader.LoadCities(ctx, cities)
	p.record(r, StageReport{Name: StageLoadCities, Input: len(cities), Output: len(loaded)}, start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	rows, err := p.deps.Loader.LoadForecasts(ctx, forecasts)
	p.record(r, StageReport{Name: StageLoadForecasts, Input: len(forecasts), Output: len(rows)}, start, err)
	if err != nil {
		return err
	}

	if withListings {
		start = time.Now()
		stays, loadReport, err := p.deps.Loader.LoadAccommodations(ctx, listings, loaded)
		stage := StageReport{
			Name:    StageLoadAccommodations,
			Input:   len(listings),
			Output:  len(stays),
			Skipped: loadReport.Skipped,
		}
		if err == nil {
			// malformed rows are counted, not fatal
			if skipped := loadReport.Errors.ErrorOrNil(); skipped != nil {
				stage.Error = skipped.Error()
			}
		}
		p.record(r, stage, start, err)
		if err != nil {
			return err
		}
	}

	return p.rank(ctx, r)
}

func (p *Pipeline) rank(ctx context.Context, r *run) error {
	start := time.Now()
	top, err := p.deps.Ranker.BestWeather(ctx, p.opts.TopN)
	if err != nil {
		p.record(r, StageReport{Name: StageRank}, start, err)
		return err
	}
	r.report.TopCities = top

	ids := make([]int, len(top))
	for i, city := range top {
		ids[i] = city.CityID
	}

	forecastMap := p.deps.Ranker.ForecastMapOf(top)
	staysMap, err := p.deps.Ranker.StaysMap(ctx, ids, p.opts.StaysPerCity)
	if err != nil {
		p.record(r, StageReport{Name: StageRank, Output: len(top)}, start, err)
		return err
	}
	p.record(r, StageReport{Name: StageRank, Input: p.opts.TopN, Output: len(top)}, start, nil)

	p.writeArtifact(ctx, r, storage.ForecastMapName, func(ctx context.Context) error {
		return p.deps.Artifacts.WriteMap(ctx, storage.ForecastMapName, forecastMap)
	})
	p.writeArtifact(ctx, r, storage.StaysMapName, func(ctx context.Context) error {
		return p.deps.Artifacts.WriteMap(ctx, storage.StaysMapName, staysMap)
	})

	names := make([]string, len(top))
	for i, city := range top {
		names[i] = city.City
	}
	r.logger.Info("Top destinations ranked",
		zap.Strings("cities", names),
		zap.Int("stays", len(staysMap.Points)))
	return nil
}

func (p *Pipeline) record(r *run, stage StageReport, start time.Time, err error) {
	stage.Duration = time.Since(start)
	if err != nil {
		stage.Error = err.Error()
	}
	r.report.Stages = append(r.report.Stages, stage)
	p.deps.Metrics.observeStage(stage)

	fields := []zap.Field{
		zap.String("stage", stage.Name),
		zap.Int("input", stage.Input),
		zap.Int("output", stage.Output),
		zap.Int("skipped", stage.Skipped),
		zap.Int("failed", stage.Failed),
		zap.Duration("duration", stage.Duration),
	}
	if err != nil {
		r.logger.Error("Stage failed", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("Stage completed", fields...)
}

// writeArtifact stores one intermediate file. A storage failure is reported
// but never stops the run.
func (p *Pipeline) writeArtifact(ctx context.Context, r *run, name string, write func(context.Context) error) {
	if p.deps.Artifacts == nil {
		return
	}
	if err := write(ctx); err != nil {
		r.report.ArtifactErrors = append(r.report.ArtifactErrors, fmt.Sprintf("%s: %v", name, err))
		r.logger.Warn("Failed to write artifact",
			zap.String("artifact", name),
			zap.Error(err))
	}
}

func (p *Pipeline) finish(r *run, err error) (*Report, error) {
	report := r.report
	report.FinishedAt = time.Now().UTC()

	switch {
	case err != nil:
		report.Status = StatusFailed
		report.Error = err.Error()
	case degraded(report):
		report.Status = StatusPartial
	default:
		report.Status = StatusSucceeded
	}

	p.deps.Metrics.observeRun(report.Status, report.FinishedAt)

	var skipped, failed int
	for _, s := range report.Stages {
		skipped += s.Skipped
		failed += s.Failed
	}
	fields := []zap.Field{
		zap.String("status", string(report.Status)),
		zap.Int("stages", len(report.Stages)),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int("artifact_errors", len(report.ArtifactErrors)),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	if err != nil {
		r.logger.Error("Pipeline run failed", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("Pipeline run completed", fields...)
	}

	p.reportMu.Lock()
	p.lastReport = report
	p.reportMu.Unlock()

	return report, err
}

func degraded(report *Report) bool {
	if len(report.ArtifactErrors) > 0 {
		return true
	}
	for _, s := range report.Stages {
		if s.Skipped > 0 || s.Failed > 0 {
			return true
		}
	}
	return false
}
