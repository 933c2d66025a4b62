package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/cache"
	"github.com/bobby-s-dev/trip-planner/internal/config"
	"github.com/bobby-s-dev/trip-planner/internal/pipeline"
	"github.com/bobby-s-dev/trip-planner/internal/scraper"
	"github.com/bobby-s-dev/trip-planner/internal/services"
	"github.com/bobby-s-dev/trip-planner/internal/storage"
	"github.com/bobby-s-dev/trip-planner/internal/warehouse"
	"github.com/bobby-s-dev/trip-planner/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds every long-lived component built from the configuration.
type App struct {
	Config    *config.Config
	Cache     cache.Cache
	DB        *gorm.DB
	Store     storage.ObjectStore
	Artifacts *storage.Artifacts
	Ranking   *services.RankingProcessor
	Pipeline  *pipeline.Pipeline
	Registry  *prometheus.Registry

	logger  *zap.Logger
	closers []func() error
}

// Build connects to the cache, the warehouse and the object store and wires
// the pipeline. Call Close when done, also after an error.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	respCache, err := a.buildCache(ctx)
	if err != nil {
		return a, err
	}
	a.Cache = respCache

	geocoder := client.NewNominatimClient(a.clientConfig(cfg.Geocoding.CacheTTL), respCache, logger).
		WithBaseURL(cfg.Geocoding.BaseURL)

	provider, err := a.buildForecastProvider(respCache)
	if err != nil {
		return a, err
	}

	db, err := warehouse.Open(warehouse.Config{
		Driver:          cfg.Warehouse.Driver,
		DSN:             cfg.WarehouseDSN(),
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return a, err
	}
	a.DB = db
	a.closers = append(a.closers, func() error { return warehouse.Close(db) })

	store, err := a.buildStore(ctx)
	if err != nil {
		return a, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	a.Artifacts = storage.NewArtifacts(store, cfg.Storage.Prefix, logger)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.Ranking = services.NewRankingProcessor(db, logger)

	deps := pipeline.Deps{
		Resolver:  services.NewGeoResolver(geocoder, cfg.Pipeline.Workers, cfg.Pipeline.FailFast, logger),
		Fetcher:   services.NewForecastFetcher(provider, cfg.Pipeline.Weights, cfg.Pipeline.Workers, logger),
		Loader:    warehouse.NewLoader(db, cfg.Warehouse.BatchSize, logger),
		Ranker:    a.Ranking,
		Artifacts: a.Artifacts,
		Metrics:   pipeline.NewMetrics(a.Registry),
	}
	if cfg.Scraper.Enabled {
		deps.Scraper = a.buildScraper()
	}

	a.Pipeline = pipeline.New(deps, pipeline.Options{
		Cities:       cfg.Pipeline.Cities,
		Country:      cfg.Pipeline.Country,
		TopN:         cfg.Pipeline.TopN,
		StaysPerCity: cfg.Pipeline.StaysPerCity,
	}, logger)

	logger.Info("Application wired",
		zap.String("weather_provider", provider.Name()),
		zap.String("warehouse", cfg.Warehouse.Driver),
		zap.String("storage", store.Type()),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("scraper", cfg.Scraper.Enabled),
		zap.Int("cities", len(cfg.Pipeline.Cities)))

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) clientConfig(cacheTTL time.Duration) client.ClientConfig {
	cfg := a.Config
	return client.ClientConfig{
		Timeout:        cfg.HTTP.Timeout,
		MaxRetries:     cfg.Retry.MaxRetries,
		RetryDelay:     cfg.Retry.Delay,
		Multiplier:     cfg.Retry.Multiplier,
		BreakerTimeout: cfg.CircuitBreaker.Timeout,
		UserAgent:      cfg.HTTP.UserAgent,
		CacheTTL:       cacheTTL,
	}
}

func (a *App) buildCache(ctx context.Context) (cache.Cache, error) {
	cfg := a.Config.Cache
	switch cfg.Backend {
	case "redis":
		c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	default:
		c := cache.NewMemoryCache(cfg.MaxSize, cfg.CleanupInterval, a.logger)
		a.closers = append(a.closers, func() error {
			c.Stop()
			return nil
		})
		return c, nil
	}
}

func (a *App) buildForecastProvider(respCache cache.Cache) (services.ForecastProvider, error) {
	cfg := a.Config.Weather
	clientCfg := a.clientConfig(cfg.CacheTTL)
	switch cfg.Provider {
	case "openweather":
		return client.NewOpenWeatherClient(cfg.OpenWeatherAPIKey, clientCfg, respCache, a.logger).
			WithBaseURL(cfg.OpenWeatherURL), nil
	case "openmeteo":
		return client.NewOpenMeteoClient(clientCfg, respCache, a.logger).
			WithBaseURL(cfg.OpenMeteoURL), nil
	default:
		return nil, fmt.Errorf("%w: unknown weather provider %q", apperrors.ErrConfiguration, cfg.Provider)
	}
}

func (a *App) buildStore(ctx context.Context) (storage.ObjectStore, error) {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "gcs":
		return storage.NewGCSStore(ctx, storage.GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
			Endpoint:        cfg.Endpoint,
		}, a.logger)
	case "local":
		return storage.NewLocalStore(cfg.LocalDir, a.logger)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", apperrors.ErrConfiguration, cfg.Backend)
	}
}

func (a *App) buildScraper() *scraper.Scraper {
	cfg := a.Config.Scraper
	browser := scraper.NewChromeBrowser(scraper.ChromeConfig{
		BaseURL:     cfg.BaseURL,
		UserAgent:   cfg.UserAgent,
		Language:    cfg.Language,
		PageTimeout: cfg.PageTimeout,
		RenderWait:  2 * time.Second,
	}, a.logger)
	a.closers = append(a.closers, func() error {
		browser.Close()
		return nil
	})

	return scraper.NewScraper(browser, scraper.Config{
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		ThrottleDelay: cfg.ThrottleDelay,
		MaxPerCity:    cfg.MaxPerCity,
	}, a.logger)
}
