package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ForecastDays is the length of the daily forecast window kept per city.
const ForecastDays = 8

type ForecastProvider interface {
	Name() string
	GetDailyForecast(ctx context.Context, lat, lon float64) ([]models.ForecastDay, error)
}

type ForecastFetcher struct {
	provider ForecastProvider
	weights  models.ScoreWeights
	workers  int
	logger   *zap.Logger
}

// ForecastBatch holds the scored records of every city that succeeded. A city
// whose fetch failed contributes no records and one entry in Failures.
type ForecastBatch struct {
	Records  []models.ForecastRecord
	Failed   []string
	Failures *multierror.Error
}

func (b ForecastBatch) Err() error {
	return b.Failures.ErrorOrNil()
}

func NewForecastFetcher(provider ForecastProvider, weights models.ScoreWeights, workers int, logger *zap.Logger) *ForecastFetcher {
	if workers < 1 {
		workers = 1
	}
	return &ForecastFetcher{
		provider: provider,
		weights:  weights,
		workers:  workers,
		logger:   logger,
	}
}

func (f *ForecastFetcher) Fetch(ctx context.Context, cities []models.City) ForecastBatch {
	startTime := time.Now()
	perCity := make([][]models.ForecastRecord, len(cities))
	errs := make([]error, len(cities))

	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup

	for i, city := range cities {
		wg.Add(1)
		go func(i int, city models.City) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = apperrors.Fetch(city.Name, ctx.Err())
				return
			}
			defer func() { <-sem }()

			days, err := f.provider.GetDailyForecast(ctx, city.Lat, city.Lon)
			if err == nil {
				days, err = forecastWindow(days)
			}
			if err != nil {
				errs[i] = apperrors.Fetch(city.Name, err)
				return
			}
			perCity[i] = f.score(city, days)
		}(i, city)
	}

	wg.Wait()

	var batch ForecastBatch
	for i, city := range cities {
		if errs[i] != nil {
			f.logger.Warn("Failed to fetch forecast for city",
				zap.String("city", city.Name),
				zap.String("provider", f.provider.Name()),
				zap.Error(errs[i]))
			batch.Failed = append(batch.Failed, city.Name)
			batch.Failures = multierror.Append(batch.Failures, errs[i])
			continue
		}
		batch.Records = append(batch.Records, perCity[i]...)
	}

	sort.SliceStable(batch.Records, func(i, j int) bool {
		a, b := batch.Records[i], batch.Records[j]
		if a.CityID != b.CityID {
			return a.CityID < b.CityID
		}
		return a.Date.Before(b.Date)
	})
	for i := range batch.Records {
		batch.Records[i].ID = i
	}

	f.logger.Info("Forecast fetch completed",
		zap.Int("cities", len(cities)),
		zap.Int("success", len(cities)-len(batch.Failed)),
		zap.Int("failure", len(batch.Failed)),
		zap.Int("records", len(batch.Records)),
		zap.Duration("duration", time.Since(startTime)))

	return batch
}

// forecastWindow keeps the first ForecastDays days in date order. A shorter
// forecast is rejected.
func forecastWindow(days []models.ForecastDay) ([]models.ForecastDay, error) {
	if len(days) < ForecastDays {
		return nil, fmt.Errorf("forecast covers %d days, want %d", len(days), ForecastDays)
	}

	sorted := make([]models.ForecastDay, len(days))
	copy(sorted, days)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted[:ForecastDays], nil
}

func (f *ForecastFetcher) score(city models.City, days []models.ForecastDay) []models.ForecastRecord {
	records := make([]models.ForecastRecord, 0, len(days))
	for _, day := range days {
		records = append(records, models.ForecastRecord{
			CityID:        city.ID,
			City:          city.Name,
			Lat:           city.Lat,
			Lon:           city.Lon,
			Date:          day.Date,
			FeelsLikeDay:  day.FeelsLikeDay,
			Humidity:      day.Humidity,
			Clouds:        day.Clouds,
			Pop:           day.Pop,
			WindSpeed:     day.WindSpeed,
			ForecastScore: f.weights.Score(day),
			Weather:       day.Weather,
		})
	}
	return records
}
