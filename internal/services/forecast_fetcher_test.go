package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	days map[string][]models.ForecastDay
	errs map[string]error
}

func coordKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GetDailyForecast(_ context.Context, lat, lon float64) ([]models.ForecastDay, error) {
	key := coordKey(lat, lon)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return f.days[key], nil
}

func eightDays(feels float64) []models.ForecastDay {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	days := make([]models.ForecastDay, 0, 8)
	// reverse order to check the fetcher sorts by date
	for d := 7; d >= 0; d-- {
		days = append(days, models.ForecastDay{
			Date:         base.AddDate(0, 0, d),
			FeelsLikeDay: feels,
			Humidity:     60,
			Clouds:       40,
			Pop:          0.2,
			WindSpeed:    3,
		})
	}
	return days
}

func TestScoreWeights_DefaultScore(t *testing.T) {
	day := models.ForecastDay{FeelsLikeDay: 20, Humidity: 60, Clouds: 40, Pop: 0.2, WindSpeed: 3}
	assert.InDelta(t, 9.5, models.DefaultScoreWeights().Score(day), 1e-9)

	mild := models.ForecastDay{FeelsLikeDay: 20, Humidity: 50, Clouds: 10, Pop: 0.2, WindSpeed: 5}
	assert.InDelta(t, 13.3, models.DefaultScoreWeights().Score(mild), 1e-9)
}

func TestScoreWeights_Configurable(t *testing.T) {
	weights := models.ScoreWeights{Temp: 2}
	day := models.ForecastDay{FeelsLikeDay: 20, Humidity: 60, Clouds: 40, Pop: 0.2, WindSpeed: 3}
	assert.InDelta(t, 40.0, weights.Score(day), 1e-9)
}

func TestForecastFetcher_ScoresAndOrders(t *testing.T) {
	cities := []models.City{
		{ID: 0, Name: "Lyon", Lat: 45.7578, Lon: 4.832},
		{ID: 1, Name: "Paris", Lat: 48.8589, Lon: 2.32},
	}
	provider := &fakeProvider{days: map[string][]models.ForecastDay{
		coordKey(45.7578, 4.832): eightDays(25),
		coordKey(48.8589, 2.32):  eightDays(20),
	}}
	fetcher := NewForecastFetcher(provider, models.DefaultScoreWeights(), 4, zap.NewNop())

	batch := fetcher.Fetch(context.Background(), cities)
	require.NoError(t, batch.Err())
	require.Len(t, batch.Records, 16)

	for i, r := range batch.Records {
		assert.Equal(t, i, r.ID)
		if i > 0 {
			prev := batch.Records[i-1]
			assert.True(t, prev.CityID < r.CityID || (prev.CityID == r.CityID && prev.Date.Before(r.Date)))
		}
	}

	paris := batch.Records[8]
	assert.Equal(t, "Paris", paris.City)
	assert.Equal(t, 1, paris.CityID)
	assert.Equal(t, 48.8589, paris.Lat)
	assert.InDelta(t, 9.5, paris.ForecastScore, 1e-9)
}

func TestForecastFetcher_PartialFailure(t *testing.T) {
	cities := []models.City{
		{ID: 0, Name: "Gap", Lat: 44.5594, Lon: 6.0786},
		{ID: 1, Name: "Paris", Lat: 48.8589, Lon: 2.32},
	}
	provider := &fakeProvider{
		days: map[string][]models.ForecastDay{coordKey(48.8589, 2.32): eightDays(20)},
		errs: map[string]error{coordKey(44.5594, 6.0786): errors.New("HTTP 500")},
	}
	fetcher := NewForecastFetcher(provider, models.DefaultScoreWeights(), 2, zap.NewNop())

	batch := fetcher.Fetch(context.Background(), cities)

	require.Len(t, batch.Records, 8)
	for _, r := range batch.Records {
		assert.Equal(t, "Paris", r.City)
	}
	assert.Equal(t, []string{"Gap"}, batch.Failed)
	assert.ErrorIs(t, batch.Err(), apperrors.ErrFetchFailure)
	assert.Contains(t, batch.Err().Error(), "Gap")
}

func TestForecastFetcher_WindowIsEightDays(t *testing.T) {
	cities := []models.City{
		{ID: 0, Name: "Nice", Lat: 43.7009, Lon: 7.2684},
		{ID: 1, Name: "Brest", Lat: 48.3905, Lon: -4.486},
	}
	long := eightDays(22)
	extra := long[0]
	extra.Date = extra.Date.AddDate(0, 0, 1)
	long = append([]models.ForecastDay{extra}, long...)

	provider := &fakeProvider{days: map[string][]models.ForecastDay{
		coordKey(43.7009, 7.2684): long,
		coordKey(48.3905, -4.486): eightDays(15)[:5],
	}}
	fetcher := NewForecastFetcher(provider, models.DefaultScoreWeights(), 2, zap.NewNop())

	batch := fetcher.Fetch(context.Background(), cities)

	require.Len(t, batch.Records, ForecastDays)
	first := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, batch.Records[0].Date.Equal(first))
	assert.True(t, batch.Records[ForecastDays-1].Date.Equal(first.AddDate(0, 0, ForecastDays-1)))
	for _, r := range batch.Records {
		assert.Equal(t, "Nice", r.City)
	}

	assert.Equal(t, []string{"Brest"}, batch.Failed)
	assert.ErrorIs(t, batch.Err(), apperrors.ErrFetchFailure)
	assert.Contains(t, batch.Err().Error(), "5 days")
}

func TestForecastFetcher_NoCities(t *testing.T) {
	fetcher := NewForecastFetcher(&fakeProvider{}, models.DefaultScoreWeights(), 2, zap.NewNop())
	batch := fetcher.Fetch(context.Background(), nil)
	assert.Empty(t, batch.Records)
	assert.NoError(t, batch.Err())
}
