package warehouse

import (
	"context"
	"testing"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { Close(db) })
	return db
}

func testCities() []models.City {
	return []models.City{
		{ID: 7, Name: "Lyon", Lat: 45.7578, Lon: 4.8320},
		{ID: 3, Name: "Paris", Lat: 48.8589, Lon: 2.3200},
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle", DSN: "x"}, zap.NewNop())
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestLoadCities_RenumbersAndReplaces(t *testing.T) {
	db := newTestDB(t)
	loader := NewLoader(db, 0, zap.NewNop())
	ctx := context.Background()

	loaded, err := loader.LoadCities(ctx, testCities())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded[0].ID)
	assert.Equal(t, 1, loaded[1].ID)

	_, err = loader.LoadCities(ctx, testCities())
	require.NoError(t, err)

	var stored []models.City
	require.NoError(t, db.Order("id").Find(&stored).Error)
	assert.Equal(t, loaded, stored)
}

func TestLoadCities_ReplaceShrinksTable(t *testing.T) {
	db := newTestDB(t)
	loader := NewLoader(db, 0, zap.NewNop())
	ctx := context.Background()

	_, err := loader.LoadCities(ctx, testCities())
	require.NoError(t, err)
	_, err = loader.LoadCities(ctx, testCities()[:1])
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.City{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLoadForecasts_IdempotentAndOrdered(t *testing.T) {
	db := newTestDB(t)
	loader := NewLoader(db, 3, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	var records []models.ForecastRecord
	for day := 0; day < 8; day++ {
		records = append(records, models.ForecastRecord{
			ID:            99,
			CityID:        0,
			City:          "Paris",
			Lat:           48.8589,
			Lon:           2.32,
			Date:          base.AddDate(0, 0, day),
			FeelsLikeDay:  20,
			Humidity:      60,
			Clouds:        40,
			Pop:           0.2,
			WindSpeed:     3,
			ForecastScore: 13.3,
		})
	}

	for run := 0; run < 2; run++ {
		loaded, err := loader.LoadForecasts(ctx, records)
		require.NoError(t, err)
		require.Len(t, loaded, 8)
		for i, r := range loaded {
			assert.Equal(t, i, r.ID)
		}
	}

	var stored []models.ForecastRecord
	require.NoError(t, db.Order("id").Find(&stored).Error)
	require.Len(t, stored, 8)
	assert.True(t, stored[0].Date.Equal(base))
	assert.InDelta(t, 13.3, stored[7].ForecastScore, 1e-9)
}

func TestLoadAccommodations_ConvertsAndSkips(t *testing.T) {
	db := newTestDB(t)
	core, logs := observer.New(zapcore.WarnLevel)
	loader := NewLoader(db, 0, zap.New(core))
	ctx := context.Background()

	cities, err := loader.LoadCities(ctx, testCities())
	require.NoError(t, err)

	listings := []models.RawListing{
		{CityName: "Paris", CityID: 42, URL: "https://example.test/a", Name: "Hotel A", Score: "4,5", Description: "near the Seine", GPSCoordinates: "48.85,2.35"},
		{CityName: "Lyon", URL: "https://example.test/b", Name: "Hotel B", Score: "", GPSCoordinates: "45.76,4.83", FullDescription: "quiet"},
		{CityName: "Paris", URL: "https://example.test/c", Name: "Hotel C", Score: "bad", GPSCoordinates: "48.85,2.35"},
		{CityName: "Paris", URL: "https://example.test/d", Name: "Hotel D", Score: "8,0", GPSCoordinates: "48.85"},
		{CityName: "Marseille", URL: "https://example.test/e", Name: "Hotel E", Score: "9,1", GPSCoordinates: "43.29,5.37"},
		{CityName: "", CityID: 0, URL: "https://example.test/f", Name: "Hotel F", Score: "7,2", GPSCoordinates: "45.75, 4.85"},
	}

	rows, report, err := loader.LoadAccommodations(ctx, listings, cities)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Accepted)
	assert.Equal(t, 3, report.Skipped)
	assert.ErrorIs(t, report.Errors, apperrors.ErrMalformedRecord)
	assert.Equal(t, 3, logs.FilterMessage("Skipping malformed listing").Len())
	assert.Equal(t, "https://example.test/c", logs.All()[0].ContextMap()["url"])

	require.Len(t, rows, 3)
	assert.Equal(t, "Hotel A", rows[0].Name)
	assert.Equal(t, 1, rows[0].CityID, "city id comes from the loaded city, not the scraper")
	require.NotNil(t, rows[0].Score)
	assert.InDelta(t, 4.5, *rows[0].Score, 1e-9)
	assert.InDelta(t, 48.85, rows[0].Lat, 1e-9)
	assert.InDelta(t, 2.35, rows[0].Lon, 1e-9)

	assert.Nil(t, rows[1].Score)
	assert.Equal(t, "quiet", rows[1].Description)

	assert.Equal(t, "Hotel F", rows[2].Name)
	assert.Equal(t, 0, rows[2].CityID)
	assert.Equal(t, 2, rows[2].ID)

	var nullScores int64
	require.NoError(t, db.Model(&models.AccommodationRecord{}).Where("score IS NULL").Count(&nullScores).Error)
	assert.Equal(t, int64(1), nullScores)
}

func TestLoadCities_RekeysExistingAccommodations(t *testing.T) {
	db := newTestDB(t)
	core, logs := observer.New(zapcore.InfoLevel)
	loader := NewLoader(db, 0, zap.New(core))
	ctx := context.Background()

	cities, err := loader.LoadCities(ctx, testCities())
	require.NoError(t, err)
	_, _, err = loader.LoadAccommodations(ctx, []models.RawListing{
		{CityName: "Lyon", Name: "Lyon Hotel", Score: "9,0", GPSCoordinates: "45.76,4.83"},
		{CityName: "Paris", Name: "Paris Hotel", Score: "8,0", GPSCoordinates: "48.85,2.35"},
	}, cities)
	require.NoError(t, err)

	// Paris moves from id 1 to id 0 and Lyon disappears
	reloaded, err := loader.LoadCities(ctx, []models.City{{Name: "Paris", Lat: 48.8589, Lon: 2.32}})
	require.NoError(t, err)
	require.Equal(t, 0, reloaded[0].ID)

	var stays []models.AccommodationRecord
	require.NoError(t, db.Order("id").Find(&stays).Error)
	require.Len(t, stays, 1)
	assert.Equal(t, "Paris Hotel", stays[0].Name)
	assert.Equal(t, 0, stays[0].CityID)
	assert.Equal(t, 0, stays[0].ID)

	entries := logs.FilterMessage("Existing accommodations re-keyed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["kept"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["dropped"])
}

func TestLoadCities_WithoutAccommodationsTable(t *testing.T) {
	db := newTestDB(t)
	loader := NewLoader(db, 0, zap.NewNop())

	_, err := loader.LoadCities(context.Background(), testCities())
	require.NoError(t, err)
	assert.False(t, db.Migrator().HasTable(&models.AccommodationRecord{}))
}

func TestLoad_PersistenceFailure(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, Close(db))

	loader := NewLoader(db, 0, zap.NewNop())
	_, err = loader.LoadCities(context.Background(), testCities())
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Contains(t, err.Error(), "cities")
}

func TestParseScore(t *testing.T) {
	score, err := ParseScore("4,5")
	require.NoError(t, err)
	assert.Equal(t, 4.5, *score)

	score, err = ParseScore("  ")
	require.NoError(t, err)
	assert.Nil(t, score)

	for _, raw := range []string{"bad", "NaN", "Inf", "-inf", "1e400"} {
		_, err = ParseScore(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseGPS(t *testing.T) {
	lat, lon, err := ParseGPS("48.85,2.35")
	require.NoError(t, err)
	assert.Equal(t, 48.85, lat)
	assert.Equal(t, 2.35, lon)

	for _, raw := range []string{"", "48.85", "1,2,3", "north,2.35", "NaN,2.35", "48.85,Inf", "1e400,2.35"} {
		_, _, err := ParseGPS(raw)
		assert.Error(t, err, raw)
	}
}
