package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "artifacts"), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestLocalStore_UploadDownloadList(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "run/b.csv", strings.NewReader("b"), "text/csv"))
	require.NoError(t, store.Upload(ctx, "run/a.csv", strings.NewReader("a"), "text/csv"))
	require.NoError(t, store.Upload(ctx, "other/c.csv", strings.NewReader("c"), "text/csv"))

	rc, err := store.Download(ctx, "run/a.csv")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "a", string(body))

	var names []string
	require.NoError(t, store.ListObjects(ctx, "run/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"run/a.csv", "run/b.csv"}, names)
}

func TestLocalStore_MissingObject(t *testing.T) {
	store := newLocal(t)
	_, err := store.Download(context.Background(), "nope.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStore_RejectsEscapingNames(t *testing.T) {
	store := newLocal(t)
	err := store.Upload(context.Background(), "../outside.txt", strings.NewReader("x"), "text/plain")
	assert.Error(t, err)
}

func TestNewLocalStore_FileInsteadOfDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewLocalStore(file, zap.NewNop())
	assert.Error(t, err)
}

func TestArtifacts_CitiesRoundTrip(t *testing.T) {
	artifacts := NewArtifacts(newLocal(t), "plan", zap.NewNop())
	ctx := context.Background()

	cities := []models.City{
		{ID: 0, Name: "Château du Haut-Kœnigsbourg", Lat: 48.2495, Lon: 7.3443},
		{ID: 1, Name: "Saintes-Maries-de-la-Mer", Lat: 43.4522, Lon: 4.4286},
	}
	require.NoError(t, artifacts.WriteCities(ctx, cities))

	got, err := artifacts.ReadCities(ctx)
	require.NoError(t, err)
	assert.Equal(t, cities, got)

	names, err := artifacts.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"plan/city_geo_infos.csv"}, names)
}

func TestArtifacts_ForecastsRoundTrip(t *testing.T) {
	artifacts := NewArtifacts(newLocal(t), "", zap.NewNop())
	ctx := context.Background()

	records := []models.ForecastRecord{{
		ID: 0, CityID: 2, City: "Paris", Lat: 48.8589, Lon: 2.32,
		Date:         time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		FeelsLikeDay: 20, Humidity: 50, Clouds: 10, Pop: 0.2, WindSpeed: 5,
		ForecastScore: 13.3, Weather: "light rain, later sunny",
	}}
	require.NoError(t, artifacts.WriteForecasts(ctx, records))

	got, err := artifacts.ReadForecasts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, records[0].Date.Equal(got[0].Date))
	got[0].Date = records[0].Date
	assert.Equal(t, records, got)
}

func TestArtifacts_ListingsRoundTrip(t *testing.T) {
	artifacts := NewArtifacts(newLocal(t), "plan", zap.NewNop())
	ctx := context.Background()

	listings := []models.RawListing{
		{CityName: "Cassis", CityID: 3, URL: "https://www.booking.com/hotel/fr/a.html?x=1&y=2", Name: "Les Roches <Blanches>", Score: "8,9", GPSCoordinates: "43.21,5.53"},
		{CityName: "Cassis", CityID: 3, Name: "No score", Score: ""},
	}
	require.NoError(t, artifacts.WriteListings(ctx, listings))

	got, err := artifacts.ReadListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, listings, got)
}

func TestArtifacts_ReadCitiesBadHeader(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, CitiesObject, strings.NewReader("name,id,lat,lon\nParis,0,1,2\n"), "text/csv"))

	_, err := NewArtifacts(store, "", zap.NewNop()).ReadCities(ctx)
	assert.ErrorContains(t, err, "unexpected column")
}

func TestArtifacts_ReadCitiesBadNumber(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, CitiesObject, strings.NewReader("id,name,lat,lon\n0,Paris,north,2\n"), "text/csv"))

	_, err := NewArtifacts(store, "", zap.NewNop()).ReadCities(ctx)
	assert.ErrorContains(t, err, "line 2")
}

func TestArtifacts_MapRoundTrip(t *testing.T) {
	artifacts := NewArtifacts(newLocal(t), "plan", zap.NewNop())
	ctx := context.Background()

	m := &models.BubbleMap{
		Title:       "Top 1",
		GeneratedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Points:      []models.BubblePoint{{Label: "Paris", Lat: 48.8, Lon: 2.3, Size: 25, Color: 20}},
	}
	require.NoError(t, artifacts.WriteMap(ctx, ForecastMapName, m))

	got, err := artifacts.ReadMap(ctx, ForecastMapName)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
