package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/bobby-s-dev/trip-planner/internal/pipeline"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePipeline struct {
	report  *pipeline.Report
	running bool
}

func (f *fakePipeline) LastReport() *pipeline.Report { return f.report }
func (f *fakePipeline) Running() bool                { return f.running }

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) ForceRun() error {
	f.calls++
	return f.err
}

func (f *fakeTrigger) GetStatus() map[string]interface{} {
	return map[string]interface{}{"spec": "0 6 * * *"}
}

type fakeRankings struct {
	top      []models.CityRanking
	err      error
	gotIDs   []int
	gotLimit int
}

func (f *fakeRankings) BestWeather(_ context.Context, n int) ([]models.CityRanking, error) {
	f.gotLimit = n
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.top) {
		return f.top[:n], nil
	}
	return f.top, nil
}

func (f *fakeRankings) BestStays(_ context.Context, cityIDs []int, _ int) ([]models.AccommodationRecord, error) {
	f.gotIDs = cityIDs
	score := 9.2
	return []models.AccommodationRecord{{CityID: cityIDs[0], Name: "Le Mas", Score: &score}}, nil
}

func (f *fakeRankings) ForecastMap(_ context.Context, n int) (*models.BubbleMap, error) {
	return &models.BubbleMap{Title: "forecast", Points: []models.BubblePoint{{Label: "Paris"}}}, nil
}

func (f *fakeRankings) StaysMap(_ context.Context, cityIDs []int, _ int) (*models.BubbleMap, error) {
	f.gotIDs = cityIDs
	if f.err != nil {
		return nil, f.err
	}
	return &models.BubbleMap{Title: "stays"}, nil
}

type testServer struct {
	app      *fiber.App
	pipeline *fakePipeline
	trigger  *fakeTrigger
	rankings *fakeRankings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		pipeline: &fakePipeline{},
		trigger:  &fakeTrigger{},
		rankings: &fakeRankings{top: []models.CityRanking{
			{CityID: 4, City: "Cassis", ScoreMean: 14.2},
			{CityID: 0, City: "Annecy", ScoreMean: 12.1},
		}},
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "test_runs_total", Help: "runs"}))

	handler := NewHandler(Deps{
		Pipeline:     s.pipeline,
		Trigger:      s.trigger,
		Rankings:     s.rankings,
		Gatherer:     registry,
		Cities:       []string{"Cassis", "Annecy"},
		Country:      "france",
		TopN:         5,
		StaysPerCity: 10,
	}, zap.NewNop())

	s.app = fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	SetupRoutes(s.app, handler, zap.NewNop())
	return s
}

func (s *testServer) do(t *testing.T, method, target string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.pipeline.report = &pipeline.Report{RunID: "abc", Status: pipeline.StatusSucceeded}

	code, body := s.do(t, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "abc", body["last_run"].(map[string]interface{})["run_id"])
}

func TestCities(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/v1/cities")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "france", body["country"])
	assert.Len(t, body["cities"], 2)
}

func TestTriggerRun(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/v1/pipeline/run")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, s.trigger.calls)
}

func TestTriggerRun_AlreadyRunning(t *testing.T) {
	s := newTestServer(t)
	s.trigger.err = apperrors.ErrRunInProgress

	code, body := s.do(t, http.MethodPost, "/api/v1/pipeline/run")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["success"])
}

func TestLastRun(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/pipeline/last")
	assert.Equal(t, http.StatusNotFound, code)

	s.pipeline.report = &pipeline.Report{RunID: "r1", Status: pipeline.StatusPartial}
	code, body := s.do(t, http.MethodGet, "/api/v1/pipeline/last")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "partial", body["status"])
}

func TestBestWeather(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/v1/rankings/weather?limit=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, s.rankings.gotLimit)
	cities := body["cities"].([]interface{})
	require.Len(t, cities, 1)
	assert.Equal(t, "Cassis", cities[0].(map[string]interface{})["city"])
}

func TestBestWeather_BadLimit(t *testing.T) {
	s := newTestServer(t)

	for _, limit := range []string{"0", "51", "abc"} {
		code, body := s.do(t, http.MethodGet, "/api/v1/rankings/weather?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, code, limit)
		assert.Contains(t, body["error"], "Limit")
	}
}

func TestBestStays_DefaultsToTopCities(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/v1/rankings/stays")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []int{4, 0}, s.rankings.gotIDs)
	assert.Equal(t, float64(10), body["per_city"])
}

func TestBestStays_ExplicitIDs(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/rankings/stays?city_ids=2,%207&per_city=3")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []int{2, 7}, s.rankings.gotIDs)

	code, _ = s.do(t, http.MethodGet, "/api/v1/rankings/stays?city_ids=2,x")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStaysMap_WarehouseError(t *testing.T) {
	s := newTestServer(t)
	s.rankings.err = apperrors.Persistence("accommodations", errors.New("connection reset"))

	code, body := s.do(t, http.MethodGet, "/api/v1/maps/stays?city_ids=1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["success"])
}

func TestForecastMap(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/v1/maps/forecast")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "forecast", body["title"])
}

func TestPrometheusEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "test_runs_total"))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/v1/weather/current")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Endpoint not found", body["error"])
}
