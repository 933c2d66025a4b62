package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/models"
	"go.uber.org/zap"
)

const (
	CitiesObject    = "city_geo_infos.csv"
	ForecastsObject = "weather_infos.csv"
	ListingsObject  = "booking_results.ndjson"
	ForecastMapName = "output/forecast_map.json"
	StaysMapName    = "output/stays_map.json"
)

var (
	cityHeader     = []string{"id", "name", "lat", "lon"}
	forecastHeader = []string{"id", "city_id", "city", "lat", "lon", "dt", "feels_like_day", "humidity", "clouds", "pop", "wind_speed", "forecast_score", "weather"}
)

// Artifacts reads and writes the intermediate files of a pipeline run under
// a common key prefix.
type Artifacts struct {
	store  ObjectStore
	prefix string
	logger *zap.Logger
}

func NewArtifacts(store ObjectStore, prefix string, logger *zap.Logger) *Artifacts {
	return &Artifacts{store: store, prefix: prefix, logger: logger}
}

func (a *Artifacts) key(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

func (a *Artifacts) put(ctx context.Context, name, contentType string, body []byte) error {
	if err := a.store.Upload(ctx, a.key(name), bytes.NewReader(body), contentType); err != nil {
		return err
	}
	a.logger.Info("Artifact written",
		zap.String("store", a.store.Type()),
		zap.String("object", a.key(name)),
		zap.Int("bytes", len(body)))
	return nil
}

func (a *Artifacts) get(ctx context.Context, name string) (io.ReadCloser, error) {
	return a.store.Download(ctx, a.key(name))
}

func (a *Artifacts) WriteCities(ctx context.Context, cities []models.City) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(cityHeader)
	for _, c := range cities {
		w.Write([]string{strconv.Itoa(c.ID), c.Name, formatFloat(c.Lat), formatFloat(c.Lon)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode cities: %w", err)
	}
	return a.put(ctx, CitiesObject, "text/csv", buf.Bytes())
}

func (a *Artifacts) ReadCities(ctx context.Context) ([]models.City, error) {
	rows, err := a.readCSV(ctx, CitiesObject, cityHeader)
	if err != nil {
		return nil, err
	}

	cities := make([]models.City, 0, len(rows))
	for i, row := range rows {
		var p fieldParser
		city := models.City{
			ID:   p.int(row[0]),
			Name: row[1],
			Lat:  p.float(row[2]),
			Lon:  p.float(row[3]),
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s line %d: %w", CitiesObject, i+2, p.err)
		}
		cities = append(cities, city)
	}
	return cities, nil
}

func (a *Artifacts) WriteForecasts(ctx context.Context, records []models.ForecastRecord) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(forecastHeader)
	for _, r := range records {
		w.Write([]string{
			strconv.Itoa(r.ID),
			strconv.Itoa(r.CityID),
			r.City,
			formatFloat(r.Lat),
			formatFloat(r.Lon),
			r.Date.UTC().Format(time.RFC3339),
			formatFloat(r.FeelsLikeDay),
			formatFloat(r.Humidity),
			formatFloat(r.Clouds),
			formatFloat(r.Pop),
			formatFloat(r.WindSpeed),
			formatFloat(r.ForecastScore),
			r.Weather,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode forecasts: %w", err)
	}
	return a.put(ctx, ForecastsObject, "text/csv", buf.Bytes())
}

func (a *Artifacts) ReadForecasts(ctx context.Context) ([]models.ForecastRecord, error) {
	rows, err := a.readCSV(ctx, ForecastsObject, forecastHeader)
	if err != nil {
		return nil, err
	}

	records := make([]models.ForecastRecord, 0, len(rows))
	for i, row := range rows {
		var p fieldParser
		record := models.ForecastRecord{
			ID:            p.int(row[0]),
			CityID:        p.int(row[1]),
			City:          row[2],
			Lat:           p.float(row[3]),
			Lon:           p.float(row[4]),
			Date:          p.time(row[5]),
			FeelsLikeDay:  p.float(row[6]),
			Humidity:      p.float(row[7]),
			Clouds:        p.float(row[8]),
			Pop:           p.float(row[9]),
			WindSpeed:     p.float(row[10]),
			ForecastScore: p.float(row[11]),
			Weather:       row[12],
		}
		if p.err != nil {
			return nil, fmt.Errorf("%s line %d: %w", ForecastsObject, i+2, p.err)
		}
		records = append(records, record)
	}
	return records, nil
}

// WriteListings stores one JSON object per line, the format the crawler feed
// uses.
func (a *Artifacts) WriteListings(ctx context.Context, listings []models.RawListing) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, l := range listings {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to encode listing %q: %w", l.Name, err)
		}
	}
	return a.put(ctx, ListingsObject, "application/x-ndjson", buf.Bytes())
}

func (a *Artifacts) ReadListings(ctx context.Context) ([]models.RawListing, error) {
	rc, err := a.get(ctx, ListingsObject)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var listings []models.RawListing
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var l models.RawListing
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", ListingsObject, line, err)
		}
		listings = append(listings, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ListingsObject, err)
	}
	return listings, nil
}

func (a *Artifacts) WriteMap(ctx context.Context, name string, m *models.BubbleMap) error {
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode map %s: %w", name, err)
	}
	return a.put(ctx, name, "application/json", body)
}

func (a *Artifacts) ReadMap(ctx context.Context, name string) (*models.BubbleMap, error) {
	rc, err := a.get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var m models.BubbleMap
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode map %s: %w", name, err)
	}
	return &m, nil
}

// List returns the object names stored under the artifact prefix.
func (a *Artifacts) List(ctx context.Context) ([]string, error) {
	var names []string
	prefix := a.prefix
	if prefix != "" {
		prefix += "/"
	}
	err := a.store.ListObjects(ctx, prefix, func(name string) error {
		names = append(names, name)
		return nil
	})
	return names, err
}

func (a *Artifacts) readCSV(ctx context.Context, name string, header []string) ([][]string, error) {
	rc, err := a.get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = len(header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s is empty", name)
	}
	for i, col := range header {
		if rows[0][i] != col {
			return nil, fmt.Errorf("%s: unexpected column %q at position %d, want %q", name, rows[0][i], i, col)
		}
	}
	return rows[1:], nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// fieldParser keeps the first conversion error so a row can be decoded in
// one expression.
type fieldParser struct {
	err error
}

func (p *fieldParser) int(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *fieldParser) float(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *fieldParser) time(s string) time.Time {
	v, err := time.Parse(time.RFC3339, s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}
