package warehouse

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

type Loader struct {
	db        *gorm.DB
	logger    *zap.Logger
	batchSize int
}

// LoadReport counts the accommodation rows accepted and rejected by one load.
type LoadReport struct {
	Accepted int               `json:"accepted"`
	Skipped  int               `json:"skipped"`
	Errors   *multierror.Error `json:"-"`
}

func NewLoader(db *gorm.DB, batchSize int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Loader{
		db:        db,
		logger:    logger,
		batchSize: batchSize,
	}
}

// LoadCities renumbers cities 0..N-1 in input order and replaces the cities
// table with them. Accommodations already in the warehouse are re-keyed to
// the new ids by city name in the same transaction; stays of cities that are
// no longer loaded are removed.
func (l *Loader) LoadCities(ctx context.Context, cities []models.City) ([]models.City, error) {
	rows := make([]models.City, len(cities))
	for i, city := range cities {
		city.ID = i
		rows[i] = city
	}

	startTime := time.Now()
	var rekey rekeyReport
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, err := cityNames(tx)
		if err != nil {
			return err
		}
		if err := replaceRows(tx, rows, l.batchSize); err != nil {
			return err
		}
		rekey, err = rekeyAccommodations(tx, previous, rows, l.batchSize)
		return err
	})
	if err != nil {
		err = fmt.Errorf("replace failed after %s: %w", time.Since(startTime).Round(time.Millisecond), err)
		return nil, apperrors.Persistence(models.City{}.TableName(), err)
	}

	l.logger.Info("Cities loaded", zap.Int("rows", len(rows)))
	if rekey.Kept > 0 || rekey.Dropped > 0 {
		l.logger.Info("Existing accommodations re-keyed",
			zap.Int("kept", rekey.Kept),
			zap.Int("dropped", rekey.Dropped))
	}
	return rows, nil
}

type rekeyReport struct {
	Kept    int
	Dropped int
}

// cityNames maps the ids of the stored cities to their names. A missing
// table yields an empty map.
func cityNames(tx *gorm.DB) (map[int]string, error) {
	names := make(map[int]string)
	if !tx.Migrator().HasTable(&models.City{}) {
		return names, nil
	}

	var stored []models.City
	if err := tx.Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("read cities: %w", err)
	}
	for _, city := range stored {
		names[city.ID] = city.Name
	}
	return names, nil
}

// rekeyAccommodations points stored accommodations at the ids of the newly
// loaded cities, matching on the name of the city they belonged to before.
func rekeyAccommodations(tx *gorm.DB, previous map[int]string, cities []models.City, batchSize int) (rekeyReport, error) {
	var report rekeyReport
	if !tx.Migrator().HasTable(&models.AccommodationRecord{}) {
		return report, nil
	}

	var stays []models.AccommodationRecord
	if err := tx.Order("id").Find(&stays).Error; err != nil {
		return report, fmt.Errorf("read accommodations: %w", err)
	}
	if len(stays) == 0 {
		return report, nil
	}

	byName := make(map[string]int, len(cities))
	for _, city := range cities {
		byName[city.Name] = city.ID
	}

	kept := make([]models.AccommodationRecord, 0, len(stays))
	for _, stay := range stays {
		name, known := previous[stay.CityID]
		id, ok := byName[name]
		if !known || !ok {
			report.Dropped++
			continue
		}
		stay.ID = len(kept)
		stay.CityID = id
		kept = append(kept, stay)
	}
	report.Kept = len(kept)

	if err := replaceRows(tx, kept, batchSize); err != nil {
		return report, fmt.Errorf("re-key accommodations: %w", err)
	}
	return report, nil
}
// LoadForecasts renumbers forecast rows 0..N-1 in input order and replaces the
// forecasts table with them.
func (l *Loader) LoadForecasts(ctx context.Context, records []models.ForecastRecord) ([]models.ForecastRecord, error) {
	rows := make([]models.ForecastRecord, len(records))
	for i, record := range records {
		record.ID = i
		rows[i] = record
	}

	if err := replaceTable(ctx, l.db, rows, l.batchSize); err != nil {
		return nil, apperrors.Persistence(models.ForecastRecord{}.TableName(), err)
	}

	l.logger.Info("Forecasts loaded", zap.Int("rows", len(rows)))
	return rows, nil
}

// LoadAccommodations turns raw listings into rows and replaces the
// accommodations table. Listings that cannot be converted are skipped and
// reported; they never abort the load.
func (l *Loader) LoadAccommodations(ctx context.Context, listings []models.RawListing, cities []models.City) ([]models.AccommodationRecord, LoadReport, error) {
	byName := make(map[string]int, len(cities))
	byID := make(map[int]bool, len(cities))
	for _, city := range cities {
		byName[city.Name] = city.ID
		byID[city.ID] = true
	}

	var report LoadReport
	rows := make([]models.AccommodationRecord, 0, len(listings))
	for _, listing := range listings {
		row, err := convertListing(listing, byName, byID)
		if err != nil {
			report.Skipped++
			report.Errors = multierror.Append(report.Errors, err)
			l.logger.Warn("Skipping malformed listing",
				zap.String("name", listing.Name),
				zap.String("url", listing.URL),
				zap.Error(err))
			continue
		}
		row.ID = len(rows)
		rows = append(rows, row)
	}
	report.Accepted = len(rows)

	if err := replaceTable(ctx, l.db, rows, l.batchSize); err != nil {
		return nil, report, apperrors.Persistence(models.AccommodationRecord{}.TableName(), err)
	}

	l.logger.Info("Accommodations loaded",
		zap.Int("rows", report.Accepted),
		zap.Int("skipped", report.Skipped))
	return rows, report, nil
}

func convertListing(listing models.RawListing, byName map[string]int, byID map[int]bool) (models.AccommodationRecord, error) {
	const table = "accommodations"
	key := listing.Name
	if key == "" {
		key = listing.URL
	}

	var cityID int
	if name := strings.TrimSpace(listing.CityName); name != "" {
		id, ok := byName[name]
		if !ok {
			return models.AccommodationRecord{}, &apperrors.RecordError{Table: table, Key: key, Reason: fmt.Sprintf("unknown city %q", name)}
		}
		cityID = id
	} else {
		if !byID[listing.CityID] {
			return models.AccommodationRecord{}, &apperrors.RecordError{Table: table, Key: key, Reason: fmt.Sprintf("unknown city id %d", listing.CityID)}
		}
		cityID = listing.CityID
	}

	lat, lon, err := ParseGPS(listing.GPSCoordinates)
	if err != nil {
		return models.AccommodationRecord{}, &apperrors.RecordError{Table: table, Key: key, Reason: "malformed gps coordinates", Err: err}
	}

	score, err := ParseScore(listing.Score)
	if err != nil {
		return models.AccommodationRecord{}, &apperrors.RecordError{Table: table, Key: key, Reason: "malformed score", Err: err}
	}

	description := strings.TrimSpace(listing.Description)
	if description == "" {
		description = strings.TrimSpace(listing.FullDescription)
	}

	return models.AccommodationRecord{
		CityID:         cityID,
		Name:           strings.TrimSpace(listing.Name),
		Score:          score,
		Description:    description,
		GPSCoordinates: listing.GPSCoordinates,
		Lat:            lat,
		Lon:            lon,
	}, nil
}

// ParseGPS splits "lat,lon" into its two coordinates.
func ParseGPS(raw string) (float64, float64, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"lat,lon\", got %q", raw)
	}

	lat, err := parseFinite(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lon, err := parseFinite(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	return lat, lon, nil
}

// ParseScore reads a review score written with a comma decimal separator.
// An empty score is nil.
func ParseScore(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	score, err := parseFinite(strings.Replace(raw, ",", ".", 1))
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// parseFinite rejects NaN and infinities, which ParseFloat accepts.
func parseFinite(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", raw)
	}
	return v, nil
}

// replaceTable drops and recreates the model's table and inserts rows, all in
// one transaction, so readers see either the old or the new contents.
func replaceTable[T any](ctx context.Context, db *gorm.DB, rows []T, batchSize int) error {
	startTime := time.Now()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceRows(tx, rows, batchSize)
	})
	if err != nil {
		return fmt.Errorf("replace failed after %s: %w", time.Since(startTime).Round(time.Millisecond), err)
	}
	return nil
}

func replaceRows[T any](tx *gorm.DB, rows []T, batchSize int) error {
	var model T
	migrator := tx.Migrator()
	if err := migrator.DropTable(&model); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	if err := migrator.CreateTable(&model); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(&rows, batchSize).Error; err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}
	return nil
}
