package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RankingProcessor struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRankingProcessor(db *gorm.DB, logger *zap.Logger) *RankingProcessor {
	return &RankingProcessor{
		db:     db,
		logger: logger,
	}
}

// BestWeather returns the n cities with the highest mean forecast score.
// Ties are broken by city name.
func (p *RankingProcessor) BestWeather(ctx context.Context, n int) ([]models.CityRanking, error) {
	if n <= 0 {
		return []models.CityRanking{}, nil
	}

	var rows []models.CityRanking
	err := p.db.WithContext(ctx).
		Table(models.ForecastRecord{}.TableName()).
		Select("city_id, city, lat, lon, " +
			"avg(feels_like_day) AS feels_temperature_day, " +
			"avg(forecast_score) AS score_mean, " +
			"avg(humidity) AS humidity_mean, " +
			"avg(wind_speed) AS wind_mean, " +
			"avg(pop) AS prob_rain_mean").
		Group("city_id, city, lat, lon").
		Order("score_mean DESC, city ASC").
		Limit(n).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank cities by weather: %w", err)
	}

	if rows == nil {
		rows = []models.CityRanking{}
	}
	return rows, nil
}

// BestStays returns the scored accommodations of the given cities, best first
// within each city. perCity <= 0 means no cap.
func (p *RankingProcessor) BestStays(ctx context.Context, cityIDs []int, perCity int) ([]models.AccommodationRecord, error) {
	if len(cityIDs) == 0 {
		return []models.AccommodationRecord{}, nil
	}

	var rows []models.AccommodationRecord
	err := p.db.WithContext(ctx).
		Where("city_id IN ? AND score IS NOT NULL", cityIDs).
		Order("city_id ASC, score DESC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank accommodations: %w", err)
	}

	if perCity <= 0 {
		return rows, nil
	}

	capped := make([]models.AccommodationRecord, 0, len(rows))
	taken := make(map[int]int)
	for _, row := range rows {
		if taken[row.CityID] >= perCity {
			continue
		}
		taken[row.CityID]++
		capped = append(capped, row)
	}
	return capped, nil
}

// ForecastMap places the top n cities on a bubble map.
func (p *RankingProcessor) ForecastMap(ctx context.Context, n int) (*models.BubbleMap, error) {
	rankings, err := p.BestWeather(ctx, n)
	if err != nil {
		return nil, err
	}
	return p.ForecastMapOf(rankings), nil
}

// ForecastMapOf places already ranked cities on a bubble map. Bubble size
// grows with the mean score and colour carries the felt temperature.
func (p *RankingProcessor) ForecastMapOf(rankings []models.CityRanking) *models.BubbleMap {
	scores := make([]float64, len(rankings))
	for i, r := range rankings {
		scores[i] = r.ScoreMean
	}
	sizes := bubbleSizes(scores)

	points := make([]models.BubblePoint, 0, len(rankings))
	for i, r := range rankings {
		points = append(points, models.BubblePoint{
			Label: r.City,
			Lat:   r.Lat,
			Lon:   r.Lon,
			Size:  sizes[i],
			Color: r.FeelsLikeDay,
			Hover: map[string]string{
				"score":          fmt.Sprintf("%.2f", r.ScoreMean),
				"feels_like":     fmt.Sprintf("%.1f", r.FeelsLikeDay),
				"humidity":       fmt.Sprintf("%.0f", r.HumidityMean),
				"wind":           fmt.Sprintf("%.1f", r.WindMean),
				"prob_rain_mean": fmt.Sprintf("%.2f", r.PopMean),
			},
		})
	}

	p.logger.Debug("Forecast map built", zap.Int("points", len(points)))

	return &models.BubbleMap{
		Title:       fmt.Sprintf("Top %d destinations by forecast comfort", len(points)),
		GeneratedAt: time.Now().UTC(),
		Points:      points,
	}
}

// StaysMap places the best stays of the given cities on a bubble map sized
// and coloured by review score.
func (p *RankingProcessor) StaysMap(ctx context.Context, cityIDs []int, perCity int) (*models.BubbleMap, error) {
	stays, err := p.BestStays(ctx, cityIDs, perCity)
	if err != nil {
		return nil, err
	}

	points := make([]models.BubblePoint, 0, len(stays))
	for _, s := range stays {
		points = append(points, models.BubblePoint{
			Label: s.Name,
			Lat:   s.Lat,
			Lon:   s.Lon,
			Size:  *s.Score,
			Color: *s.Score,
			Hover: map[string]string{
				"city_id":     fmt.Sprintf("%d", s.CityID),
				"score":       fmt.Sprintf("%.1f", *s.Score),
				"description": s.Description,
			},
		})
	}

	p.logger.Debug("Stays map built", zap.Int("points", len(points)))

	return &models.BubbleMap{
		Title:       "Best rated stays in the top destinations",
		GeneratedAt: time.Now().UTC(),
		Points:      points,
	}, nil
}

// bubbleSizes maps scores, which may be negative, onto sizes in [5, 25].
func bubbleSizes(scores []float64) []float64 {
	const minSize, maxSize = 5.0, 25.0

	sizes := make([]float64, len(scores))
	if len(scores) == 0 {
		return sizes
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}

	for i, s := range scores {
		if hi == lo {
			sizes[i] = maxSize
			continue
		}
		sizes[i] = minSize + (s-lo)/(hi-lo)*(maxSize-minSize)
	}
	return sizes
}
