package scraper

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type PropertyCard struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Score       string `json:"score"`
	Description string `json:"description"`
}

type PropertyDetail struct {
	GPSCoordinates  string `json:"gps"`
	FullDescription string `json:"full_description"`
}

// Browser drives the listing site: one search per city, one results page,
// one detail page per property.
type Browser interface {
	SearchCity(ctx context.Context, cityName string) (string, error)
	ListProperties(ctx context.Context, resultsURL string) ([]PropertyCard, error)
	PropertyDetail(ctx context.Context, propertyURL string) (PropertyDetail, error)
}

type State string

const (
	StateSearching State = "searching"
	StateListing   State = "listing"
	StateDetail    State = "detail"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

type Config struct {
	MaxRetries    int
	RetryDelay    time.Duration
	ThrottleDelay time.Duration
	MaxPerCity    int
}

type CityReport struct {
	City           string `json:"city"`
	State          State  `json:"state"`
	FailedIn       State  `json:"failed_in,omitempty"`
	Cards          int    `json:"cards"`
	Listings       int    `json:"listings"`
	DetailFailures int    `json:"detail_failures"`
	Error          string `json:"error,omitempty"`
}

type Report struct {
	Cities   []CityReport `json:"cities"`
	Listings int          `json:"listings"`
	Failed   int          `json:"failed_cities"`
}

type Scraper struct {
	browser Browser
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger
}

func NewScraper(browser Browser, cfg Config, logger *zap.Logger) *Scraper {
	limit := rate.Inf
	if cfg.ThrottleDelay > 0 {
		limit = rate.Every(cfg.ThrottleDelay)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Scraper{
		browser: browser,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  logger,
	}
}

// Scrape collects listings for each city in turn. A city that fails in any
// state contributes whatever it gathered before the failure and never stops
// the remaining cities.
func (s *Scraper) Scrape(ctx context.Context, cities []models.City) ([]models.RawListing, Report) {
	startTime := time.Now()
	var all []models.RawListing
	var report Report

	for _, city := range cities {
		if ctx.Err() != nil {
			report.Cities = append(report.Cities, CityReport{City: city.Name, State: StateFailed, FailedIn: StateSearching, Error: ctx.Err().Error()})
			report.Failed++
			continue
		}

		listings, cityReport := s.scrapeCity(ctx, city)
		all = append(all, listings...)
		report.Cities = append(report.Cities, cityReport)
		if cityReport.State == StateFailed {
			report.Failed++
		}
	}
	report.Listings = len(all)

	s.logger.Info("Scraping completed",
		zap.Int("cities", len(cities)),
		zap.Int("failed_cities", report.Failed),
		zap.Int("listings", report.Listings),
		zap.Duration("duration", time.Since(startTime)))

	return all, report
}

func (s *Scraper) scrapeCity(ctx context.Context, city models.City) ([]models.RawListing, CityReport) {
	report := CityReport{City: city.Name}
	var resultsURL string
	var cards []PropertyCard
	var listings []models.RawListing

	state := StateSearching
	for state != StateDone && state != StateFailed {
		switch state {
		case StateSearching:
			err := s.withRetry(ctx, func() error {
				var err error
				resultsURL, err = s.browser.SearchCity(ctx, city.Name)
				return err
			})
			if err != nil {
				state = s.fail(&report, state, err)
				continue
			}
			state = StateListing

		case StateListing:
			err := s.withRetry(ctx, func() error {
				var err error
				cards, err = s.browser.ListProperties(ctx, resultsURL)
				return err
			})
			if err != nil {
				state = s.fail(&report, state, err)
				continue
			}
			if s.cfg.MaxPerCity > 0 && len(cards) > s.cfg.MaxPerCity {
				cards = cards[:s.cfg.MaxPerCity]
			}
			report.Cards = len(cards)
			state = StateDetail

		case StateDetail:
			for _, card := range cards {
				if ctx.Err() != nil {
					break
				}
				var detail PropertyDetail
				err := s.withRetry(ctx, func() error {
					var err error
					detail, err = s.browser.PropertyDetail(ctx, card.URL)
					return err
				})
				if err != nil {
					report.DetailFailures++
					s.logger.Warn("Failed to scrape property detail",
						zap.String("city", city.Name),
						zap.String("name", card.Name),
						zap.String("url", card.URL),
						zap.Error(err))
					continue
				}

				listings = append(listings, models.RawListing{
					URL:             card.URL,
					CityName:        city.Name,
					CityID:          city.ID,
					Name:            card.Name,
					Score:           card.Score,
					Description:     card.Description,
					FullDescription: detail.FullDescription,
					GPSCoordinates:  detail.GPSCoordinates,
				})
			}
			state = StateDone
		}
	}

	if state == StateDone {
		report.State = StateDone
	}
	report.Listings = len(listings)

	s.logger.Debug("City scraped",
		zap.String("city", city.Name),
		zap.String("state", string(report.State)),
		zap.Int("listings", report.Listings),
		zap.Int("detail_failures", report.DetailFailures))

	return listings, report
}

func (s *Scraper) fail(report *CityReport, in State, err error) State {
	report.State = StateFailed
	report.FailedIn = in
	report.Error = err.Error()
	s.logger.Warn("City scrape failed",
		zap.String("city", report.City),
		zap.String("state", string(in)),
		zap.Error(err))
	return StateFailed
}

// withRetry throttles every attempt through the shared limiter and backs off
// exponentially between attempts.
func (s *Scraper) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(s.cfg.RetryDelay) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d attempts failed, last error: %w", s.cfg.MaxRetries+1, lastErr)
}
