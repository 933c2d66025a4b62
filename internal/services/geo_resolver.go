package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"go.uber.org/zap"
)

type Geocoder interface {
	Search(ctx context.Context, name, country string) ([]models.GeoCandidate, error)
}

type GeoResolver struct {
	geocoder Geocoder
	logger   *zap.Logger
	workers  int
	failFast bool
}

type GeoReport struct {
	Requested int      `json:"requested"`
	Resolved  int      `json:"resolved"`
	Misses    []string `json:"misses"`
	Failed    []string `json:"failed"`
}

// addressPriority ranks place types when a name matches several places.
// Lower wins; unlisted types rank last.
var addressPriority = map[string]int{
	"town":         1,
	"city":         2,
	"municipality": 3,
	"village":      4,
	"peak":         5,
	"historic":     6,
}

const defaultAddressPriority = 7

func NewGeoResolver(geocoder Geocoder, workers int, failFast bool, logger *zap.Logger) *GeoResolver {
	if workers < 1 {
		workers = 1
	}
	return &GeoResolver{
		geocoder: geocoder,
		logger:   logger,
		workers:  workers,
		failFast: failFast,
	}
}

type lookupResult struct {
	candidates []models.GeoCandidate
	err        error
}

// Resolve geocodes every requested name and keeps one city per name. With
// fail-fast enabled the first lookup error aborts the batch.
func (r *GeoResolver) Resolve(ctx context.Context, names []string, country string) ([]models.City, GeoReport, error) {
	requested := uniqueNames(names)
	report := GeoReport{Requested: len(requested)}
	startTime := time.Now()

	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]lookupResult, len(requested))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i, name := range requested {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-lookupCtx.Done():
				results[i].err = lookupCtx.Err()
				return
			}
			defer func() { <-sem }()

			candidates, err := r.geocoder.Search(lookupCtx, name, country)
			results[i] = lookupResult{candidates: candidates, err: err}

			if err != nil && r.failFast {
				once.Do(func() {
					firstErr = apperrors.Fetch(name, err)
					cancel()
				})
			}
		}(i, name)
	}

	wg.Wait()

	if firstErr != nil {
		r.logger.Error("Geocoding aborted",
			zap.Int("cities", len(requested)),
			zap.Error(firstErr))
		return nil, report, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	var all []models.GeoCandidate
	for i, result := range results {
		if result.err != nil {
			r.logger.Warn("Geocoding lookup failed, skipping city",
				zap.String("city", requested[i]),
				zap.Error(result.err))
			report.Failed = append(report.Failed, requested[i])
			continue
		}
		all = append(all, result.candidates...)
	}

	cities := SelectCities(all, requested)

	resolved := make(map[string]bool, len(cities))
	for _, city := range cities {
		resolved[city.Name] = true
	}
	failed := make(map[string]bool, len(report.Failed))
	for _, name := range report.Failed {
		failed[name] = true
	}
	for _, name := range requested {
		if !resolved[name] && !failed[name] {
			r.logger.Warn("No geocoding candidate for city",
				zap.String("city", name),
				zap.Error(apperrors.ErrResolutionMiss))
			report.Misses = append(report.Misses, name)
		}
	}
	report.Resolved = len(cities)

	r.logger.Info("Geocoding completed",
		zap.Int("requested", report.Requested),
		zap.Int("resolved", report.Resolved),
		zap.Int("misses", len(report.Misses)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", time.Since(startTime)))

	return cities, report, nil
}

// SelectCities picks one candidate per requested name. Hamlets and candidates
// whose name differs from every requested name are dropped, then the best
// address type wins per name. Ids follow name order.
func SelectCities(candidates []models.GeoCandidate, requested []string) []models.City {
	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		wanted[name] = true
	}

	kept := make([]models.GeoCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.AddressType == "hamlet" || !wanted[c.Name] {
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Name != kept[j].Name {
			return kept[i].Name < kept[j].Name
		}
		return priorityOf(kept[i].AddressType) < priorityOf(kept[j].AddressType)
	})

	cities := make([]models.City, 0, len(requested))
	for _, c := range kept {
		if len(cities) > 0 && cities[len(cities)-1].Name == c.Name {
			continue
		}
		cities = append(cities, models.City{
			ID:   len(cities),
			Name: c.Name,
			Lat:  c.Lat,
			Lon:  c.Lon,
		})
	}

	return cities
}

func priorityOf(addressType string) int {
	if p, ok := addressPriority[addressType]; ok {
		return p
	}
	return defaultAddressPriority
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
