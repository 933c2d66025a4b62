package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bobby-s-dev/trip-planner/internal/cache"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"go.uber.org/zap"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

type NominatimClient struct {
	*BaseClient
	baseURL string
}

type nominatimPlace struct {
	Name        string `json:"name"`
	AddressType string `json:"addresstype"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	OSMID       int64  `json:"osm_id"`
}

func NewNominatimClient(config ClientConfig, respCache cache.Cache, logger *zap.Logger) *NominatimClient {
	return &NominatimClient{
		BaseClient: NewBaseClient("nominatim", config, respCache, logger),
		baseURL:    defaultNominatimURL,
	}
}

func (c *NominatimClient) WithBaseURL(baseURL string) *NominatimClient {
	c.baseURL = baseURL
	return c
}

// Search returns every place the geocoder matched for name within country.
// Candidates with unparseable coordinates are dropped.
func (c *NominatimClient) Search(ctx context.Context, name, country string) ([]models.GeoCandidate, error) {
	query := url.Values{}
	query.Set("format", "json")
	query.Set("country", country)
	query.Set("city", name)
	requestURL := fmt.Sprintf("%s/search?%s", c.baseURL, query.Encode())

	data, err := c.GetCached(ctx, fmt.Sprintf("geo:%s:%s", country, name), requestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode %q: %w", name, err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(data, &places); err != nil {
		return nil, fmt.Errorf("failed to parse geocoding response for %q: %w", name, err)
	}

	candidates := make([]models.GeoCandidate, 0, len(places))
	for _, place := range places {
		lat, latErr := strconv.ParseFloat(place.Lat, 64)
		lon, lonErr := strconv.ParseFloat(place.Lon, 64)
		if latErr != nil || lonErr != nil {
			c.logger.Warn("Skipping geocoding candidate with bad coordinates",
				zap.String("query", name),
				zap.String("candidate", place.Name),
				zap.String("lat", place.Lat),
				zap.String("lon", place.Lon))
			continue
		}

		candidates = append(candidates, models.GeoCandidate{
			Name:        place.Name,
			AddressType: place.AddressType,
			Lat:         lat,
			Lon:         lon,
			ExternalID:  place.OSMID,
		})
	}

	return candidates, nil
}
