package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/cache"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"go.uber.org/zap"
)

const defaultOpenWeatherURL = "https://api.openweathermap.org/data/3.0"

type OpenWeatherClient struct {
	*BaseClient
	apiKey  string
	baseURL string
}

type OneCallResponse struct {
	Lat            float64        `json:"lat"`
	Lon            float64        `json:"lon"`
	Timezone       string         `json:"timezone"`
	TimezoneOffset int            `json:"timezone_offset"`
	Daily          []OneCallDaily `json:"daily"`
}

// OneCallDaily uses pointers for the fields the score depends on so a payload
// that omits them is rejected instead of scored as zero.
type OneCallDaily struct {
	Dt        *int64   `json:"dt"`
	Summary   string   `json:"summary"`
	Humidity  *float64 `json:"humidity"`
	Clouds    *float64 `json:"clouds"`
	Pop       *float64 `json:"pop"`
	WindSpeed *float64 `json:"wind_speed"`
	Rain      float64  `json:"rain"`
	UVI       float64  `json:"uvi"`
	Temp      struct {
		Day   float64 `json:"day"`
		Min   float64 `json:"min"`
		Max   float64 `json:"max"`
		Night float64 `json:"night"`
	} `json:"temp"`
	FeelsLike *struct {
		Day   *float64 `json:"day"`
		Night float64  `json:"night"`
		Eve   float64  `json:"eve"`
		Morn  float64  `json:"morn"`
	} `json:"feels_like"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

func NewOpenWeatherClient(apiKey string, config ClientConfig, respCache cache.Cache, logger *zap.Logger) *OpenWeatherClient {
	return &OpenWeatherClient{
		BaseClient: NewBaseClient("openweather", config, respCache, logger),
		apiKey:     apiKey,
		baseURL:    defaultOpenWeatherURL,
	}
}

func (c *OpenWeatherClient) WithBaseURL(baseURL string) *OpenWeatherClient {
	c.baseURL = baseURL
	return c
}

func (c *OpenWeatherClient) GetDailyForecast(ctx context.Context, lat, lon float64) ([]models.ForecastDay, error) {
	query := url.Values{}
	query.Set("units", "metric")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("exclude", "minutely,hourly,current")
	query.Set("appid", c.apiKey)
	requestURL := fmt.Sprintf("%s/onecall?%s", c.baseURL, query.Encode())

	data, err := c.GetCached(ctx, fmt.Sprintf("weather:%.4f,%.4f", lat, lon), requestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}

	var response OneCallResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse forecast response: %w", err)
	}

	if len(response.Daily) == 0 {
		return nil, fmt.Errorf("forecast response has no daily entries")
	}

	days := make([]models.ForecastDay, 0, len(response.Daily))
	for i, daily := range response.Daily {
		if err := daily.validate(); err != nil {
			return nil, fmt.Errorf("daily entry %d: %w", i, err)
		}

		description := daily.Summary
		if len(daily.Weather) > 0 {
			description = daily.Weather[0].Description
		}

		days = append(days, models.ForecastDay{
			Date:         time.Unix(*daily.Dt, 0).UTC(),
			FeelsLikeDay: *daily.FeelsLike.Day,
			Humidity:     *daily.Humidity,
			WindSpeed:    *daily.WindSpeed,
			Clouds:       *daily.Clouds,
			Pop:          *daily.Pop,
			Weather:      description,
		})
	}

	return days, nil
}

func (d OneCallDaily) validate() error {
	switch {
	case d.Dt == nil:
		return fmt.Errorf("missing dt")
	case d.FeelsLike == nil || d.FeelsLike.Day == nil:
		return fmt.Errorf("missing feels_like.day")
	case d.Humidity == nil:
		return fmt.Errorf("missing humidity")
	case d.Clouds == nil:
		return fmt.Errorf("missing clouds")
	case d.Pop == nil:
		return fmt.Errorf("missing pop")
	case d.WindSpeed == nil:
		return fmt.Errorf("missing wind_speed")
	}
	return nil
}
