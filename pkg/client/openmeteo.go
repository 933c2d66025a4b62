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

const (
	defaultOpenMeteoURL = "https://api.open-meteo.com/v1"
	openMeteoDaily      = "apparent_temperature_max,relative_humidity_2m_mean,wind_speed_10m_max,cloud_cover_mean,precipitation_probability_max,weather_code"
	forecastDays        = 8
)

// OpenMeteoClient is the keyless forecast provider. Daily values are mapped
// onto the same fields the One Call API reports.
type OpenMeteoClient struct {
	*BaseClient
	baseURL string
}

type OpenMeteoForecastResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Daily     struct {
		Time                        []string   `json:"time"`
		ApparentTemperatureMax      []*float64 `json:"apparent_temperature_max"`
		RelativeHumidity2MMean      []*float64 `json:"relative_humidity_2m_mean"`
		WindSpeed10MMax             []*float64 `json:"wind_speed_10m_max"`
		CloudCoverMean              []*float64 `json:"cloud_cover_mean"`
		PrecipitationProbabilityMax []*float64 `json:"precipitation_probability_max"`
		WeatherCode                 []*int     `json:"weather_code"`
	} `json:"daily"`
}

func NewOpenMeteoClient(config ClientConfig, respCache cache.Cache, logger *zap.Logger) *OpenMeteoClient {
	return &OpenMeteoClient{
		BaseClient: NewBaseClient("openmeteo", config, respCache, logger),
		baseURL:    defaultOpenMeteoURL,
	}
}

func (c *OpenMeteoClient) WithBaseURL(baseURL string) *OpenMeteoClient {
	c.baseURL = baseURL
	return c
}

func (c *OpenMeteoClient) GetDailyForecast(ctx context.Context, lat, lon float64) ([]models.ForecastDay, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("daily", openMeteoDaily)
	query.Set("forecast_days", strconv.Itoa(forecastDays))
	query.Set("wind_speed_unit", "ms")
	query.Set("timezone", "UTC")
	requestURL := fmt.Sprintf("%s/forecast?%s", c.baseURL, query.Encode())

	data, err := c.GetCached(ctx, fmt.Sprintf("openmeteo:%.4f,%.4f", lat, lon), requestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}

	var response OpenMeteoForecastResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse forecast response: %w", err)
	}

	daily := response.Daily
	n := len(daily.Time)
	if n == 0 {
		return nil, fmt.Errorf("forecast response has no daily entries")
	}
	if len(daily.ApparentTemperatureMax) != n || len(daily.RelativeHumidity2MMean) != n ||
		len(daily.WindSpeed10MMax) != n || len(daily.CloudCoverMean) != n ||
		len(daily.PrecipitationProbabilityMax) != n {
		return nil, fmt.Errorf("forecast response has ragged daily arrays")
	}

	days := make([]models.ForecastDay, 0, n)
	for i := 0; i < n; i++ {
		date, err := time.Parse("2006-01-02", daily.Time[i])
		if err != nil {
			return nil, fmt.Errorf("daily entry %d: bad date %q: %w", i, daily.Time[i], err)
		}

		feels, humidity := daily.ApparentTemperatureMax[i], daily.RelativeHumidity2MMean[i]
		wind, clouds, pop := daily.WindSpeed10MMax[i], daily.CloudCoverMean[i], daily.PrecipitationProbabilityMax[i]
		if feels == nil || humidity == nil || wind == nil || clouds == nil || pop == nil {
			return nil, fmt.Errorf("daily entry %d: missing required value", i)
		}

		description := "Unknown"
		if i < len(daily.WeatherCode) && daily.WeatherCode[i] != nil {
			description = weatherCodeToDescription(*daily.WeatherCode[i])
		}

		days = append(days, models.ForecastDay{
			Date:         date,
			FeelsLikeDay: *feels,
			Humidity:     *humidity,
			WindSpeed:    *wind,
			Clouds:       *clouds,
			Pop:          *pop / 100,
			Weather:      description,
		})
	}

	return days, nil
}

// WMO weather interpretation codes
var weatherCodes = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Foggy",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow fall",
	73: "Moderate snow fall",
	75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

func weatherCodeToDescription(code int) string {
	if desc, ok := weatherCodes[code]; ok {
		return desc
	}
	return "Unknown"
}
