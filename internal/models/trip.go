package models

import (
	"time"
)

type City struct {
	ID   int     `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	Name string  `json:"name" gorm:"column:name"`
	Lat  float64 `json:"lat" gorm:"column:lat"`
	Lon  float64 `json:"lon" gorm:"column:lon"`
}

func (City) TableName() string {
	return "cities"
}

// GeoCandidate is one geocoding match for a queried name. A single query can
// return several candidates, possibly for differently named places.
type GeoCandidate struct {
	Name        string  `json:"name"`
	AddressType string  `json:"address_type"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ExternalID  int64   `json:"external_id"`
}

type ForecastDay struct {
	Date         time.Time `json:"date"`
	FeelsLikeDay float64   `json:"feels_like_day"`
	Humidity     float64   `json:"humidity"`
	WindSpeed    float64   `json:"wind_speed"`
	Clouds       float64   `json:"clouds"`
	Pop          float64   `json:"pop"`
	Weather      string    `json:"weather"`
}

type ForecastRecord struct {
	ID            int       `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	CityID        int       `json:"city_id" gorm:"column:city_id"`
	City          string    `json:"city" gorm:"column:city"`
	Lat           float64   `json:"lat" gorm:"column:lat"`
	Lon           float64   `json:"lon" gorm:"column:lon"`
	Date          time.Time `json:"dt" gorm:"column:dt"`
	FeelsLikeDay  float64   `json:"feels_like_day" gorm:"column:feels_like_day"`
	Humidity      float64   `json:"humidity" gorm:"column:humidity"`
	Clouds        float64   `json:"clouds" gorm:"column:clouds"`
	Pop           float64   `json:"pop" gorm:"column:pop"`
	WindSpeed     float64   `json:"wind_speed" gorm:"column:wind_speed"`
	ForecastScore float64   `json:"forecast_score" gorm:"column:forecast_score"`
	Weather       string    `json:"weather" gorm:"-"`
}

func (ForecastRecord) TableName() string {
	return "forecasts"
}

// RawListing is a scraped accommodation exactly as the crawler produced it.
// Score keeps the site's comma decimal separator ("8,6").
type RawListing struct {
	URL             string `json:"url"`
	CityName        string `json:"search_city"`
	CityID          int    `json:"city_id"`
	Name            string `json:"name"`
	Score           string `json:"score"`
	Description     string `json:"description"`
	FullDescription string `json:"full_description"`
	GPSCoordinates  string `json:"gps_coordinates"`
}

type AccommodationRecord struct {
	ID             int      `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	CityID         int      `json:"city_id" gorm:"column:city_id"`
	Name           string   `json:"name" gorm:"column:name"`
	Score          *float64 `json:"score" gorm:"column:score"`
	Description    string   `json:"description" gorm:"column:description"`
	GPSCoordinates string   `json:"gps_coordinates" gorm:"column:gps_coordinates"`
	Lat            float64  `json:"lat" gorm:"column:lat"`
	Lon            float64  `json:"lon" gorm:"column:lon"`
}

func (AccommodationRecord) TableName() string {
	return "accommodations"
}

// ScoreWeights are the coefficients of the forecast comfort score.
type ScoreWeights struct {
	Temp     float64 `json:"temp" yaml:"temp"`
	Humidity float64 `json:"humidity" yaml:"humidity"`
	Clouds   float64 `json:"clouds" yaml:"clouds"`
	Precip   float64 `json:"precip" yaml:"precip"`
	Wind     float64 `json:"wind" yaml:"wind"`
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Temp:     1.0,
		Humidity: -0.1,
		Clouds:   -0.1,
		Precip:   -1.0,
		Wind:     -0.1,
	}
}

// Score is the weighted linear comfort score of one forecast day.
func (w ScoreWeights) Score(day ForecastDay) float64 {
	return w.Temp*day.FeelsLikeDay +
		w.Humidity*day.Humidity +
		w.Clouds*day.Clouds +
		w.Precip*day.Pop +
		w.Wind*day.WindSpeed
}

type CityRanking struct {
	CityID       int     `json:"city_id" gorm:"column:city_id"`
	City         string  `json:"city" gorm:"column:city"`
	Lat          float64 `json:"lat" gorm:"column:lat"`
	Lon          float64 `json:"lon" gorm:"column:lon"`
	FeelsLikeDay float64 `json:"feels_temperature_day" gorm:"column:feels_temperature_day"`
	ScoreMean    float64 `json:"score_mean" gorm:"column:score_mean"`
	HumidityMean float64 `json:"humidity_mean" gorm:"column:humidity_mean"`
	WindMean     float64 `json:"wind_mean" gorm:"column:wind_mean"`
	PopMean      float64 `json:"prob_rain_mean" gorm:"column:prob_rain_mean"`
}

type BubblePoint struct {
	Label string            `json:"label"`
	Lat   float64           `json:"lat"`
	Lon   float64           `json:"lon"`
	Size  float64           `json:"size"`
	Color float64           `json:"color"`
	Hover map[string]string `json:"hover,omitempty"`
}

type BubbleMap struct {
	Title       string        `json:"title"`
	GeneratedAt time.Time     `json:"generated_at"`
	Points      []BubblePoint `json:"points"`
}
