package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultCities are the French destinations planned when no city list is
// configured.
var DefaultCities = []string{
	"Mont Saint-Michel",
	"Saint-Malo",
	"Bayeux",
	"Le Havre",
	"Rouen",
	"Paris",
	"Amiens",
	"Lille",
	"Strasbourg",
	"Château du Haut-Kœnigsbourg",
	"Colmar",
	"Eguisheim",
	"Besançon",
	"Dijon",
	"Annecy",
	"Grenoble",
	"Lyon",
	"Gorges du Verdon",
	"Bormes-les-Mimosas",
	"Cassis",
	"Marseille",
	"Aix-en-Provence",
	"Avignon",
	"Uzès",
	"Nîmes",
	"Aigues-Morte",
	"Saintes-Maries-de-la-Mer",
	"Collioure",
	"Carcassonne",
	"Ariège",
	"Toulouse",
	"Montauban",
	"Biarritz",
	"Bayonne",
	"La Rochelle",
	"Gap",
	"Briançon",
}

type Config struct {
	Server struct {
		Port         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		LogLevel     string
	}

	Pipeline struct {
		Cities       []string
		Country      string
		CitiesFile   string
		TopN         int
		StaysPerCity int
		Workers      int
		FailFast     bool
		Weights      models.ScoreWeights
	}

	Geocoding struct {
		BaseURL  string
		CacheTTL time.Duration
	}

	Weather struct {
		Provider          string
		OpenWeatherAPIKey string
		OpenWeatherURL    string
		OpenMeteoURL      string
		CacheTTL          time.Duration
	}

	Scraper struct {
		Enabled       bool
		BaseURL       string
		Language      string
		UserAgent     string
		MaxRetries    int
		RetryDelay    time.Duration
		ThrottleDelay time.Duration
		MaxPerCity    int
		PageTimeout   time.Duration
	}

	Warehouse struct {
		Driver          string
		DSN             string
		Username        string
		Password        string
		Hostname        string
		Name            string
		Port            string
		MaxOpenConns    int
		MaxIdleConns    int
		ConnMaxLifetime time.Duration
		BatchSize       int
	}

	Storage struct {
		Backend         string
		LocalDir        string
		Bucket          string
		Prefix          string
		CredentialsFile string
		Endpoint        string
	}

	Cache struct {
		Backend         string
		MaxSize         int
		CleanupInterval time.Duration
		RedisAddr       string
		RedisPassword   string
		RedisDB         int
		RedisPrefix     string
	}

	Scheduler struct {
		Enabled    bool
		Spec       string
		RunTimeout time.Duration
		RunOnStart bool
	}

	HTTP struct {
		Timeout   time.Duration
		UserAgent string
	}

	CircuitBreaker struct {
		Timeout time.Duration
	}

	Retry struct {
		MaxRetries int
		Delay      time.Duration
		Multiplier float64
	}
}

// citiesFile is the optional YAML file overriding the city list, the country
// and the score weights.
type citiesFile struct {
	Country string               `yaml:"country"`
	Cities  []string             `yaml:"cities"`
	Weights *models.ScoreWeights `yaml:"weights"`
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		zap.L().Info("No .env file found, using environment variables")
	}

	cfg := &Config{}

	// Server configuration
	cfg.Server.Port = getEnv("FIBER_PORT", "8080")
	cfg.Server.ReadTimeout = parseDuration(getEnv("FIBER_READ_TIMEOUT", "10s"))
	cfg.Server.WriteTimeout = parseDuration(getEnv("FIBER_WRITE_TIMEOUT", "10s"))
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", "info")

	// Pipeline configuration
	cfg.Pipeline.Cities = DefaultCities
	if cities := getEnv("CITIES", ""); cities != "" {
		cfg.Pipeline.Cities = splitList(cities)
	}
	cfg.Pipeline.Country = getEnv("COUNTRY", "france")
	cfg.Pipeline.CitiesFile = getEnv("CITIES_FILE", "")
	cfg.Pipeline.TopN = parseInt(getEnv("TOP_N", "5"))
	cfg.Pipeline.StaysPerCity = parseInt(getEnv("STAYS_PER_CITY", "20"))
	cfg.Pipeline.Workers = parseInt(getEnv("WORKERS", "4"))
	cfg.Pipeline.FailFast = parseBool(getEnv("GEO_FAIL_FAST", "true"))

	defaults := models.DefaultScoreWeights()
	cfg.Pipeline.Weights = models.ScoreWeights{
		Temp:     parseFloat(getEnv("SCORE_WEIGHT_TEMP", formatFloat(defaults.Temp))),
		Humidity: parseFloat(getEnv("SCORE_WEIGHT_HUMIDITY", formatFloat(defaults.Humidity))),
		Clouds:   parseFloat(getEnv("SCORE_WEIGHT_CLOUDS", formatFloat(defaults.Clouds))),
		Precip:   parseFloat(getEnv("SCORE_WEIGHT_PRECIP", formatFloat(defaults.Precip))),
		Wind:     parseFloat(getEnv("SCORE_WEIGHT_WIND", formatFloat(defaults.Wind))),
	}

	// Geocoding configuration
	cfg.Geocoding.BaseURL = getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org")
	cfg.Geocoding.CacheTTL = parseDuration(getEnv("NOMINATIM_CACHE_EXPIRATION", "720h"))

	// Weather configuration
	cfg.Weather.Provider = getEnv("WEATHER_PROVIDER", "openweather")
	cfg.Weather.OpenWeatherAPIKey = getEnv("OPENWEATHERMAP_API", "")
	cfg.Weather.OpenWeatherURL = getEnv("OPENWEATHERMAP_URL", "https://api.openweathermap.org/data/3.0")
	cfg.Weather.OpenMeteoURL = getEnv("OPENMETEO_URL", "https://api.open-meteo.com/v1")
	cfg.Weather.CacheTTL = parseDuration(getEnv("OPENWEATHERMAP_CACHE_EXPIRATION", "1h"))

	// Scraper configuration
	cfg.Scraper.Enabled = parseBool(getEnv("SCRAPER_ENABLED", "true"))
	cfg.Scraper.BaseURL = getEnv("BOOKING_URL", "https://www.booking.com")
	cfg.Scraper.Language = getEnv("BOOKING_LANGUAGE", "fr")
	cfg.Scraper.UserAgent = getEnv("SCRAPER_USER_AGENT", "Chrome/126.0.0.0")
	cfg.Scraper.MaxRetries = parseInt(getEnv("SCRAPER_RETRY_TIMES", "3"))
	cfg.Scraper.RetryDelay = parseDuration(getEnv("SCRAPER_RETRY_DELAY", "2s"))
	cfg.Scraper.ThrottleDelay = parseDuration(getEnv("SCRAPER_THROTTLE_DELAY", "1s"))
	cfg.Scraper.MaxPerCity = parseInt(getEnv("SCRAPER_MAX_PER_CITY", "25"))
	cfg.Scraper.PageTimeout = parseDuration(getEnv("SCRAPER_PAGE_TIMEOUT", "45s"))

	// Warehouse configuration
	cfg.Warehouse.Driver = getEnv("WAREHOUSE_DRIVER", "postgres")
	cfg.Warehouse.DSN = getEnv("WAREHOUSE_DSN", "")
	cfg.Warehouse.Username = getEnv("DB_USERNAME", "")
	cfg.Warehouse.Password = getEnv("DB_PASSWORD", "")
	cfg.Warehouse.Hostname = getEnv("DB_HOSTNAME", "")
	cfg.Warehouse.Name = getEnv("DB_NAME", "")
	cfg.Warehouse.Port = getEnv("DB_PORT", "5432")
	cfg.Warehouse.MaxOpenConns = parseInt(getEnv("DB_MAX_OPEN_CONNS", "5"))
	cfg.Warehouse.MaxIdleConns = parseInt(getEnv("DB_MAX_IDLE_CONNS", "2"))
	cfg.Warehouse.ConnMaxLifetime = parseDuration(getEnv("DB_CONN_MAX_LIFETIME", "30m"))
	cfg.Warehouse.BatchSize = parseInt(getEnv("DB_BATCH_SIZE", "500"))

	// Object store configuration
	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", "local")
	cfg.Storage.LocalDir = getEnv("STORAGE_LOCAL_DIR", "data")
	cfg.Storage.Bucket = getEnv("GCS_BUCKET", "")
	cfg.Storage.Prefix = getEnv("STORAGE_PREFIX", "plan_your_trip")
	cfg.Storage.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", "")
	cfg.Storage.Endpoint = getEnv("GCS_ENDPOINT", "")

	// Cache configuration
	cfg.Cache.Backend = getEnv("CACHE_BACKEND", "memory")
	cfg.Cache.MaxSize = parseInt(getEnv("MAX_CACHE_SIZE", "1000"))
	cfg.Cache.CleanupInterval = parseDuration(getEnv("CACHE_CLEANUP_INTERVAL", "5m"))
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.Cache.RedisDB = parseInt(getEnv("REDIS_DB", "0"))
	cfg.Cache.RedisPrefix = getEnv("REDIS_PREFIX", "trip-planner:")

	// Scheduler configuration
	cfg.Scheduler.Enabled = parseBool(getEnv("SCHEDULER_ENABLED", "true"))
	cfg.Scheduler.Spec = getEnv("PIPELINE_CRON", "0 6 * * *")
	cfg.Scheduler.RunTimeout = parseDuration(getEnv("PIPELINE_TIMEOUT", "1h"))
	cfg.Scheduler.RunOnStart = parseBool(getEnv("RUN_ON_START", "false"))

	// Outbound HTTP configuration
	cfg.HTTP.Timeout = parseDuration(getEnv("HTTP_TIMEOUT", "15s"))
	cfg.HTTP.UserAgent = getEnv("HTTP_USER_AGENT", "trip-planner/1.0")

	// Circuit breaker configuration
	cfg.CircuitBreaker.Timeout = parseDuration(getEnv("CIRCUIT_BREAKER_TIMEOUT", "30s"))

	// Retry configuration
	cfg.Retry.MaxRetries = parseInt(getEnv("MAX_RETRIES", "3"))
	cfg.Retry.Delay = parseDuration(getEnv("RETRY_DELAY", "1s"))
	cfg.Retry.Multiplier = parseFloat(getEnv("RETRY_MULTIPLIER", "2"))

	if cfg.Pipeline.CitiesFile != "" {
		if err := cfg.loadCitiesFile(cfg.Pipeline.CitiesFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadCitiesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read cities file: %w", apperrors.ErrConfiguration, err)
	}

	var file citiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: failed to parse cities file %s: %w", apperrors.ErrConfiguration, path, err)
	}

	if len(file.Cities) > 0 {
		c.Pipeline.Cities = file.Cities
	}
	if file.Country != "" {
		c.Pipeline.Country = file.Country
	}
	if file.Weights != nil {
		c.Pipeline.Weights = *file.Weights
	}
	return nil
}

// Validate reports missing credentials and unknown backends before any
// network call is made.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Pipeline.Cities) == 0 {
		problems = append(problems, "no cities configured")
	}

	switch c.Weather.Provider {
	case "openweather":
		if c.Weather.OpenWeatherAPIKey == "" {
			problems = append(problems, "OPENWEATHERMAP_API is required for the openweather provider")
		}
	case "openmeteo":
	default:
		problems = append(problems, fmt.Sprintf("unknown weather provider %q", c.Weather.Provider))
	}

	switch c.Warehouse.Driver {
	case "postgres":
		if c.Warehouse.DSN == "" && (c.Warehouse.Username == "" || c.Warehouse.Hostname == "" || c.Warehouse.Name == "") {
			problems = append(problems, "WAREHOUSE_DSN or DB_USERNAME, DB_HOSTNAME and DB_NAME are required for postgres")
		}
	case "sqlite":
		if c.Warehouse.DSN == "" {
			problems = append(problems, "WAREHOUSE_DSN is required for sqlite")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown warehouse driver %q", c.Warehouse.Driver))
	}

	switch c.Storage.Backend {
	case "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			problems = append(problems, "GCS_BUCKET is required for the gcs backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// WarehouseDSN returns WAREHOUSE_DSN when set, otherwise a postgres URL built
// from the DB_* settings.
func (c *Config) WarehouseDSN() string {
	if c.Warehouse.DSN != "" || c.Warehouse.Driver != "postgres" {
		return c.Warehouse.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Warehouse.Username, c.Warehouse.Password),
		Host:     net.JoinHostPort(c.Warehouse.Hostname, c.Warehouse.Port),
		Path:     "/" + c.Warehouse.Name,
		RawQuery: "sslmode=require",
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		zap.L().Warn("Failed to parse duration", zap.String("value", value), zap.Error(err))
		return 0
	}
	return duration
}

func parseInt(value string) int {
	intValue, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Failed to parse int", zap.String("value", value), zap.Error(err))
		return 0
	}
	return intValue
}

func parseFloat(value string) float64 {
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		zap.L().Warn("Failed to parse float", zap.String("value", value), zap.Error(err))
		return 0
	}
	return floatValue
}

func parseBool(value string) bool {
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		zap.L().Warn("Failed to parse bool", zap.String("value", value), zap.Error(err))
		return false
	}
	return boolValue
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
