package shared

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"taxsale/internal/geo"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration

	Workers         int
	ParallelSources int

	FetchTimeout time.Duration
	FetchRPS     float64
	UserAgent    string

	EnrichBase    string
	BoundaryBase  string
	GeocodeBase   string
	GeocodeRPS    float64
	GeocodeRegion string

	Region geo.BBox
}

// Load reads the environment, after merging an optional .env file from the working
// directory. Variables already set in the environment win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg(".env present but unreadable")
	}

	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/taxsale?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		CacheTTL:    time.Duration(atoi("CACHE_TTL_SECONDS", 600)) * time.Second,

		Workers:         atoi("INGEST_WORKERS", 4),
		ParallelSources: atoi("PARALLEL_SOURCES", 1),

		FetchTimeout: time.Duration(atoi("FETCH_TIMEOUT_SECONDS", 20)) * time.Second,
		FetchRPS:     atof("FETCH_RPS", 2),
		UserAgent:    env("USER_AGENT", "taxsale-ingestor/1.0"),

		EnrichBase:    strings.TrimRight(env("ENRICH_BASE_URL", ""), "/"),
		BoundaryBase:  strings.TrimRight(env("BOUNDARY_BASE_URL", ""), "/"),
		GeocodeBase:   strings.TrimRight(env("GEOCODE_BASE_URL", "https://nominatim.openstreetmap.org"), "/"),
		GeocodeRPS:    atof("GEOCODE_RPS", 1),
		GeocodeRegion: env("GEOCODE_REGION", "Nova Scotia, Canada"),

		Region: geo.BBox{
			MinLat: atof("GEO_MIN_LAT", geo.NovaScotia.MinLat),
			MaxLat: atof("GEO_MAX_LAT", geo.NovaScotia.MaxLat),
			MinLon: atof("GEO_MIN_LON", geo.NovaScotia.MinLon),
			MaxLon: atof("GEO_MAX_LON", geo.NovaScotia.MaxLon),
		},
	}

	if !c.Region.Valid() {
		log.Warn().Interface("region", c.Region).Msg("GEO_* bounds are inverted; using Nova Scotia")
		c.Region = geo.NovaScotia
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.ParallelSources <= 0 {
		c.ParallelSources = 1
	}
	if !strings.Contains(c.MySQLDSN, "parseTime=true") {
		log.Warn().Msg("MYSQL_DSN lacks parseTime=true; timestamps will not scan")
	}
	if c.EnrichBase == "" {
		log.Warn().Msg("ENRICH_BASE_URL is empty; enrichment disabled")
	}
	if c.BoundaryBase == "" {
		log.Warn().Msg("BOUNDARY_BASE_URL is empty; geolocation uses addresses only")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoi(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not an integer; using default")
	}
	return def
}

func atof(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not a number; using default")
	}
	return def
}
