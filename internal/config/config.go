package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default feed locations per format.
const (
	DefaultCAPFeedURL     = "https://alerts.weather.gov/cap/oh.php?x=0"
	DefaultGeoJSONFeedURL = "https://api.weather.gov/alerts/active?area=OH"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	TargetCode       string
	FeedFormat       string
	FeedURL          string
	FeedUserAgent    string
	FeedTimeout      time.Duration
	FeedCacheTTL     time.Duration
	FeedConcurrency  int
	FeedRequestDelay time.Duration
	RunBudget        time.Duration
	RetentionDays    int

	StoreDriver       string
	DatabaseURL       string
	SQLitePath        string
	SpatialPredicates bool

	LockFile       string
	LockStaleAfter time.Duration

	BoundaryCategories []domain.BoundaryCategory
	// CountyWideExpansion lists every district for county-wide alerts
	// instead of the category's "all districts" label.
	CountyWideExpansion bool

	// Change events are published only when brokers are set.
	KafkaBrokers     []string
	KafkaAlertsTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// KafkaEnabled reports whether a change-event publisher should be created.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is read first if present;
// variables already in the environment win. Every validation failure wraps
// domain.ErrConfig.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing file is fine

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	cfg := &Config{
		TargetCode:       strings.TrimSpace(sharedcfg.EnvOrDefault("TARGET_CODE", "039137")),
		FeedFormat:       strings.ToLower(sharedcfg.EnvOrDefault("FEED_FORMAT", "cap")),
		FeedUserAgent:    sharedcfg.EnvOrDefault("FEED_USER_AGENT", "storm-data-alerts/1.0"),
		StoreDriver:      strings.ToLower(sharedcfg.EnvOrDefault("STORE_DRIVER", DriverSQLite)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       sharedcfg.EnvOrDefault("SQLITE_PATH", "alerts.db"),
		LockFile:         sharedcfg.EnvOrDefault("LOCK_FILE", "alerts.lock"),
		KafkaAlertsTopic: sharedcfg.EnvOrDefault("KAFKA_ALERTS_TOPIC", "weather-alerts"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	durations := []struct {
		key, def  string
		dst       *time.Duration
		allowZero bool
	}{
		{"FEED_TIMEOUT", "30s", &cfg.FeedTimeout, false},
		{"FEED_CACHE_TTL", "300s", &cfg.FeedCacheTTL, true},
		{"FEED_REQUEST_DELAY", "100ms", &cfg.FeedRequestDelay, true},
		{"RUN_BUDGET", "5m", &cfg.RunBudget, false},
		{"LOCK_STALE_AFTER", "5m", &cfg.LockStaleAfter, false},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def, d.allowZero)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if cfg.FeedConcurrency, err = parsePositiveInt("FEED_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = parsePositiveInt("RETENTION_DAYS", 7); err != nil {
		return nil, err
	}

	spatial := sharedcfg.EnvOrDefault("SPATIAL_PREDICATES", "true")
	if cfg.SpatialPredicates, err = strconv.ParseBool(spatial); err != nil {
		return nil, fmt.Errorf("%w: invalid SPATIAL_PREDICATES %q", domain.ErrConfig, spatial)
	}

	expand := sharedcfg.EnvOrDefault("COUNTY_WIDE_EXPANSION", "false")
	if cfg.CountyWideExpansion, err = strconv.ParseBool(expand); err != nil {
		return nil, fmt.Errorf("%w: invalid COUNTY_WIDE_EXPANSION %q", domain.ErrConfig, expand)
	}

	cfg.BoundaryCategories = domain.DefaultBoundaryCategories()
	if path := os.Getenv("BOUNDARY_CATEGORIES_FILE"); path != "" {
		if cfg.BoundaryCategories, err = LoadCategories(path); err != nil {
			return nil, err
		}
	}

	switch cfg.FeedFormat {
	case "cap":
		cfg.FeedURL = sharedcfg.EnvOrDefault("FEED_URL", DefaultCAPFeedURL)
	case "geojson":
		cfg.FeedURL = sharedcfg.EnvOrDefault("FEED_URL", DefaultGeoJSONFeedURL)
	default:
		return nil, fmt.Errorf("%w: FEED_FORMAT must be cap or geojson, got %q", domain.ErrConfig, cfg.FeedFormat)
	}

	if cfg.TargetCode == "" {
		return nil, fmt.Errorf("%w: TARGET_CODE is required", domain.ErrConfig)
	}
	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres driver", domain.ErrConfig)
		}
	case DriverSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("%w: SQLITE_PATH is required for the sqlite driver", domain.ErrConfig)
		}
	default:
		return nil, fmt.Errorf("%w: STORE_DRIVER must be postgres or sqlite, got %q", domain.ErrConfig, cfg.StoreDriver)
	}
	if cfg.KafkaEnabled() && cfg.KafkaAlertsTopic == "" {
		return nil, fmt.Errorf("%w: KAFKA_ALERTS_TOPIC is required when KAFKA_BROKERS is set", domain.ErrConfig)
	}

	return cfg, nil
}

type categoriesFile struct {
	Categories []domain.BoundaryCategory `yaml:"categories"`
}

// LoadCategories reads boundary categories from a YAML file of the form
//
//	categories:
//	  - name: fire
//	    all_label: All Fire Districts
func LoadCategories(path string) ([]domain.BoundaryCategory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading categories file: %w", domain.ErrConfig, err)
	}

	var f categoriesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing categories YAML: %w", domain.ErrConfig, err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("%w: %s defines no categories", domain.ErrConfig, path)
	}

	seen := make(map[string]bool, len(f.Categories))
	for i, c := range f.Categories {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("%w: category %d in %s has no name", domain.ErrConfig, i, path)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: duplicate category %q in %s", domain.ErrConfig, c.Name, path)
		}
		seen[c.Name] = true
		if c.AllLabel == "" {
			c.AllLabel = "All " + c.Name
		}
		f.Categories[i] = c
	}
	return f.Categories, nil
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrConfig, key, s)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := sharedcfg.EnvOrDefault(key, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", domain.ErrConfig, key, s)
	}
	return n, nil
}
