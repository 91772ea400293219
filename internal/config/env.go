package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// MinYear is the first year with ZIP-level business patterns
const MinYear = 2012

var (
	// ErrInvalidYear is returned for a target year outside the supported range
	ErrInvalidYear = errors.New("invalid year")

	// ErrMissingAPIKey is returned when a Census API command has no key
	ErrMissingAPIKey = errors.New("CENSUS_API_KEY is required")
)

// DefaultEnvFiles are the dotenv files Load tries by default
var DefaultEnvFiles = []string{".env", ".env.local"}

var validate = validator.New()

// Config holds the pipeline configuration
type Config struct {
	StorePath        string `env:"NAICS_STORE_PATH" envDefault:"./database" validate:"required"`
	ExportDir        string `env:"NAICS_EXPORT_DIR" envDefault:"./community-zipcodes" validate:"required"`
	APIBaseURL       string `env:"CENSUS_API_URL" envDefault:"https://api.census.gov/data" validate:"required,url"`
	APIKey           string `env:"CENSUS_API_KEY"`
	// empty uses the bundled list of sectors and common five and six digit industries
	IndustryListPath string `env:"NAICS_INDUSTRY_LIST"`

	IndustryLevels []int `env:"NAICS_INDUSTRY_LEVELS" envDefault:"2,5,6" envSeparator:"," validate:"min=1,dive,min=2,max=6"`
	Workers        int   `env:"NAICS_EXPORT_WORKERS" envDefault:"4" validate:"min=1,max=64"`
	BatchSize      int   `env:"NAICS_BATCH_SIZE" envDefault:"1000" validate:"min=1"`

	MaxRetries        int           `env:"CENSUS_MAX_RETRIES" envDefault:"5" validate:"min=0,max=10"`
	RequestsPerSecond float64       `env:"CENSUS_RPS" envDefault:"5" validate:"min=0"`
	HTTPTimeout       time.Duration `env:"CENSUS_HTTP_TIMEOUT" envDefault:"60s"`

	StartYear          int `env:"NAICS_START_YEAR" envDefault:"2012"`
	EndYear            int `env:"NAICS_END_YEAR"`
	GeographyStartYear int `env:"NAICS_GEO_START_YEAR" envDefault:"2012"`
	GeographyEndYear   int `env:"NAICS_GEO_END_YEAR"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	MetricsFile string `env:"NAICS_METRICS_FILE"`
	PublishDSN  string `env:"NAICS_PUBLISH_DSN"`
}

// LoadEnv loads the dotenv files that exist and returns how many were read
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads dotenv files and the environment into a Config
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults(time.Now())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(now time.Time) {
	if c.EndYear == 0 {
		c.EndYear = now.Year() - 1
	}
	if c.GeographyEndYear == 0 {
		c.GeographyEndYear = now.Year() - 2
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
}

// Validate checks struct constraints and year ranges
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StartYear > c.EndYear {
		return fmt.Errorf("invalid configuration: start year %d after end year %d", c.StartYear, c.EndYear)
	}
	if c.GeographyStartYear > c.GeographyEndYear {
		return fmt.Errorf("invalid configuration: geography start year %d after end year %d",
			c.GeographyStartYear, c.GeographyEndYear)
	}
	return nil
}

// RequireAPIKey fails when no Census API key is set
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// ValidateYear rejects unsupported target years
func ValidateYear(year int) error {
	if year < MinYear {
		return fmt.Errorf("%w: %d (must be >= %d)", ErrInvalidYear, year, MinYear)
	}
	return nil
}

// ParseYear parses and validates a CLI year argument
func ParseYear(arg string) (int, error) {
	year, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a year", ErrInvalidYear, arg)
	}
	if err := ValidateYear(year); err != nil {
		return 0, err
	}
	return year, nil
}
