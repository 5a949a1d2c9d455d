// Package config loads importer settings from .env, an optional YAML file
// and the process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ryabkov82/listing-ingest/internal/job"
)

// Configuration validation errors.
var (
	ErrMissingURL        = errors.New("SUPABASE_URL is required")
	ErrMissingKey        = errors.New("SUPABASE_KEY or SUPABASE_SERVICE_ROLE_KEY is required")
	ErrMissingSource     = errors.New("source.path is required")
	ErrMissingTable      = errors.New("delivery.table is required")
	ErrInvalidBatchSize  = errors.New("delivery.batch_size must be between 1 and 1000")
	ErrInvalidMaxRetries = errors.New("delivery.max_retries must be non-negative")
	ErrInvalidBackoff    = errors.New("delivery.backoff_ms must be non-negative and not exceed delivery.backoff_max_ms")
	ErrInvalidPacing     = errors.New("delivery pacing values must be non-negative")
	ErrInvalidTimeout    = errors.New("delivery.timeout_seconds must be at least 1")
	ErrInvalidLimit      = errors.New("run.limit must be non-negative")
	ErrInvalidEncoding   = errors.New("source.encoding must be one of: utf-8, utf-8-bom, windows-1251, windows-1252, iso-8859-1")
)

// MaxBatchSize is the largest batch the sink accepts in one request
const MaxBatchSize = 1000

// Config is built once at startup and read-only afterwards
type Config struct {
	SupabaseURL string `yaml:"-"`
	SupabaseKey string `yaml:"-"`

	AllowedBaseDir string             `yaml:"allowed_base_dir"`
	Source         job.SourceConfig   `yaml:"source"`
	Delivery       job.DeliveryConfig `yaml:"delivery"`
	Run            job.RunConfig      `yaml:"run"`
}

// Default returns the settings used when nothing overrides them
func Default() *Config {
	return &Config{
		Delivery: job.DeliveryConfig{
			Table:          "nawy_properties",
			BatchSize:      500,
			MaxRetries:     3,
			BackoffMs:      1000,
			BackoffMaxMs:   30000,
			PaceMs:         500,
			LongPauseEvery: 10,
			LongPauseMs:    2000,
			TimeoutSeconds: 60,
			OnConflict:     "nawy_id",
			DeleteColumn:   "id",
		},
		Run: job.RunConfig{
			ProgressEvery: 1000,
		},
	}
}

// Load reads .env (a missing file is fine), then the YAML file at path when
// path is not empty, then environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment variables from .env file")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.SupabaseURL = getEnv("SUPABASE_URL", c.SupabaseURL)
	c.SupabaseKey = getEnv("SUPABASE_KEY", c.SupabaseKey)
	// The service-role key bypasses row level security and wins when both are set
	c.SupabaseKey = getEnv("SUPABASE_SERVICE_ROLE_KEY", c.SupabaseKey)

	c.Source.Path = getEnv("IMPORT_SOURCE", c.Source.Path)
	c.Source.Encoding = getEnv("IMPORT_ENCODING", c.Source.Encoding)
	c.Delivery.Table = getEnv("IMPORT_TABLE", c.Delivery.Table)
	c.Run.CheckpointPath = getEnv("IMPORT_CHECKPOINT", c.Run.CheckpointPath)
	c.Run.ErrorsJsonl = getEnv("IMPORT_ERRORS_JSONL", c.Run.ErrorsJsonl)
	c.Run.ReportJSON = getEnv("IMPORT_REPORT_JSON", c.Run.ReportJSON)
	c.AllowedBaseDir = getEnv("IMPORT_ALLOWED_BASE_DIR", c.AllowedBaseDir)

	ints := []struct {
		key string
		dst *int
	}{
		{"IMPORT_BATCH_SIZE", &c.Delivery.BatchSize},
		{"IMPORT_MAX_RETRIES", &c.Delivery.MaxRetries},
		{"IMPORT_BACKOFF_MS", &c.Delivery.BackoffMs},
		{"IMPORT_PACE_MS", &c.Delivery.PaceMs},
		{"IMPORT_TIMEOUT_SECONDS", &c.Delivery.TimeoutSeconds},
		{"IMPORT_LIMIT", &c.Run.Limit},
	}
	for _, e := range ints {
		value := os.Getenv(e.key)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", e.key, value)
		}
		*e.dst = n
	}

	if v := os.Getenv("IMPORT_UPSERT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("IMPORT_UPSERT: invalid boolean %q", v)
		}
		c.Delivery.Upsert = b
	}
	return nil
}

// Validate checks the settings. Credentials are only required when the run
// talks to the sink.
func (c *Config) Validate(requireSink bool) error {
	if requireSink {
		if c.SupabaseURL == "" {
			return ErrMissingURL
		}
		if c.SupabaseKey == "" {
			return ErrMissingKey
		}
	}

	if c.Source.Path == "" {
		return ErrMissingSource
	}
	switch strings.ToLower(c.Source.Encoding) {
	case "", "utf-8", "utf8", "utf-8-bom", "windows-1251", "cp1251", "windows-1252", "cp1252", "iso-8859-1", "latin1":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidEncoding, c.Source.Encoding)
	}

	d := c.Delivery
	if d.Table == "" {
		return ErrMissingTable
	}
	if d.BatchSize < 1 || d.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, d.BatchSize)
	}
	if d.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	if d.BackoffMs < 0 || (d.BackoffMaxMs > 0 && d.BackoffMs > d.BackoffMaxMs) {
		return ErrInvalidBackoff
	}
	if d.PaceMs < 0 || d.LongPauseMs < 0 || d.LongPauseEvery < 0 {
		return ErrInvalidPacing
	}
	if d.TimeoutSeconds < 1 {
		return ErrInvalidTimeout
	}

	if c.Run.Limit < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// NewJob describes one run of this configuration under a fresh run id
func (c *Config) NewJob() *job.Job {
	return &job.Job{
		ID:        uuid.NewString(),
		InputPath: c.Source.Path,
		Source:    c.Source,
		Delivery:  c.Delivery,
		Run:       c.Run,
		Status:    job.StatusPending,
	}
}

// String describes the config without credentials
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Source: %s, Table: %s, BatchSize: %d, MaxRetries: %d, Upsert: %t}",
		c.Source.Path,
		c.Delivery.Table,
		c.Delivery.BatchSize,
		c.Delivery.MaxRetries,
		c.Delivery.Upsert,
	)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
