package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSnowflake = "snowflake"
	DriverPostgres  = "postgres"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

type Config struct {
	Warehouse  WarehouseConfig
	Model      ModelConfig
	Redis      RedisConfig
	Export     ExportConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Log        LogConfig
	SampleSize int
}

type WarehouseConfig struct {
	Driver      string
	Account     string
	User        string
	Password    string
	Warehouse   string
	Database    string
	Schema      string
	Role        string
	DSN         string
	SourceTable string
	DestTable   string
}

type ModelConfig struct {
	Trees int
	Seed  uint64
}

type RedisConfig struct {
	URL             string
	TTL             time.Duration
	ConnectAttempts int
}

func (r RedisConfig) Enabled() bool { return r.URL != "" }

type ExportConfig struct {
	ParquetPath string
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

type TracingConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadDotEnv loads variables from path into the environment without
// overriding values that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadConfig() (*Config, error) {
	trees, err := getIntEnv("MODEL_TREES", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid MODEL_TREES: %w", err)
	}
	seed, err := getIntEnv("MODEL_SEED", 42)
	if err != nil {
		return nil, fmt.Errorf("invalid MODEL_SEED: %w", err)
	}
	ttlSec, err := getIntEnv("PREDICTION_CACHE_TTL_SEC", 600)
	if err != nil {
		return nil, fmt.Errorf("invalid PREDICTION_CACHE_TTL_SEC: %w", err)
	}
	attempts, err := getIntEnv("REDIS_CONNECT_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_CONNECT_ATTEMPTS: %w", err)
	}
	sampleSize, err := getIntEnv("SAMPLE_SIZE", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid SAMPLE_SIZE: %w", err)
	}

	cfg := &Config{
		Warehouse: WarehouseConfig{
			Driver:      strings.ToLower(getEnv("WAREHOUSE_DRIVER", DriverSnowflake)),
			Account:     os.Getenv("SNOWFLAKE_ACCOUNT"),
			User:        os.Getenv("SNOWFLAKE_USER"),
			Password:    os.Getenv("SNOWFLAKE_PASSWORD"),
			Warehouse:   os.Getenv("SNOWFLAKE_WAREHOUSE"),
			Database:    os.Getenv("SNOWFLAKE_DATABASE"),
			Schema:      os.Getenv("SNOWFLAKE_SCHEMA"),
			Role:        os.Getenv("SNOWFLAKE_ROLE"),
			DSN:         os.Getenv("WAREHOUSE_DSN"),
			SourceTable: getEnv("SOURCE_TABLE", "REQUESTS"),
			DestTable:   getEnv("DEST_TABLE", "PREDICTIONS"),
		},
		Model: ModelConfig{
			Trees: trees,
			Seed:  uint64(seed),
		},
		Redis: RedisConfig{
			URL:             os.Getenv("REDIS_URL"),
			TTL:             time.Duration(ttlSec) * time.Second,
			ConnectAttempts: attempts,
		},
		Export: ExportConfig{
			ParquetPath: os.Getenv("EXPORT_PARQUET_PATH"),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
			Job:            getEnv("METRICS_JOB", "request_allow_trainer"),
		},
		Tracing: TracingConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "request-allow-trainer"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		SampleSize: sampleSize,
	}

	if seed < 0 {
		return nil, fmt.Errorf("invalid MODEL_SEED: must not be negative")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Model.Trees <= 0 {
		return fmt.Errorf("invalid MODEL_TREES: must be positive, got %d", c.Model.Trees)
	}
	if c.SampleSize <= 0 {
		return fmt.Errorf("invalid SAMPLE_SIZE: must be positive, got %d", c.SampleSize)
	}
	if c.Redis.ConnectAttempts <= 0 {
		return fmt.Errorf("invalid REDIS_CONNECT_ATTEMPTS: must be positive, got %d", c.Redis.ConnectAttempts)
	}
	for key, table := range map[string]string{"SOURCE_TABLE": c.Warehouse.SourceTable, "DEST_TABLE": c.Warehouse.DestTable} {
		if !identifierPattern.MatchString(table) {
			return fmt.Errorf("invalid %s: %q is not a plain identifier", key, table)
		}
	}

	switch c.Warehouse.Driver {
	case DriverSnowflake:
		var missing []string
		for key, value := range map[string]string{
			"SNOWFLAKE_ACCOUNT":   c.Warehouse.Account,
			"SNOWFLAKE_USER":      c.Warehouse.User,
			"SNOWFLAKE_PASSWORD":  c.Warehouse.Password,
			"SNOWFLAKE_WAREHOUSE": c.Warehouse.Warehouse,
			"SNOWFLAKE_DATABASE":  c.Warehouse.Database,
			"SNOWFLAKE_SCHEMA":    c.Warehouse.Schema,
		} {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
		}
	case DriverPostgres:
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("missing required environment variable: WAREHOUSE_DSN")
		}
	default:
		return fmt.Errorf("unsupported WAREHOUSE_DRIVER %q", c.Warehouse.Driver)
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}
