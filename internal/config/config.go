// Package config loads service configuration from environment variables and
// the table mapping file that declares which BigQuery tables feed which
// Supabase tables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// SyncConfig holds tunables for the per-table sync engine.
type SyncConfig struct {
	// BatchSize is the number of rows fetched and upserted per batch.
	BatchSize int
	// BackfillDays is the cursor horizon when a target table is empty.
	BackfillDays int
	// SoftDeadline is the wall-clock budget before a sync checkpoints and
	// hands off to a continuation.
	SoftDeadline time.Duration
}

// OrchestratorConfig holds tunables for the orchestration layer.
type OrchestratorConfig struct {
	// GroupSize is how many tables sync concurrently.
	GroupSize int
	// GroupDelay is the pause between concurrent groups.
	GroupDelay time.Duration
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// Supabase configuration
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseSchema     string

	// BigQuery configuration
	BigQueryProjectID       string
	BigQueryDataset         string
	BigQueryCredentialsJSON string

	// Table mapping file (hot-reloaded)
	TableMappingPath string

	// Scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	// Logging
	LogLevel string

	// Feature flags
	EnableMetrics bool
	EnableCORS    bool

	Sync         SyncConfig
	Orchestrator OrchestratorConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseSchema:     getEnv("SUPABASE_SCHEMA", "sqp"),

		BigQueryProjectID:       getEnv("BIGQUERY_PROJECT_ID", ""),
		BigQueryDataset:         getEnv("BIGQUERY_DATASET", "sqp_data"),
		BigQueryCredentialsJSON: getEnv("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""),

		TableMappingPath: getEnv("TABLE_MAPPING_PATH", "configs/tables.yaml"),

		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Minute),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),

		Sync: SyncConfig{
			BatchSize:    getEnvInt("SYNC_BATCH_SIZE", 5000),
			BackfillDays: getEnvInt("SYNC_BACKFILL_DAYS", 90),
			SoftDeadline: getEnvDuration("SYNC_SOFT_DEADLINE", 55*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			GroupSize:  getEnvInt("ORCHESTRATOR_GROUP_SIZE", 3),
			GroupDelay: getEnvDuration("ORCHESTRATOR_GROUP_DELAY", 2*time.Second),
		},
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if c.Environment == "production" {
		if c.BigQueryProjectID == "" {
			return fmt.Errorf("BIGQUERY_PROJECT_ID is required in production")
		}
		if c.BigQueryCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_APPLICATION_CREDENTIALS_JSON is required in production")
		}
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}
	if c.Orchestrator.GroupSize < 1 {
		return fmt.Errorf("ORCHESTRATOR_GROUP_SIZE must be positive")
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
