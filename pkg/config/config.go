package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultClientID is the tenant selected when CLIENT_ID is not set.
const DefaultClientID = "arizona_beverages"

// Config holds all configuration for ekaya-finsight.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Tenant    TenantConfig    `yaml:"tenant"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	LLM       LLMConfig       `yaml:"llm"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	PreCalc   PreCalcConfig   `yaml:"precalc"`
	Warming   WarmingConfig   `yaml:"warming"`
	Patterns  PatternsConfig  `yaml:"patterns"`
	Research  ResearchConfig  `yaml:"research"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TenantConfig selects the active tenant and where its tabular sources live.
type TenantConfig struct {
	ClientID               string `yaml:"client_id" env:"CLIENT_ID" env-default:"arizona_beverages"`
	DatasetID              string `yaml:"dataset_id" env:"DATASET" env-default:"finance"`
	ConfigDir              string `yaml:"config_dir" env:"CONFIG_DIR" env-default:"configs"`
	GLMappingPath          string `yaml:"gl_mapping_path" env:"GL_MAPPING_PATH" env-default:"data/gl_mapping.xlsx"`
	MaterialHierarchyPath  string `yaml:"material_hierarchy_path" env:"MATERIAL_HIERARCHY_PATH" env-default:"data/material_hierarchy.xlsx"`
	HierarchyOverridesPath string `yaml:"hierarchy_overrides_path" env:"HIERARCHY_OVERRIDES_PATH" env-default:""`
	// TimeColumn is the date column period filters are templated on when the
	// tenant configuration does not name one.
	TimeColumn    string `yaml:"time_column" env:"TIME_COLUMN" env-default:"Posting_Date"`
	RevenueColumn string `yaml:"revenue_column" env:"REVENUE_COLUMN" env-default:"Gross_Revenue"`
	AmountColumn  string `yaml:"amount_column" env:"AMOUNT_COLUMN" env-default:"GL_Amount_in_CC"`
	// PersistToDatabase stores configurations in Postgres instead of JSON files.
	PersistToDatabase bool `yaml:"persist_to_database" env:"CONFIG_PERSIST_DB" env-default:"false"`
}

// DatabaseConfig holds PostgreSQL configuration for the operational store and query log.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"finsight"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"finsight"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds the shared KV cache configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// WarehouseConfig describes the SQL warehouse queried by generated SQL.
type WarehouseConfig struct {
	ProjectID           string `yaml:"project_id" env:"WAREHOUSE_PROJECT_ID" env-default:"finsight"`
	DatasetID           string `yaml:"dataset_id" env:"WAREHOUSE_DATASET_ID" env-default:"finance"`
	Table               string `yaml:"table" env:"WAREHOUSE_TABLE" env-default:"gl_transactions"`
	Dialect             string `yaml:"dialect" env:"WAREHOUSE_DIALECT" env-default:"bigquery"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds" env:"WAREHOUSE_QUERY_TIMEOUT_SECONDS" env-default:"120"`
	// URL is a Postgres connection URL when the warehouse is served by the operational store.
	URL string `yaml:"-" env:"WAREHOUSE_URL"`
}

// QueryTimeout returns the per-query timeout.
func (w *WarehouseConfig) QueryTimeout() time.Duration {
	if w.QueryTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(w.QueryTimeoutSeconds) * time.Second
}

// LLMConfig configures the model used for SQL generation and embeddings.
type LLMConfig struct {
	Provider       string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL        string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model          string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey         string  `yaml:"-" env:"LLM_API_KEY"`
	EmbeddingModel string  `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Temperature    float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
}

// KnowledgeConfig configures the semantic index.
type KnowledgeConfig struct {
	Dimensions int  `yaml:"dimensions" env:"KNOWLEDGE_DIMENSIONS" env-default:"1536"`
	SeedOnBoot bool `yaml:"seed_on_boot" env:"KNOWLEDGE_SEED" env-default:"true"`
}

// PreCalcConfig configures the pre-calculation job.
type PreCalcConfig struct {
	LookbackDays         int `yaml:"lookback_days" env:"PRECALC_LOOKBACK_DAYS" env-default:"365"`
	RefreshIntervalHours int `yaml:"refresh_interval_hours" env:"PRECALC_REFRESH_HOURS" env-default:"6"`
	BatchSize            int `yaml:"batch_size" env:"PRECALC_BATCH_SIZE" env-default:"10"`
}

// WarmingConfig configures the cache warmer.
type WarmingConfig struct {
	IntervalHours int    `yaml:"interval_hours" env:"WARMING_INTERVAL_HOURS" env-default:"6"`
	RecencyDays   int    `yaml:"recency_days" env:"WARMING_RECENCY_DAYS" env-default:"7"`
	SchedulesPath string `yaml:"schedules_path" env:"WARMING_SCHEDULES_PATH" env-default:""`
}

// PatternsConfig configures the query pattern analyzer.
type PatternsConfig struct {
	LookbackDays int `yaml:"lookback_days" env:"PATTERNS_LOOKBACK_DAYS" env-default:"30"`
	MinFrequency int `yaml:"min_frequency" env:"PATTERNS_MIN_FREQUENCY" env-default:"5"`
	HistoryLimit int `yaml:"history_limit" env:"PATTERNS_HISTORY_LIMIT" env-default:"10000"`
}

// ResearchConfig configures the research executor.
type ResearchConfig struct {
	Parallel bool   `yaml:"parallel" env:"RESEARCH_PARALLEL" env-default:"true"`
	Depth    string `yaml:"depth" env:"RESEARCH_DEPTH" env-default:"standard"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":9090"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	c.Tenant.ClientID = strings.TrimSpace(c.Tenant.ClientID)
	if c.Tenant.ClientID == "" {
		c.Tenant.ClientID = DefaultClientID
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	switch strings.ToLower(c.Warehouse.Dialect) {
	case "bigquery", "postgresql":
	default:
		return fmt.Errorf("unsupported warehouse dialect %q", c.Warehouse.Dialect)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection as a postgres:// URL (used by migrations).
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, ResolveHostForDocker(c.Host), c.Port, c.Database, c.SSLMode)
}

// Addr returns host:port for the Redis client.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(r.Host), r.Port)
}
