package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/forecastlab/pm-warehouse/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds warehouse database configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"` // full DSN; overrides the discrete fields when set
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// SourceConfig holds source API configuration
type SourceConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
	RetryElapsed time.Duration `mapstructure:"retry_elapsed"`
	PauseBetween time.Duration `mapstructure:"pause_between"` // pause between page waves to avoid hammering the API
}

// KindConfig holds per-entity-kind extraction tuning
type KindConfig struct {
	Workers  int `mapstructure:"workers"`
	PageSize int `mapstructure:"page_size"`
}

// ExtractorConfig holds extraction configuration keyed by entity kind
type ExtractorConfig struct {
	Events  KindConfig `mapstructure:"events"`
	Markets KindConfig `mapstructure:"markets"`
	Series  KindConfig `mapstructure:"series"`
	Tags    KindConfig `mapstructure:"tags"`
}

// ForKind returns the tuning for one entity kind.
func (c *ExtractorConfig) ForKind(kind domain.EntityKind) KindConfig {
	switch kind {
	case domain.KindEvents:
		return c.Events
	case domain.KindMarkets:
		return c.Markets
	case domain.KindSeries:
		return c.Series
	case domain.KindTags:
		return c.Tags
	}
	return KindConfig{}
}

// StagingConfig holds staging store configuration
type StagingConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoaderConfig holds warehouse load configuration
type LoaderConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	RetryElapsed time.Duration `mapstructure:"retry_elapsed"`
}

// ValidationConfig holds validation gate configuration
type ValidationConfig struct {
	// FailFast halts the whole load when any relation-scoped fatal finding
	// exists; when false, only the affected relations are skipped.
	FailFast bool `mapstructure:"fail_fast"`
}

// ReportConfig holds run report configuration
type ReportConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig holds configuration for the pipeline binary
type PipelineConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Source     SourceConfig     `mapstructure:"source"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Staging    StagingConfig    `mapstructure:"staging"`
	Loader     LoaderConfig     `mapstructure:"loader"`
	Validation ValidationConfig `mapstructure:"validation"`
	Report     ReportConfig     `mapstructure:"report"`
}

// LoadPipelineConfig loads configuration for the pipeline binary
func LoadPipelineConfig(configFile string, envPath string) (*PipelineConfig, error) {
	v := configureViper("pipeline", configFile, envPath)

	// Set defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("source.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.retry_initial", "2s")
	v.SetDefault("source.retry_max", "30s")
	v.SetDefault("source.retry_elapsed", "1m")
	v.SetDefault("source.pause_between", "500ms")
	v.SetDefault("extractor.events.workers", 10)
	v.SetDefault("extractor.events.page_size", 500)
	v.SetDefault("extractor.markets.workers", 10)
	v.SetDefault("extractor.markets.page_size", 500)
	v.SetDefault("extractor.series.workers", 10)
	v.SetDefault("extractor.series.page_size", 300)
	v.SetDefault("extractor.tags.workers", 10)
	v.SetDefault("extractor.tags.page_size", 300)
	v.SetDefault("staging.dir", "datalake/raw")
	v.SetDefault("loader.batch_size", 1000)
	v.SetDefault("loader.retry_initial", "1s")
	v.SetDefault("loader.retry_elapsed", "2m")
	v.SetDefault("validation.fail_fast", false)
	v.SetDefault("report.path", "datalake/run_report.json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found, use environment variables
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg PipelineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields. A fully-specified URL stands in for the
	// discrete connection fields.
	if cfg.Database.URL == "" {
		if cfg.Database.Host == "" {
			return nil, fmt.Errorf("%w: database.host", domain.ErrMissingConfig)
		}
		if cfg.Database.DBName == "" {
			return nil, fmt.Errorf("%w: database.dbname", domain.ErrMissingConfig)
		}
	}

	return &cfg, nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("PM_WAREHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// This is required for viper to map env vars to config struct fields when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.url",
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Source API
		"source.base_url",
		"source.timeout",
		"source.retry_initial",
		"source.retry_max",
		"source.retry_elapsed",
		"source.pause_between",
		// Extractor
		"extractor.events.workers",
		"extractor.events.page_size",
		"extractor.markets.workers",
		"extractor.markets.page_size",
		"extractor.series.workers",
		"extractor.series.page_size",
		"extractor.tags.workers",
		"extractor.tags.page_size",
		// Staging
		"staging.dir",
		// Loader
		"loader.batch_size",
		"loader.retry_initial",
		"loader.retry_elapsed",
		// Validation
		"validation.fail_fast",
		// Report
		"report.path",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
