package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Apify   ApifyConfig   `yaml:"apify" mapstructure:"apify"`
	Run     RunConfig     `yaml:"run" mapstructure:"run"`
	Mapping MappingConfig `yaml:"mapping" mapstructure:"mapping"`
	Usage   UsageConfig   `yaml:"usage" mapstructure:"usage"`
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Pricing PricingConfig `yaml:"pricing" mapstructure:"pricing"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ApifyConfig holds Apify API settings.
type ApifyConfig struct {
	Token        string  `yaml:"token" mapstructure:"token"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RunConfig configures the run lifecycle poll loop.
type RunConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Ceiling          time.Duration `yaml:"ceiling" mapstructure:"ceiling"`
	RetryRateLimited bool          `yaml:"retry_rate_limited" mapstructure:"retry_rate_limited"`
	RetryAttempts    int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// MappingConfig configures result mapping.
type MappingConfig struct {
	MaxBatchSize int `yaml:"max_batch_size" mapstructure:"max_batch_size"`
}

// UsageConfig configures the usage ledger.
type UsageConfig struct {
	FetchCost    bool          `yaml:"fetch_cost" mapstructure:"fetch_cost"`
	TaskTimeout  time.Duration `yaml:"task_timeout" mapstructure:"task_timeout"`
	DrainTimeout time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
}

// CatalogConfig points at an optional scraper catalog file.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PricingConfig overrides the catalog's per-scraper prices.
type PricingConfig struct {
	ComputeUnitUSD float64                   `yaml:"compute_unit_usd" mapstructure:"compute_unit_usd"`
	Scrapers       map[string]ScraperPricing `yaml:"scrapers" mapstructure:"scrapers"`
}

// ScraperPricing holds USD prices for one scraper.
type ScraperPricing struct {
	PerItem float64 `yaml:"per_item" mapstructure:"per_item"`
	PerRun  float64 `yaml:"per_run" mapstructure:"per_run"`
}

// BatchConfig configures the batch command.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first; variables already set are kept.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("apify.token", "")
	v.SetDefault("catalog.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.rate_limit_rps", 10)
	v.SetDefault("apify.timeout_secs", 60)
	v.SetDefault("run.poll_interval", 5*time.Second)
	v.SetDefault("run.ceiling", 30*time.Minute)
	v.SetDefault("run.retry_rate_limited", false)
	v.SetDefault("run.retry_attempts", 3)
	v.SetDefault("mapping.max_batch_size", 1000)
	v.SetDefault("usage.fetch_cost", true)
	v.SetDefault("usage.task_timeout", 30*time.Second)
	v.SetDefault("usage.drain_timeout", 10*time.Second)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("pricing.compute_unit_usd", 0.40)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode ("run", "serve",
// "migrate"). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Run.PollInterval <= 0 {
		problems = append(problems, "run.poll_interval must be > 0")
	}
	if c.Run.Ceiling < c.Run.PollInterval {
		problems = append(problems, "run.ceiling must be >= run.poll_interval")
	}
	if c.Mapping.MaxBatchSize <= 0 {
		problems = append(problems, "mapping.max_batch_size must be > 0")
	}
	if c.Batch.MaxConcurrent < 1 || c.Batch.MaxConcurrent > 50 {
		problems = append(problems, "batch.max_concurrent must be between 1 and 50")
	}
	for id, p := range c.Pricing.Scrapers {
		if p.PerItem < 0 || p.PerRun < 0 {
			problems = append(problems, fmt.Sprintf("pricing.scrapers.%s must not be negative", id))
		}
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for the postgres driver")
	}

	switch mode {
	case "migrate":
	case "run":
		if c.Apify.Token == "" {
			problems = append(problems, "apify.token is required")
		}
	case "serve":
		if c.Apify.Token == "" {
			problems = append(problems, "apify.token is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
