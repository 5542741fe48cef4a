package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Shopify    ShopifyConfig    `yaml:"shopify" mapstructure:"shopify"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ShopifyConfig holds Admin API credentials for the remote entity store.
type ShopifyConfig struct {
	ShopDomain   string  `yaml:"shop_domain" mapstructure:"shop_domain"`
	AccessToken  string  `yaml:"access_token" mapstructure:"access_token"`
	APIVersion   string  `yaml:"api_version" mapstructure:"api_version"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SyncConfig controls row processing and normalization defaults.
type SyncConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// FirstLocationKey is the location key that adopts the default location
	// auto-created with a new company.
	FirstLocationKey string `yaml:"first_location_key" mapstructure:"first_location_key"`
	DefaultRole      string `yaml:"default_role" mapstructure:"default_role"`
	DefaultCurrency  string `yaml:"default_currency" mapstructure:"default_currency"`
	DefaultCountry   string `yaml:"default_country" mapstructure:"default_country"`
}

// RetryConfig configures retries of transient remote failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the remote store circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the run ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures how sheets are read.
type SourceConfig struct {
	SheetName string `yaml:"sheet_name" mapstructure:"sheet_name"`
	HeaderRow int    `yaml:"header_row" mapstructure:"header_row"`
	// Columns maps canonical field names to header labels that override
	// the built-in aliases.
	Columns map[string]string `yaml:"columns" mapstructure:"columns"`
}

// ServerConfig configures the ledger API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures failure alerts for sync runs.
type MonitoringConfig struct {
	// WebhookURL receives alerts as JSON POSTs. Empty disables delivery.
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	// FailureRateThreshold is the fraction of failed runs in the lookback
	// window above which an alert fires.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// RowFailureThreshold is the fraction of failed rows in a single run
	// above which an alert fires.
	RowFailureThreshold float64 `yaml:"row_failure_threshold" mapstructure:"row_failure_threshold"`
	LookbackHours       int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("B2BSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("shopify.shop_domain", "")
	v.SetDefault("shopify.access_token", "")
	v.SetDefault("shopify.api_version", "2024-10")
	v.SetDefault("shopify.rate_limit_rps", 2.0)
	v.SetDefault("shopify.timeout_secs", 30)
	v.SetDefault("sync.concurrency", 1)
	v.SetDefault("sync.first_location_key", "1")
	v.SetDefault("sync.default_role", "MEMBER")
	v.SetDefault("sync.default_currency", "USD")
	v.SetDefault("sync.default_country", "US")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "b2b-sync.db")
	v.SetDefault("source.header_row", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.row_failure_threshold", 0.10)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings required by the given command mode:
// "sync" (remote store credentials), "offline" (in-memory store), "ledger"
// (run history only), or "serve" (ledger API).
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "sync":
		if c.Shopify.ShopDomain == "" {
			problems = append(problems, "shopify.shop_domain is required")
		}
		if c.Shopify.AccessToken == "" {
			problems = append(problems, "shopify.access_token is required")
		}
		problems = append(problems, c.syncProblems()...)
	case "offline":
		problems = append(problems, c.syncProblems()...)
	case "ledger":
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) syncProblems() []string {
	var problems []string
	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 32 {
		problems = append(problems, "sync.concurrency must be between 1 and 32")
	}
	if strings.TrimSpace(c.Sync.DefaultRole) == "" {
		problems = append(problems, "sync.default_role is required")
	}
	if len(strings.TrimSpace(c.Sync.DefaultCurrency)) != 3 {
		problems = append(problems, "sync.default_currency must be a 3-letter code")
	}
	if strings.TrimSpace(c.Sync.FirstLocationKey) == "" {
		problems = append(problems, "sync.first_location_key is required")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be >= 1")
	}
	return problems
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
