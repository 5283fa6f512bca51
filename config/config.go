package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string         `mapstructure:"environment"` // "dev" or "prod"
	SGE         SGEConfig      `mapstructure:"sge"`
	FX          FXConfig       `mapstructure:"fx"`
	Ingest      IngestConfig   `mapstructure:"ingest"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Log         LogConfig      `mapstructure:"log"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
}

// SGEConfig configures the exchange quotation endpoint.
type SGEConfig struct {
	BaseURL     string             `mapstructure:"base_url"`
	Timeout     time.Duration      `mapstructure:"timeout"`
	RatePerSec  float64            `mapstructure:"rate_per_sec"` // outbound request pacing
	Burst       int                `mapstructure:"burst"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

type InstrumentConfig struct {
	Metal  string `mapstructure:"metal"`  // "gold" | "silver"
	InstID string `mapstructure:"instid"` // e.g. "Au(T+D)"
	Unit   string `mapstructure:"unit"`   // "CNY/g" or "CNY/kg"
}

// FXConfig configures the USD/CNY rate source and its quota gate.
type FXConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`           // empty disables outbound rate calls
	APIKeyParameter string        `mapstructure:"api_key_parameter"` // SSM parameter name used in prod
	Timeout         time.Duration `mapstructure:"timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	DailyQuota      int           `mapstructure:"daily_quota"`
	DefaultRate     float64       `mapstructure:"default_rate"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
}

// IngestConfig configures the polling loop.
type IngestConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	MaxJitter         time.Duration `mapstructure:"max_jitter"`
	StaleThresholdMin int           `mapstructure:"stale_threshold_min"` // warn when delay stamp and clock diverge
	PriceBufferMin    int           `mapstructure:"price_buffer_min"`    // extra cutoff shrinkage, 0 disables
	BufferOrder       string        `mapstructure:"buffer_order"`        // "after_min" or "before_min"
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
}

// StorageConfig selects where the price series lives.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"` // "sqlite" or "postgres"
	Path     string `mapstructure:"path"`   // sqlite database file
	CreateDB bool   `mapstructure:"create_db"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level      string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format     string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile string `mapstructure:"output_file"` // file path to store logs (optional)
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`

	Environment string `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("sge.base_url", "https://en.sge.com.cn")
	v.SetDefault("sge.timeout", 10*time.Second)
	v.SetDefault("sge.rate_per_sec", 1.0)
	v.SetDefault("sge.burst", 2)
	v.SetDefault("sge.instruments", []map[string]any{
		{"metal": "gold", "instid": "Au(T+D)", "unit": "CNY/g"},
		{"metal": "silver", "instid": "Ag(T+D)", "unit": "CNY/kg"},
	})

	v.SetDefault("fx.base_url", "https://www.alphavantage.co")
	v.SetDefault("fx.api_key", "")
	v.SetDefault("fx.api_key_parameter", "ALPHA_VANTAGE_API_KEY")
	v.SetDefault("fx.timeout", 10*time.Second)
	v.SetDefault("fx.refresh_interval", time.Hour)
	v.SetDefault("fx.daily_quota", 24)
	v.SetDefault("fx.default_rate", 7.0060)
	v.SetDefault("fx.max_backoff", 300*time.Second)

	v.SetDefault("ingest.interval", 60*time.Second)
	v.SetDefault("ingest.max_jitter", 10*time.Second)
	v.SetDefault("ingest.stale_threshold_min", 5)
	v.SetDefault("ingest.price_buffer_min", 0)
	v.SetDefault("ingest.buffer_order", "after_min")
	v.SetDefault("ingest.max_backoff", 300*time.Second)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "shanghai_metals.db")
	v.SetDefault("storage.create_db", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "shanghai_metals")
	v.SetDefault("postgres.timezone", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 4)
	v.SetDefault("postgres.max_idle_conns", 2)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)
}

// Load loads application configuration using Viper.
// It reads config.yaml next to the binary and overrides with environment
// variables (including a local .env file).
func Load() *Config {
	// TODO: env path
	var dirs []string
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		dirs = append(dirs, filepath.Join(pwd, "../../config"))
	} else {
		dirs = append(dirs, filepath.Join(filepath.Dir(ex), "../config"))
	}

	_ = godotenv.Load()

	cfg, err := LoadFrom(dirs...)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom reads config.yaml from the first matching directory. A missing
// file is not an error: defaults and environment variables still apply.
func LoadFrom(dirs ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	setDefaults(v)

	// Support environment variables with dot notation (e.g., FX_API_KEY)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Log.Environment = cfg.Environment

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects option combinations the collector cannot run with.
func (c *Config) Validate() error {
	if len(c.SGE.Instruments) == 0 {
		return fmt.Errorf("config: at least one instrument is required")
	}
	for _, inst := range c.SGE.Instruments {
		if inst.Metal == "" || inst.InstID == "" {
			return fmt.Errorf("config: instrument needs metal and instid: %+v", inst)
		}
	}
	if c.Ingest.Interval <= 0 {
		return fmt.Errorf("config: ingest.interval must be positive")
	}
	if c.Ingest.StaleThresholdMin < 0 || c.Ingest.PriceBufferMin < 0 {
		return fmt.Errorf("config: ingest thresholds must not be negative")
	}
	switch c.Ingest.BufferOrder {
	case "", "after_min", "before_min":
	default:
		return fmt.Errorf("config: unknown ingest.buffer_order %q", c.Ingest.BufferOrder)
	}
	if c.FX.DailyQuota < 0 {
		return fmt.Errorf("config: fx.daily_quota must not be negative")
	}
	if c.FX.DefaultRate <= 0 {
		return fmt.Errorf("config: fx.default_rate must be positive")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}
