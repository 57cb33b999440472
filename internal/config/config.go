package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Torn    TornConfig    `yaml:"torn" mapstructure:"torn"`
	Market  MarketConfig  `yaml:"market" mapstructure:"market"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor"`
	Alerts  AlertsConfig  `yaml:"alerts" mapstructure:"alerts"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// TornConfig holds the official actor-profile API settings.
type TornConfig struct {
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
}

// MarketConfig holds the marketplace top-listings API settings.
type MarketConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	TopListings int     `yaml:"top_listings" mapstructure:"top_listings"`
}

// MonitorConfig configures the detection cycle.
type MonitorConfig struct {
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FetchConcurrency  int     `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
	StaleAfterHours   int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	TransitPenalty    int64   `yaml:"transit_penalty" mapstructure:"transit_penalty"`
	RetentionHours    int     `yaml:"retention_hours" mapstructure:"retention_hours"`
	VIPActors         []int64 `yaml:"vip_actors" mapstructure:"vip_actors"`
}

// CheckInterval returns the cycle interval as a duration.
func (m MonitorConfig) CheckInterval() time.Duration {
	return time.Duration(m.CheckIntervalSecs) * time.Second
}

// StaleAfter returns the target retention window as a duration.
func (m MonitorConfig) StaleAfter() time.Duration {
	return time.Duration(m.StaleAfterHours) * time.Hour
}

// AlertsConfig holds alert thresholds and the delivery webhook.
type AlertsConfig struct {
	MinAccumulated       int64  `yaml:"min_accumulated" mapstructure:"min_accumulated"`
	MinInactivityMinutes int    `yaml:"min_inactivity_minutes" mapstructure:"min_inactivity_minutes"`
	WebhookURL           string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("BAZAARWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets and optional keys get empty defaults so AutomaticEnv
	// values survive Unmarshal.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/bazaarwatch.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("torn.api_key", "")
	v.SetDefault("torn.base_url", "https://api.torn.com/v2")
	v.SetDefault("torn.timeout_secs", 10)
	v.SetDefault("torn.rps", 8)
	v.SetDefault("market.base_url", "https://weav3r.dev/api/marketplace")
	v.SetDefault("market.timeout_secs", 15)
	v.SetDefault("market.rps", 5)
	v.SetDefault("market.top_listings", 10)
	v.SetDefault("monitor.check_interval_secs", 15)
	v.SetDefault("monitor.fetch_concurrency", 100)
	v.SetDefault("monitor.stale_after_hours", 2)
	v.SetDefault("monitor.transit_penalty", 20_000_000)
	v.SetDefault("monitor.retention_hours", 72)
	v.SetDefault("alerts.min_accumulated", 10_000_000)
	v.SetDefault("alerts.min_inactivity_minutes", 2)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("server.port", 8080)
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
