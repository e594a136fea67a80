package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Price    PriceConfig    `yaml:"price"`
	Notify   NotifyConfig   `yaml:"notify"`
	Limits   LimitsConfig   `yaml:"limits"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver    string `yaml:"driver"` // "sqlite", "file", "redis" or "memory"
	Path      string `yaml:"path"`
	Dir       string `yaml:"dir"`
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ScheduleConfig configures the feed and price timers.
type ScheduleConfig struct {
	FeedInterval     string `yaml:"feed_interval"`
	PriceInterval    string `yaml:"price_interval"`
	FetchTimeout     string `yaml:"fetch_timeout"`
	HistoryRetention string `yaml:"history_retention"`
	Concurrency      int    `yaml:"concurrency"`
	Backfill         int    `yaml:"backfill"`
}

// ParseFeedInterval returns the feed interval as time.Duration.
func (s ScheduleConfig) ParseFeedInterval() time.Duration {
	return parseDuration(s.FeedInterval, 10*time.Minute)
}

// ParsePriceInterval returns the price interval as time.Duration.
func (s ScheduleConfig) ParsePriceInterval() time.Duration {
	return parseDuration(s.PriceInterval, 60*time.Second)
}

// ParseFetchTimeout returns the per-fetch timeout.
func (s ScheduleConfig) ParseFetchTimeout() time.Duration {
	return parseDuration(s.FetchTimeout, 20*time.Second)
}

// ParseHistoryRetention returns how long notified articles are remembered.
func (s ScheduleConfig) ParseHistoryRetention() time.Duration {
	return parseDuration(s.HistoryRetention, 3*time.Hour)
}

// PriceConfig configures the CoinGecko client.
type PriceConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Timeout       string `yaml:"timeout"`
	CacheTTL      string `yaml:"cache_ttl"`
	RatePerMinute int    `yaml:"rate_per_minute"`
}

// ParseTimeout returns the request timeout.
func (p PriceConfig) ParseTimeout() time.Duration {
	return parseDuration(p.Timeout, 10*time.Second)
}

// ParseCacheTTL returns how long asset existence answers are cached.
func (p PriceConfig) ParseCacheTTL() time.Duration {
	return parseDuration(p.CacheTTL, time.Hour)
}

// NotifyConfig selects the delivery provider.
type NotifyConfig struct {
	Provider string         `yaml:"provider"` // "discord", "telegram", "webhook" or "log"
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// DiscordConfig for the Discord bot API.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// TelegramConfig for the Telegram bot API.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	APIURL string `yaml:"api_url"`
}

// WebhookConfig for generic webhook delivery.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// LimitsConfig holds admission defaults.
type LimitsConfig struct {
	MaxFeedsPerTenant int `yaml:"max_feeds_per_tenant"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DataDir is where local store files live by default.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "pulsebot")
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "pulsebot", "config.yaml")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:    "sqlite",
			Path:      filepath.Join(DataDir(), "pulsebot.db"),
			Dir:       DataDir(),
			KeyPrefix: "pulsebot",
		},
		Schedule: ScheduleConfig{
			FeedInterval:     "10m",
			PriceInterval:    "60s",
			FetchTimeout:     "20s",
			HistoryRetention: "3h",
			Concurrency:      4,
			Backfill:         1,
		},
		Price: PriceConfig{
			BaseURL:       "https://api.coingecko.com/api/v3",
			Timeout:       "10s",
			CacheTTL:      "1h",
			RatePerMinute: 30,
		},
		Notify: NotifyConfig{Provider: "log"},
		Limits: LimitsConfig{MaxFeedsPerTenant: 30},
		Server: ServerConfig{Enabled: true, Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// An empty path falls back to DefaultPath when that file exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath()); err == nil {
			path = DefaultPath()
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PULSEBOT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("PULSEBOT_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Price.APIKey = v
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Notify.Discord.Token = v
		if cfg.Notify.Provider == "" || cfg.Notify.Provider == "log" {
			cfg.Notify.Provider = "discord"
		}
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notify.Telegram.Token = v
		if cfg.Notify.Provider == "" || cfg.Notify.Provider == "log" {
			cfg.Notify.Provider = "telegram"
		}
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Notify.Webhook.Secret = v
	}
	if v := os.Getenv("PULSEBOT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PULSEBOT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate reports every setting that would prevent startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for file"))
		}
	case "redis":
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for redis"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Notify.Provider {
	case "discord":
		if c.Notify.Discord.Token == "" {
			errs = append(errs, errors.New("notify.discord.token is required"))
		}
	case "telegram":
		if c.Notify.Telegram.Token == "" {
			errs = append(errs, errors.New("notify.telegram.token is required"))
		}
	case "webhook":
		if c.Notify.Webhook.URL == "" {
			errs = append(errs, errors.New("notify.webhook.url is required"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("unknown notify.provider %q", c.Notify.Provider))
	}

	for name, v := range map[string]string{
		"schedule.feed_interval":     c.Schedule.FeedInterval,
		"schedule.price_interval":    c.Schedule.PriceInterval,
		"schedule.fetch_timeout":     c.Schedule.FetchTimeout,
		"schedule.history_retention": c.Schedule.HistoryRetention,
		"price.timeout":              c.Price.Timeout,
		"price.cache_ttl":            c.Price.CacheTTL,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	if d := c.Schedule.ParseFeedInterval(); d < 5*time.Minute {
		errs = append(errs, fmt.Errorf("schedule.feed_interval %s is below the 5m minimum", d))
	}
	if c.Schedule.Concurrency < 1 {
		errs = append(errs, errors.New("schedule.concurrency must be at least 1"))
	}
	if c.Schedule.Backfill < 1 {
		errs = append(errs, errors.New("schedule.backfill must be at least 1"))
	}
	if c.Limits.MaxFeedsPerTenant < 1 {
		errs = append(errs, errors.New("limits.max_feeds_per_tenant must be at least 1"))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy with secrets masked, for printing.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	out.Price.APIKey = mask(c.Price.APIKey)
	out.Notify.Discord.Token = mask(c.Notify.Discord.Token)
	out.Notify.Telegram.Token = mask(c.Notify.Telegram.Token)
	out.Notify.Webhook.Secret = mask(c.Notify.Webhook.Secret)
	if i := strings.Index(c.Store.RedisURL, "@"); i >= 0 {
		out.Store.RedisURL = "redis://****" + c.Store.RedisURL[i:]
	}
	return &out
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
