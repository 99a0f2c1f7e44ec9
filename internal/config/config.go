// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers understood by storage.Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig names the crawl namespace and its seeds.
type CrawlConfig struct {
	Name      string   `mapstructure:"name"`
	Seeds     []string `mapstructure:"seeds"`
	SeedsFile string   `mapstructure:"seeds_file"`
}

// CrawlerConfig governs dispatcher and worker behavior.
type CrawlerConfig struct {
	MaxInProgress    int           `mapstructure:"max_in_progress"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	ChannelSize      int           `mapstructure:"channel_size"`
	DelayMs          int           `mapstructure:"delay_ms"`
	UserAgent        string        `mapstructure:"user_agent"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
	BlockedHosts     []string      `mapstructure:"blocked_hosts"`
	StatsInterval    time.Duration `mapstructure:"stats_interval"`
}

// HTTPConfig configures the fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StorageConfig selects the frontier backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Dir    string `mapstructure:"dir"`
}

// DBConfig controls access to Postgres when storage.driver is postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// ServerConfig controls the HTTP status server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and verbosity.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.name", "detik")
	v.SetDefault("crawl.seeds", []string{"https://www.detik.com"})
	v.SetDefault("crawl.seeds_file", "")
	v.SetDefault("crawler.max_in_progress", 20)
	v.SetDefault("crawler.dispatch_interval", time.Second)
	v.SetDefault("crawler.channel_size", 10)
	v.SetDefault("crawler.delay_ms", 50)
	v.SetDefault("crawler.user_agent", "indonesian-media-crawler/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("crawler.stats_interval", time.Minute)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.dir", ".")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 0)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Name == "" {
		return fmt.Errorf("crawl.name is required")
	}
	if c.Crawler.MaxInProgress <= 0 {
		return fmt.Errorf("crawler.max_in_progress must be > 0")
	}
	if c.Crawler.DispatchInterval <= 0 {
		return fmt.Errorf("crawler.dispatch_interval must be > 0")
	}
	if c.Crawler.ChannelSize <= 0 {
		return fmt.Errorf("crawler.channel_size must be > 0")
	}
	if c.Crawler.DelayMs < 0 {
		return fmt.Errorf("crawler.delay_ms must be >= 0")
	}
	if c.Crawler.StatsInterval < 0 {
		return fmt.Errorf("crawler.stats_interval must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Server.Port < 0 {
		return fmt.Errorf("server.port must be >= 0")
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of sqlite, postgres, memory", c.Storage.Driver)
	}
	return nil
}

// Delay returns the minimum gap between fetches.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
