// Package config loads the immutable crawler configuration.
//
// Values are layered defaults < YAML file < BIKECRAWLER_* environment <
// command line flags, resolved by viper and decoded into Config.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides. Keys map with dots
// replaced by underscores, e.g. BIKECRAWLER_API_TOKEN for api.token.
// BIKECRAWLER_TOKEN is accepted as a shorter alias for the token.
const EnvPrefix = "BIKECRAWLER"

// Defaults of the bookingproposals query archived by the crawler.
const (
	DefaultBaseURL         = "https://api.deutschebahn.com/flinkster-api-ng/v1/"
	DefaultLatitude        = "49.8739"
	DefaultLongitude       = "8.6512"
	DefaultRadius          = 10000
	DefaultLimit           = 50
	DefaultProviderNetwork = 2
	DefaultExpand          = "rentalobject"
	DefaultPages           = 10
	DefaultInterval        = time.Minute
	DefaultPollInterval    = time.Second
	DefaultTimeout         = 30 * time.Second
)

var (
	// ErrMissingToken is returned when no API token was configured.
	ErrMissingToken = errors.New("api token is required")

	// ErrInvalidConfig wraps every other validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the complete crawler configuration. It is built once at startup
// and passed by value afterwards.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Query     QueryConfig     `mapstructure:"query"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Output    OutputConfig    `mapstructure:"output"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
}

// APIConfig describes the remote endpoint.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// QueryConfig is the fixed geographic query and its pagination.
type QueryConfig struct {
	Latitude        string `mapstructure:"lat"`
	Longitude       string `mapstructure:"lon"`
	Radius          int    `mapstructure:"radius"`
	Limit           int    `mapstructure:"limit"`
	ProviderNetwork int    `mapstructure:"provider_network"`
	Expand          string `mapstructure:"expand"`
	Pages           int    `mapstructure:"pages"`
}

// ScheduleConfig controls the polling loop.
type ScheduleConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	ContinueOnError bool          `mapstructure:"continue_on_error"`
}

// OutputConfig is where run directories are created.
type OutputConfig struct {
	DataPath string `mapstructure:"data_path"`
}

// LoggingConfig mirrors the CLI verbosity switches.
type LoggingConfig struct {
	Verbose bool   `mapstructure:"verbose"`
	Quiet   bool   `mapstructure:"quiet"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig enables the prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// HeartbeatConfig enables Redis heartbeats when RedisAddr is set.
type HeartbeatConfig struct {
	RedisAddr string `mapstructure:"redis_addr"`
	Key       string `mapstructure:"key"`
}

// Load resolves the configuration. configPath may be empty, in which case
// ./bike-crawler.yaml and ~/.bike-crawler/bike-crawler.yaml are tried and a
// missing file is not an error. v may carry flag bindings; nil creates a
// fresh instance.
func Load(v *viper.Viper, configPath string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bike-crawler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bike-crawler"))
		}
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api.token", EnvPrefix+"_API_TOKEN", EnvPrefix+"_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind token env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", DefaultTimeout)
	v.SetDefault("api.user_agent", "bike-crawler/1.0")

	v.SetDefault("query.lat", DefaultLatitude)
	v.SetDefault("query.lon", DefaultLongitude)
	v.SetDefault("query.radius", DefaultRadius)
	v.SetDefault("query.limit", DefaultLimit)
	v.SetDefault("query.provider_network", DefaultProviderNetwork)
	v.SetDefault("query.expand", DefaultExpand)
	v.SetDefault("query.pages", DefaultPages)

	v.SetDefault("schedule.interval", DefaultInterval)
	v.SetDefault("schedule.poll_interval", DefaultPollInterval)
	v.SetDefault("schedule.run_immediately", false)
	v.SetDefault("schedule.continue_on_error", false)

	v.SetDefault("output.data_path", ".")

	v.SetDefault("logging.verbose", false)
	v.SetDefault("logging.quiet", false)
	v.SetDefault("logging.path", "")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("heartbeat.redis_addr", "")
	v.SetDefault("heartbeat.key", "bikecrawler:heartbeat:last")
}

// Default returns the configuration produced by SetDefaults alone.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:   DefaultBaseURL,
			Timeout:   DefaultTimeout,
			UserAgent: "bike-crawler/1.0",
		},
		Query: QueryConfig{
			Latitude:        DefaultLatitude,
			Longitude:       DefaultLongitude,
			Radius:          DefaultRadius,
			Limit:           DefaultLimit,
			ProviderNetwork: DefaultProviderNetwork,
			Expand:          DefaultExpand,
			Pages:           DefaultPages,
		},
		Schedule: ScheduleConfig{
			Interval:     DefaultInterval,
			PollInterval: DefaultPollInterval,
		},
		Output:    OutputConfig{DataPath: "."},
		Heartbeat: HeartbeatConfig{Key: "bikecrawler:heartbeat:last"},
	}
}

// Validate checks the configuration before the crawler starts.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.Token) == "" {
		return ErrMissingToken
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base url: %v", ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base url %q must be an absolute http(s) url", ErrInvalidConfig, c.API.BaseURL)
	}

	if c.Query.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0 (got %d)", ErrInvalidConfig, c.Query.Limit)
	}
	if c.Query.Pages <= 0 {
		return fmt.Errorf("%w: pages must be > 0 (got %d)", ErrInvalidConfig, c.Query.Pages)
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0 (got %s)", ErrInvalidConfig, c.Schedule.Interval)
	}
	if c.Schedule.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be > 0 (got %s)", ErrInvalidConfig, c.Schedule.PollInterval)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative (got %s)", ErrInvalidConfig, c.API.Timeout)
	}
	if c.Output.DataPath == "" {
		return fmt.Errorf("%w: data path must not be empty", ErrInvalidConfig)
	}

	return nil
}
