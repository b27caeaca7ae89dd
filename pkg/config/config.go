// Package config loads go-livedash settings from a config file, a .env file
// and LIVEDASH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LIVEDASH_PUSH_URL.
const EnvPrefix = "LIVEDASH"

// Config is the complete application configuration.
type Config struct {
	Push     PushConfig     `mapstructure:"push" json:"push" yaml:"push"`
	Poll     PollConfig     `mapstructure:"poll" json:"poll" yaml:"poll"`
	Fallback FallbackConfig `mapstructure:"fallback" json:"fallback" yaml:"fallback"`
	ErrorLog ErrorLogConfig `mapstructure:"error_log" json:"error_log" yaml:"error_log"`
	Log      LogConfig      `mapstructure:"log" json:"log" yaml:"log"`
	Server   ServerConfig   `mapstructure:"server" json:"server" yaml:"server"`
	Feed     FeedConfig     `mapstructure:"feed" json:"feed" yaml:"feed"`
}

// PushConfig configures the push connection.
type PushConfig struct {
	URL               string        `mapstructure:"url" json:"url" yaml:"url"`
	MaxAttempts       int           `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" json:"reconnect_interval" yaml:"reconnect_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// PollConfig configures the polling fallback.
type PollConfig struct {
	URL          string        `mapstructure:"url" json:"url" yaml:"url"`
	APIKey       string        `mapstructure:"api_key" json:"-" yaml:"-"`
	Interval     time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	RefreshRate  float64       `mapstructure:"refresh_rate" json:"refresh_rate" yaml:"refresh_rate"`
	RefreshBurst int           `mapstructure:"refresh_burst" json:"refresh_burst" yaml:"refresh_burst"`
}

// FallbackConfig configures the switch between push and poll.
// InitialDelay is how long the first connection attempt may take before
// polling starts; zero or a negative value starts polling immediately.
type FallbackConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" json:"initial_delay" yaml:"initial_delay"`
}

// ErrorLogConfig sizes the in-process error log.
type ErrorLogConfig struct {
	Capacity int `mapstructure:"capacity" json:"capacity" yaml:"capacity"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

// ServerConfig configures the demo feed and control API server.
type ServerConfig struct {
	Address  string `mapstructure:"address" json:"address" yaml:"address"`
	BasePath string `mapstructure:"base_path" json:"base_path" yaml:"base_path"`
}

// FeedConfig configures the demo data feed.
type FeedConfig struct {
	Interval time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	Seed     int64         `mapstructure:"seed" json:"seed" yaml:"seed"`
}

// LoadOptions controls where Load looks for settings.
type LoadOptions struct {
	// File is an explicit config file; when empty livedash.{yaml,json,toml} is
	// searched in the working directory and ./config.
	File string
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are skipped.
	EnvFiles []string
	Logger   *zerolog.Logger
}

// DefaultEnvFiles are the .env locations checked when LoadOptions.EnvFiles is nil.
var DefaultEnvFiles = []string{".env", ".env.local"}

// Load resolves configuration from defaults, an optional file and the environment.
func Load(opts LoadOptions) (*Config, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}
	if loaded, err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	} else if loaded != "" {
		logger.Info().Str("file", loaded).Msg(".env file loaded")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("livedash")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
		logger.Debug().Msg("no config file found, using environment and defaults")
	} else {
		logger.Info().Str("file", v.ConfigFileUsed()).Msg("config file loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("push.url", "ws://localhost:8080/ws")
	v.SetDefault("push.max_attempts", 5)
	v.SetDefault("push.reconnect_interval", "3s")
	v.SetDefault("push.heartbeat_interval", "30s")

	v.SetDefault("poll.url", "http://localhost:8080/api/dashboard")
	v.SetDefault("poll.api_key", "")
	v.SetDefault("poll.interval", "5s")
	v.SetDefault("poll.timeout", "10s")
	v.SetDefault("poll.refresh_rate", 1.0)
	v.SetDefault("poll.refresh_burst", 3)

	v.SetDefault("fallback.initial_delay", "1s")
	v.SetDefault("error_log.capacity", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.base_path", "/livesync")

	v.SetDefault("feed.interval", "2s")
	v.SetDefault("feed.seed", 0)
}

func loadEnvFiles(files []string) (string, error) {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return "", fmt.Errorf("config: load %s: %w", file, err)
		}
		return file, nil
	}
	return "", nil
}

// Validate checks the loaded values.
func (c Config) Validate() error {
	var errs []error
	if err := checkURL(c.Push.URL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("push.url: %w", err))
	}
	if err := checkURL(c.Poll.URL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("poll.url: %w", err))
	}
	if c.Push.MaxAttempts < 0 {
		errs = append(errs, errors.New("push.max_attempts must not be negative"))
	}
	if c.Push.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("push.reconnect_interval must be positive"))
	}
	if c.Push.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("push.heartbeat_interval must be positive"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	if c.Poll.Timeout < 0 {
		errs = append(errs, errors.New("poll.timeout must not be negative"))
	}
	if c.ErrorLog.Capacity <= 0 {
		errs = append(errs, errors.New("error_log.capacity must be positive"))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
}

// NewLogger builds the zerolog logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("config: log level: %w", err)
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
