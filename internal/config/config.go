// Package config loads mediacheck settings from defaults, an optional TOML
// file, a .env file and MEDIACHECK_* environment variables, in increasing
// order of precedence.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/logger"
	"github.com/mediacheck/mediacheck/internal/sysinfo"
)

const (
	EnvPrefix = "MEDIACHECK"
	FileName  = "mediacheck.toml"

	MinFastSeconds = 10
	MaxFastSeconds = 600
)

type Config struct {
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Check    CheckConfig    `mapstructure:"check"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type FFmpegConfig struct {
	Path string `mapstructure:"path"`
	// ExtraArgs is a shell-quoted string inserted before -i.
	ExtraArgs string `mapstructure:"extra_args"`
}

type CheckConfig struct {
	Concurrency    int  `mapstructure:"concurrency"`
	MaxConcurrency int  `mapstructure:"max_concurrency"`
	Fast           bool `mapstructure:"fast"`
	FastSeconds    int  `mapstructure:"fast_seconds"`
}

type ServerConfig struct {
	ListenAddr  string   `mapstructure:"listen_addr"`
	APIKeys     []string `mapstructure:"api_keys"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// InsecureNoAuth serves the API without API keys.
	InsecureNoAuth       bool          `mapstructure:"insecure_no_auth"`
	RateLimit            float64       `mapstructure:"rate_limit"`
	RateBurst            int           `mapstructure:"rate_burst"`
	CallbackURL          string        `mapstructure:"callback_url"`
	CallbackAllowPrivate bool          `mapstructure:"callback_allow_private"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Format     string `mapstructure:"format"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Options converts the section into logger options.
func (l LogConfig) Options() logger.Options {
	return logger.Options{
		Format:     l.Format,
		Level:      l.Level,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

type ShutdownConfig struct {
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	cpus := sysinfo.CPUCount()

	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("ffmpeg.extra_args", "")

	v.SetDefault("check.concurrency", max(1, cpus/2))
	v.SetDefault("check.max_concurrency", cpus)
	v.SetDefault("check.fast", false)
	v.SetDefault("check.fast_seconds", 60)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.insecure_no_auth", false)
	v.SetDefault("server.rate_limit", 10.0) // requests per second per client
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.callback_url", "")
	v.SetDefault("server.callback_allow_private", false)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0)) // streaming endpoints stay open
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.path", "mediacheck.db")

	v.SetDefault("log.format", logger.FormatConsole)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("shutdown.drain_timeout", 30*time.Second)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the configuration. An explicit path must exist; without one,
// mediacheck.toml is looked up in the working directory and the user config
// directory and skipped when absent.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "mediacheck"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "failed to read config file %s", v.ConfigFileUsed())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Server.APIKeys = splitList(cfg.Server.APIKeys)
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList trims entries and drops empty ones. Environment values arrive as
// a single comma-separated element.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.FFmpeg.Path) == "" {
		return invalid("ffmpeg.path must not be empty")
	}
	if c.Check.MaxConcurrency < 1 {
		return invalid("check.max_concurrency must be > 0, got %d", c.Check.MaxConcurrency)
	}
	if c.Check.Concurrency < 1 || c.Check.Concurrency > c.Check.MaxConcurrency {
		return invalid("check.concurrency must be between 1 and %d, got %d", c.Check.MaxConcurrency, c.Check.Concurrency)
	}
	if c.Check.FastSeconds < MinFastSeconds || c.Check.FastSeconds > MaxFastSeconds {
		return invalid("check.fast_seconds must be between %d and %d, got %d", MinFastSeconds, MaxFastSeconds, c.Check.FastSeconds)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch strings.ToLower(c.Log.Format) {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return invalid("log.format %q must be one of: console, json", c.Log.Format)
	}
	if c.Shutdown.DrainTimeout <= 0 {
		return invalid("shutdown.drain_timeout must be > 0")
	}
	return nil
}

// ValidateServer adds the checks that only matter for the HTTP API.
func (c *Config) ValidateServer() error {
	if c.Server.ListenAddr == "" {
		return invalid("server.listen_addr must not be empty")
	}
	if len(c.Server.APIKeys) == 0 && !c.Server.InsecureNoAuth {
		return errors.WithHint(
			invalid("server.api_keys must not be empty"),
			"set MEDIACHECK_SERVER_API_KEYS or server.insecure_no_auth = true")
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst < 1) {
		return invalid("server.rate_burst must be > 0 when server.rate_limit is set")
	}
	if c.Server.CallbackURL != "" {
		u, err := url.Parse(c.Server.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("server.callback_url %q must be an absolute http(s) URL", c.Server.CallbackURL)
		}
	}
	if c.Database.Path == "" {
		return invalid("database.path must not be empty")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(errors.ErrInvalidArgument, format, args...)
}
