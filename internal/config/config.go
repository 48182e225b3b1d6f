package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"image-converter-go/internal/formats"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	StaticDir    string        `mapstructure:"static_dir"`
}

// LimitsConfig bounds what a single request may submit
type LimitsConfig struct {
	MaxFiles      int `mapstructure:"max_files"`
	MaxFileSizeMB int `mapstructure:"max_file_size_mb"`
}

// ConversionConfig selects the codec and batch concurrency
type ConversionConfig struct {
	Codec          string   `mapstructure:"codec"` // native, vips
	BatchWorkers   int      `mapstructure:"batch_workers"`
	AllowedFormats []string `mapstructure:"allowed_formats"`
}

// ProgressConfig selects the progress broker
type ProgressConfig struct {
	Backend string      `mapstructure:"backend"` // memory, redis
	Buffer  int         `mapstructure:"buffer"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains the Redis connection used by the redis backend
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
	Format     string `mapstructure:"format"` // json, text
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Limits: LimitsConfig{
			MaxFiles:      3,
			MaxFileSizeMB: 12,
		},
		Conversion: ConversionConfig{
			Codec:          "native",
			BatchWorkers:   1,
			AllowedFormats: []string{"jpg", "jpeg", "png", "webp", "avif", "bmp"},
		},
		Progress: ProgressConfig{
			Backend: "memory",
			Buffer:  16,
			Redis: RedisConfig{
				Addr:          "localhost:6379",
				ChannelPrefix: "image-converter:progress:",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "logs/image-converter.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
			Format:     "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-converter")
		v.AddConfigPath("/etc/image-converter")
	}

	v.SetEnvPrefix("IMAGE_CONVERTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnv registers every key so AutomaticEnv also applies to values
// absent from the config file.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"server.port", "server.read_timeout", "server.write_timeout", "server.static_dir",
		"limits.max_files", "limits.max_file_size_mb",
		"conversion.codec", "conversion.batch_workers", "conversion.allowed_formats",
		"progress.backend", "progress.buffer",
		"progress.redis.addr", "progress.redis.password", "progress.redis.db", "progress.redis.channel_prefix",
		"logging.level", "logging.file_path", "logging.format",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Limits.MaxFiles <= 0 {
		c.Limits.MaxFiles = 3
	}
	if c.Limits.MaxFileSizeMB <= 0 {
		c.Limits.MaxFileSizeMB = 12
	}

	c.Conversion.Codec = strings.ToLower(c.Conversion.Codec)
	if c.Conversion.Codec == "" {
		c.Conversion.Codec = "native"
	}
	if c.Conversion.Codec != "native" && c.Conversion.Codec != "vips" {
		return fmt.Errorf("invalid codec: %s (valid: native, vips)", c.Conversion.Codec)
	}
	if c.Conversion.BatchWorkers <= 0 {
		c.Conversion.BatchWorkers = 1
	}

	allowed := make([]string, 0, len(c.Conversion.AllowedFormats))
	for _, f := range c.Conversion.AllowedFormats {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if _, err := formats.LookupOutput(f); err != nil {
			return fmt.Errorf("invalid allowed format: %s", f)
		}
		allowed = append(allowed, f)
	}
	c.Conversion.AllowedFormats = allowed

	c.Progress.Backend = strings.ToLower(c.Progress.Backend)
	switch c.Progress.Backend {
	case "", "memory":
		c.Progress.Backend = "memory"
	case "redis":
		if c.Progress.Redis.Addr == "" {
			return fmt.Errorf("progress.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid progress backend: %s (valid: memory, redis)", c.Progress.Backend)
	}
	if c.Progress.Buffer <= 0 {
		c.Progress.Buffer = 16
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// MaxFileBytes returns the per-file size limit in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.Limits.MaxFileSizeMB) << 20
}

// IsFormatAllowed reports whether id may be requested as a target.
func (c *Config) IsFormatAllowed(id string) bool {
	if len(c.Conversion.AllowedFormats) == 0 {
		return true
	}
	for _, f := range c.Conversion.AllowedFormats {
		if f == id {
			return true
		}
	}
	return false
}
