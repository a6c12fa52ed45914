// Package config loads filecached's configuration from file, environment,
// and defaults, validates it, and exposes the typed Config the rest of the
// repository consumes.
//
// Loading is layered with Viper (defaults < file < environment for keys the
// file sets; no command-line flag is bound), validated with go-playground/validator struct tags, and decoded through a
// custom mapstructure hook so size fields accept either a bare integer or a
// human-readable string ("512MB", "2Gi") via internal/bytesize.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/oxcache/filecached/internal/bytesize"
)

// Config is filecached's complete static configuration. Dynamic state (the
// file table itself) lives in the running Store, never here.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig configures the local stream socket and its worker pool.
type ServerConfig struct {
	// SocketPath is the filesystem path of the Unix domain socket the
	// server listens on.
	SocketPath string `mapstructure:"socket_path" validate:"required"`

	// WorkersInPool bounds the number of requests served concurrently.
	WorkersInPool int `mapstructure:"workers_in_pool" validate:"required,gt=0"`

	// Backlog is accepted, defaulted and validated, and handed to
	// internal/server's Config; the server listens with the operating
	// system's default backlog and does not apply this value.
	Backlog int `mapstructure:"backlog" validate:"gte=0"`
}

// StorageConfig configures the store's capacity ceilings.
type StorageConfig struct {
	// MaxSize is the store's total byte ceiling. Accepts a bare integer or
	// a human-readable size ("512MB", "2Gi") instead of separate KB/MB/GB
	// fields.
	MaxSize bytesize.ByteSize `mapstructure:"max_size" validate:"required"`

	// MaxFileCount is the store's resident-file-count ceiling.
	MaxFileCount int `mapstructure:"max_file_count" validate:"required,gt=0"`

	// FileTableBuckets is accepted and recorded for forward compatibility
	// with a bucketed table implementation; the shipped Store uses a
	// single Go map regardless of this value (see DESIGN.md).
	FileTableBuckets int `mapstructure:"file_table_buckets" validate:"gte=0"`
}

// LoggingConfig controls the package-level internal/logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns a fully-populated, usable Config with no file or
// environment input at all.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills any zero-valued field of cfg with its default. Called
// after Viper unmarshaling so a partially-specified file or environment
// still yields a complete, valid Config.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.SocketPath == "" {
		cfg.Server.SocketPath = "/tmp/filecached.sock"
	}
	if cfg.Server.WorkersInPool == 0 {
		cfg.Server.WorkersInPool = 16
	}
	if cfg.Server.Backlog == 0 {
		cfg.Server.Backlog = 128
	}
	if cfg.Storage.MaxSize == 0 {
		cfg.Storage.MaxSize = 256 * bytesize.MiB
	}
	if cfg.Storage.MaxFileCount == 0 {
		cfg.Storage.MaxFileCount = 1024
	}
	if cfg.Storage.FileTableBuckets == 0 {
		cfg.Storage.FileTableBuckets = 16
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9090"
	}
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// Load reads the config file, if one is found, lets FILECACHED_* environment
// variables override the keys that file sets, and fills every field still
// zero with its default. Environment variables are not read when no config
// file is found, and no command-line flag is bound into the Viper instance
// Load creates.
//
// configPath, if non-empty, names an explicit file to read; otherwise Viper
// searches the current directory and /etc/filecached for config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(byteSizeDecodeHook()))); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FILECACHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/filecached")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

// byteSizeDecodeHook lets a config file or environment variable express a
// StorageConfig.MaxSize as "512MB", "2Gi", or a bare integer.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			return bytesize.Parse(data.(string))
		case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
			return data, nil
		default:
			return data, nil
		}
	}
}

// SaveDefault writes a sample configuration file to path, for the `init`
// CLI subcommand.
func SaveDefault(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	const sample = `server:
  socket_path: /tmp/filecached.sock
  workers_in_pool: 16
  backlog: 128
storage:
  max_size: 256MiB
  max_file_count: 1024
  file_table_buckets: 16
logging:
  level: INFO
  format: text
  output: stdout
metrics:
  enabled: false
  addr: 127.0.0.1:9090
`
	return os.WriteFile(path, []byte(sample), 0o644)
}
