// Package config loads service settings from an optional YAML file and
// TABLEVIEW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TABLEVIEW_SERVER_ADDR.
const EnvPrefix = "TABLEVIEW"

type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	API    APIConfig    `mapstructure:"api" yaml:"api"`
	Data   DataConfig   `mapstructure:"data" yaml:"data"`
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	CORS           bool          `mapstructure:"cors" yaml:"cors"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type APIConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size" yaml:"default_page_size"`
}

// DataConfig selects the initial data source. SQLitePath wins over CSVPath.
type DataConfig struct {
	CSVPath         string        `mapstructure:"csv_path" yaml:"csv_path"`
	SQLitePath      string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	SQLiteQuery     string        `mapstructure:"sqlite_query" yaml:"sqlite_query"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
}

type EngineConfig struct {
	ParallelThreshold int `mapstructure:"parallel_threshold" yaml:"parallel_threshold"`
	Workers           int `mapstructure:"workers" yaml:"workers"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors", true)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("api.default_page_size", 100)
	v.SetDefault("data.csv_path", "")
	v.SetDefault("data.sqlite_path", "")
	v.SetDefault("data.sqlite_query", "")
	v.SetDefault("data.refresh_interval", time.Duration(0))
	v.SetDefault("engine.parallel_threshold", 50000)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
}

// Load reads path when given, otherwise tableview.yaml from the working
// directory if present, then applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("tableview")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	// server.request_timeout <- TABLEVIEW_SERVER_REQUEST_TIMEOUT
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, errors.New("server.request_timeout must not be negative"))
	}
	if c.API.DefaultPageSize < 1 {
		errs = append(errs, fmt.Errorf("api.default_page_size must be positive, got %d", c.API.DefaultPageSize))
	}
	if c.Data.SQLitePath != "" && c.Data.SQLiteQuery == "" {
		errs = append(errs, errors.New("data.sqlite_query is required with data.sqlite_path"))
	}
	if c.Data.RefreshInterval < 0 {
		errs = append(errs, errors.New("data.refresh_interval must not be negative"))
	}
	if c.Engine.ParallelThreshold < 0 || c.Engine.Workers < 0 {
		errs = append(errs, errors.New("engine settings must not be negative"))
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.encoding must be json or console, got %q", c.Log.Encoding))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return out, nil
}
