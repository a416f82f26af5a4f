// Package config loads application configuration from a YAML file,
// environment variables (APPLENS_ prefix) and bound CLI flags, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggerConfig controls the zap logger setup.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// GitHubConfig configures the GitHub content source.
type GitHubConfig struct {
	Token             string  `mapstructure:"token" yaml:"token"`
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"` // GitHub Enterprise override
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	UseClone          bool    `mapstructure:"use_clone" yaml:"use_clone"` // shallow-clone instead of the REST API
}

// ScannerConfig bounds the scan pipeline.
type ScannerConfig struct {
	RepoConcurrency int           `mapstructure:"repo_concurrency" yaml:"repo_concurrency"`
	FileConcurrency int           `mapstructure:"file_concurrency" yaml:"file_concurrency"`
	RepoTimeout     time.Duration `mapstructure:"repo_timeout" yaml:"repo_timeout"`
	DefaultMaxHops  int           `mapstructure:"default_max_hops" yaml:"default_max_hops"`
}

// DatabaseConfig configures the optional PostgreSQL store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Config is the root configuration object.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	GitHub   GitHubConfig   `mapstructure:"github" yaml:"github"`
	Scanner  ScannerConfig  `mapstructure:"scanner" yaml:"scanner"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// setDefaults registers every default on the shared viper instance.
func setDefaults() {
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.service_name", "applens")
	viper.SetDefault("logger.max_size", 50)
	viper.SetDefault("logger.max_backups", 3)
	viper.SetDefault("logger.max_age", 14)

	viper.SetDefault("github.requests_per_second", 5.0)

	viper.SetDefault("scanner.repo_concurrency", 3)
	viper.SetDefault("scanner.file_concurrency", 8)
	viper.SetDefault("scanner.repo_timeout", 2*time.Minute)
	viper.SetDefault("scanner.default_max_hops", 2)
}

// Init points viper at the config file (or the working directory when none
// is given) and wires the APPLENS_ env prefix. Call once before Load.
func Init(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("applens")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("APPLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults, env vars and flags carry it.
	}
	return nil
}

// Load unmarshals the current viper state. Called after flag binding so
// flag overrides take effect.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
