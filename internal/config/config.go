// Package config loads fieldsync configuration from a YAML file and
// FIELDSYNC_* environment variables, with environment taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full fieldsync configuration.
type Config struct {
	// DBPath is the SQLite file holding the outbox queue.
	DBPath string `mapstructure:"db_path"`

	API     APIConfig     `mapstructure:"api"`
	Trigger TriggerConfig `mapstructure:"trigger"`
	Drain   DrainConfig   `mapstructure:"drain"`
	Spool   SpoolConfig   `mapstructure:"spool"`

	Dashboard DashboardConfig `mapstructure:"dashboard"`

	Log LogConfig `mapstructure:"log"`
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`

	// ProbeInterval is the backend reachability probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// TriggerConfig tunes the sync trigger manager.
type TriggerConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DrainConfig tunes the replay worker.
type DrainConfig struct {
	Interval time.Duration `mapstructure:"interval"`

	// RetainSucceeded is how long confirmed items stay visible before
	// pruning.
	RetainSucceeded time.Duration `mapstructure:"retain_succeeded"`
}

// SpoolConfig tunes the signature capture watcher.
type SpoolConfig struct {
	// Dir is the directory the capture layer drops signature JSON into.
	// Empty disables the watcher.
	Dir string `mapstructure:"dir"`

	Debounce time.Duration `mapstructure:"debounce"`
}

// DashboardConfig tunes the local monitoring server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig tunes file logging for the daemon.
type LogConfig struct {
	// File is the log file path. Empty logs to stderr only.
	File string `mapstructure:"file"`

	// MaxSizeMB is the rotation threshold.
	MaxSizeMB int `mapstructure:"max_size_mb"`

	// MaxBackups is how many rotated files to keep.
	MaxBackups int `mapstructure:"max_backups"`
}

// Load reads configuration from the given file (optional; empty searches
// the working directory and ~/.fieldsync) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", "fieldsync.db")
	v.SetDefault("api.probe_interval", 15*time.Second)
	v.SetDefault("trigger.debounce", time.Second)
	v.SetDefault("trigger.cooldown", 12*time.Second)
	v.SetDefault("drain.interval", 5*time.Second)
	v.SetDefault("drain.retain_succeeded", 24*time.Hour)
	v.SetDefault("spool.debounce", 200*time.Millisecond)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8483)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fieldsync")
		if err := v.ReadInConfig(); err != nil {
			// Missing file is fine; defaults and env apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}
