// Package config loads the playwarden TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/playwarden/playwarden/internal/logger"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	// DataDir is the root for runtime state: database, lock file, marker
	// file, and logs unless overridden. Defaults to a per-user directory.
	DataDir string `toml:"data_dir" mapstructure:"data_dir"`

	// TickInterval is the tracker/scheduler polling period.
	TickInterval time.Duration `toml:"tick_interval" mapstructure:"tick_interval"`

	// MetricsAddr, when non-empty, exposes the daemon's Prometheus
	// registry on that address.
	MetricsAddr string `toml:"metrics_addr" mapstructure:"metrics_addr"`

	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `toml:"addr" mapstructure:"addr"`

	// DSN selects the store backend: a sqlite path (default), a
	// sqlite://path URL, or a postgres:// URL.
	DSN string `toml:"dsn" mapstructure:"dsn"`

	CheckpointInterval time.Duration `toml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type SupervisorConfig struct {
	ReadyTimeout  time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
	ProbeInterval time.Duration `toml:"probe_interval" mapstructure:"probe_interval"`
	StopTimeout   time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
}

// HistoryConfig configures optional session archive sinks.
type HistoryConfig struct {
	// SQLitePath, when set, appends session events to a standalone
	// sqlite archive outside the main store.
	SQLitePath string `toml:"sqlite_path" mapstructure:"sqlite_path"`

	Clickhouse ClickhouseConfig `toml:"clickhouse" mapstructure:"clickhouse"`
}

type ClickhouseConfig struct {
	Addr     string `toml:"addr" mapstructure:"addr"`
	Database string `toml:"database" mapstructure:"database"`
	Table    string `toml:"table" mapstructure:"table"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
	NoColor    bool   `toml:"no_color" mapstructure:"no_color"`
}

// Default returns the built-in configuration, used when no file exists.
func Default() FileConfig {
	dataDir := defaultDataDir()
	return FileConfig{
		DataDir:      dataDir,
		TickInterval: time.Second,
		Server: ServerConfig{
			Addr:               "127.0.0.1:7913",
			DSN:                filepath.Join(dataDir, "playwarden.db"),
			CheckpointInterval: 60 * time.Second,
			ShutdownTimeout:    10 * time.Second,
		},
		Supervisor: SupervisorConfig{
			ReadyTimeout:  10 * time.Second,
			ProbeInterval: 250 * time.Millisecond,
			StopTimeout:   10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   filepath.Join(dataDir, "logs"),
		},
	}
}

func defaultDataDir() string {
	if d, err := os.UserConfigDir(); err == nil {
		return filepath.Join(d, "playwarden")
	}
	return ".playwarden"
}

// Load reads the TOML file at path, layering it over Default. A missing file
// is not an error when path is empty; an explicit path must exist.
func Load(path string) (FileConfig, error) {
	fc := Default()
	if path == "" {
		return fc, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) || os.IsNotExist(err) {
			return fc, fmt.Errorf("config file %s: %w", path, err)
		}
		return fc, err
	}
	if err := v.Unmarshal(&fc); err != nil {
		return fc, fmt.Errorf("config file %s: %w", path, err)
	}
	if fc.TickInterval <= 0 {
		return fc, fmt.Errorf("config file %s: tick_interval must be positive", path)
	}
	if fc.Server.Addr == "" {
		return fc, fmt.Errorf("config file %s: server.addr must not be empty", path)
	}
	return fc, nil
}

// LoggerConfig translates the log section for the logger package.
func (fc FileConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      fc.Log.Level,
		Dir:        fc.Log.Dir,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
		NoColor:    fc.Log.NoColor,
	}
}

// LockPath is the singleton lock file location.
func (fc FileConfig) LockPath() string {
	return filepath.Join(fc.DataDir, "server.lock")
}

// MarkerPath is the PID marker file location.
func (fc FileConfig) MarkerPath() string {
	return filepath.Join(fc.DataDir, "server.pid")
}

// BaseURL is the server API base URL derived from the listen address.
func (fc FileConfig) BaseURL() string {
	return "http://" + fc.Server.Addr
}
