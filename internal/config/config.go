// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/syncwell/syncd/internal/domain"
)

const (
	DefaultOfflineThreshold = 7 * 24 * time.Hour
	DefaultRemovalThreshold = 30 * 24 * time.Hour
	DefaultSweepInterval    = 4 * time.Hour
)

type AppConfig struct {
	Config *domain.Config

	viper *viper.Viper
	mu    sync.RWMutex
}

// New loads configuration from the given directory (or direct path to a
// .toml file), creating a default config file if none exists.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "0.0.0.0")
	c.viper.SetDefault("port", 7474)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("httpTimeouts.readTimeout", 60)
	c.viper.SetDefault("httpTimeouts.writeTimeout", 120)
	c.viper.SetDefault("httpTimeouts.idleTimeout", 180)
	c.viper.SetDefault("sweeper.offlineThreshold", "168h")
	c.viper.SetDefault("sweeper.removalThreshold", "720h")
	c.viper.SetDefault("sweeper.sweepInterval", "4h")
	c.viper.SetDefault("sweeper.dailySweepHour", 3)
	c.viper.SetDefault("smtp.port", 587)
	c.viper.SetDefault("pipeline.requiredArtifacts", []string{"installer-windows", "installer-macos", "installer-linux"})
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetEnvPrefix("SYNCD")
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	c.viper.AutomaticEnv()

	if configPath != "" {
		if strings.HasSuffix(configPath, ".toml") {
			c.viper.SetConfigFile(configPath)
		} else {
			c.viper.AddConfigPath(configPath)
			c.viper.SetConfigName("config")
			c.viper.SetConfigType("toml")
		}
	} else {
		dir, err := DefaultConfigDir()
		if err != nil {
			return err
		}
		c.viper.AddConfigPath(dir)
		c.viper.SetConfigName("config")
		c.viper.SetConfigType("toml")
	}

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			if err := c.writeDefaultConfig(configPath); err != nil {
				return err
			}
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config after writing defaults: %w", err)
			}
		} else {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

func (c *AppConfig) writeDefaultConfig(configPath string) error {
	var file string
	switch {
	case configPath == "":
		dir, err := DefaultConfigDir()
		if err != nil {
			return err
		}
		file = filepath.Join(dir, "config.toml")
	case strings.HasSuffix(configPath, ".toml"):
		file = configPath
	default:
		file = filepath.Join(configPath, "config.toml")
	}

	if _, err := os.Stat(file); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(file, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	c.viper.SetConfigFile(file)

	log.Info().Str("path", file).Msg("Wrote default config file")
	return nil
}

// WriteDefault writes a default config file without loading it. Used by the
// generate-config command.
func WriteDefault(configPath string) (string, error) {
	var file string
	switch {
	case configPath == "":
		dir, err := DefaultConfigDir()
		if err != nil {
			return "", err
		}
		file = filepath.Join(dir, "config.toml")
	case strings.HasSuffix(configPath, ".toml"):
		file = configPath
	default:
		file = filepath.Join(configPath, "config.toml")
	}

	if _, err := os.Stat(file); err == nil {
		return file, fmt.Errorf("config file already exists: %s", file)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(file, []byte(defaultConfigTemplate), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}

	return file, nil
}

// DefaultConfigDir returns the OS-specific default config directory.
func DefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user config directory: %w", err)
	}
	return filepath.Join(base, "syncd"), nil
}

func (c *AppConfig) watchConfig() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Debug().Str("file", e.Name).Msg("Config file changed, reloading")

		if err := c.reload(); err != nil {
			log.Error().Err(err).Msg("Failed to reload config")
			return
		}

		c.ApplyLogConfig()
		log.Info().Msg("Config reloaded")
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viper.Unmarshal(c.Config)
}

// ApplyLogConfig applies the configured log level and output.
func (c *AppConfig) ApplyLogConfig() {
	c.mu.RLock()
	level := c.Config.LogLevel
	logPath := c.Config.LogPath
	c.mu.RUnlock()

	switch strings.ToUpper(level) {
	case "TRACE":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Error().Err(err).Str("path", logPath).Msg("Failed to open log file, logging to stderr")
			return
		}
		log.Logger = log.Output(f)
	}
}

// GetDatabasePath returns the sqlite database path, honoring dataDir.
func (c *AppConfig) GetDatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, "syncd.db")
	}

	if used := c.viper.ConfigFileUsed(); used != "" {
		return filepath.Join(filepath.Dir(used), "syncd.db")
	}

	return "./data/syncd.db"
}

// OfflineThreshold returns how long a device may go unseen before it enters
// the grace period.
func (c *AppConfig) OfflineThreshold() time.Duration {
	c.mu.RLock()
	raw := c.Config.Sweeper.OfflineThreshold
	c.mu.RUnlock()
	return parseDuration(raw, DefaultOfflineThreshold)
}

// RemovalThreshold returns how long a device may go unseen before removal.
func (c *AppConfig) RemovalThreshold() time.Duration {
	c.mu.RLock()
	raw := c.Config.Sweeper.RemovalThreshold
	c.mu.RUnlock()
	return parseDuration(raw, DefaultRemovalThreshold)
}

// SweepInterval returns the cadence of the frequent sweeper schedule.
func (c *AppConfig) SweepInterval() time.Duration {
	c.mu.RLock()
	raw := c.Config.Sweeper.SweepInterval
	c.mu.RUnlock()
	return parseDuration(raw, DefaultSweepInterval)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("value", raw).Msg("Invalid duration in config, using default")
		return fallback
	}
	return d
}

// DailySweepHour returns the hour of day (0-23) for the daily sweep pass.
func (c *AppConfig) DailySweepHour() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.Config.Sweeper.DailySweepHour
	if h < 0 || h > 23 {
		return 3
	}
	return h
}

// OperatorEmail returns the optional operator address for sweep summaries.
func (c *AppConfig) OperatorEmail() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config.Sweeper.OperatorEmail
}

const defaultConfigTemplate = `# syncd configuration

# Address to bind the HTTP server to
host = "0.0.0.0"
port = 7474

# Optional base URL when served behind a reverse proxy sub-path
#baseUrl = "/syncd/"

# Log level: TRACE, DEBUG, INFO, WARN, ERROR
logLevel = "INFO"

# Optional log file path (default: stderr)
#logPath = "/var/log/syncd.log"

# Optional data directory for the database (default: next to this file)
#dataDir = "/var/lib/syncd"

# Shared secret expected in the X-Webhook-Secret header on subscription webhooks
webhookSecret = ""

[sweeper]
# Devices unseen for longer than this enter the grace period
offlineThreshold = "168h"
# Devices unseen for longer than this are removed
removalThreshold = "720h"
# Cadence of the frequent sweep schedule
sweepInterval = "4h"
# Hour of day (0-23) for the daily sweep pass
dailySweepHour = 3
# Optional operator address for sweep summary mails
#operatorEmail = "ops@example.com"

[smtp]
# Leave host empty to disable outbound mail
host = ""
port = 587
username = ""
password = ""
from = "syncd <noreply@example.com>"

[pipeline]
# Build pipeline dispatch endpoint; leave empty to disable build triggers
url = ""
token = ""
requiredArtifacts = ["installer-windows", "installer-macos", "installer-linux"]
`
