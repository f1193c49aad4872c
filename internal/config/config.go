// Package config provides configuration management for the backtester.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Backtest BacktestConfig `mapstructure:"backtest"`
	Market   MarketConfig   `mapstructure:"market"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BacktestConfig holds the default trade management settings. CLI
// flags override any of these.
type BacktestConfig struct {
	DBPath        string `mapstructure:"db_path"`
	MaxOpenTrades int    `mapstructure:"max_open_trades"`
}

// MarketConfig holds external market-data settings.
type MarketConfig struct {
	// DataDir holds the daily bar CSVs used for indicators.
	DataDir string `mapstructure:"data_dir"`
	// Underlying names the bar CSV used for RSI, e.g. "SPY".
	Underlying string `mapstructure:"underlying"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/optionslab"
	}
	return filepath.Join(home, ".config", "optionslab")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("backtest.max_open_trades", 99)
	v.SetDefault("market.underlying", "SPY")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "optionslab.log"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// First run: drop a template and continue on defaults.
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config.toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Backtest.MaxOpenTrades < 1 {
		return fmt.Errorf("max_open_trades must be at least 1")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
