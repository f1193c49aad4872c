// Package logging builds the zerolog logger used across the backtester:
// a colored console stream plus an optional rotating log file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "optionslab", "logs", "optionslab.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

var consoleLevels = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
}

// NewLoggerWithConfig builds the logger for the given configuration and
// sets the global level.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				if ll, ok := i.(string); ok {
					if colored, ok := consoleLevels[ll]; ok {
						return colored
					}
					return ll
				}
				return "???"
			},
		})
	}

	if cfg.File {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var out io.Writer = os.Stdout
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithStrategy adds a strategy name to the logger context.
func WithStrategy(logger zerolog.Logger, strategy string) zerolog.Logger {
	return logger.With().Str("strategy", strategy).Logger()
}

// WithTradeID adds a trade id to the logger context.
func WithTradeID(logger zerolog.Logger, tradeID int64) zerolog.Logger {
	return logger.With().Int64("trade_id", tradeID).Logger()
}
