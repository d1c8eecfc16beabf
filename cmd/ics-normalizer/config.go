package main

import (
	"log/slog"
	"os"
	"time"
)

type Config struct {
	port string

	logLevel slog.Level

	defaultTimezone string
	outputMode      string

	fetchTimeout time.Duration
	cacheTTL     time.Duration
}

func NewConfig() *Config {
	return &Config{
		port: func() string {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			slog.Debug("env", "PORT", port)
			return port
		}(),

		logLevel: func() slog.Level {
			var level slog.Level
			raw := os.Getenv("LOG_LEVEL")
			if raw == "" {
				return slog.LevelInfo
			}
			if err := level.UnmarshalText([]byte(raw)); err != nil {
				slog.Error("invalid LOG_LEVEL", "value", raw, "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "LOG_LEVEL", level)
			return level
		}(),

		defaultTimezone: func() string {
			tz := os.Getenv("DEFAULT_TIMEZONE")
			if tz == "" {
				slog.Warn("DEFAULT_TIMEZONE is not set, floating times resolve to UTC")
			}
			slog.Debug("env", "DEFAULT_TIMEZONE", tz)
			return tz
		}(),

		outputMode: func() string {
			mode := os.Getenv("OUTPUT_MODE")
			switch mode {
			case "":
				mode = "utc"
			case "utc", "canonical-tzid":
			default:
				slog.Error("invalid OUTPUT_MODE", "value", mode)
				os.Exit(1)
			}
			slog.Debug("env", "OUTPUT_MODE", mode)
			return mode
		}(),

		fetchTimeout: func() time.Duration {
			raw := os.Getenv("FETCH_TIMEOUT")
			if raw == "" {
				raw = "15s"
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				slog.Error("invalid FETCH_TIMEOUT", "value", raw, "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "FETCH_TIMEOUT", d)
			return d
		}(),

		cacheTTL: func() time.Duration {
			raw := os.Getenv("CACHE_TTL")
			if raw == "" {
				raw = "24h"
			}
			d, err := time.ParseDuration(raw)
			if err != nil {
				slog.Error("invalid CACHE_TTL", "value", raw, "error", err)
				os.Exit(1)
			}
			slog.Debug("env", "CACHE_TTL", d)
			return d
		}(),
	}
}

func (c *Config) GetPort() string { return c.port }

func (c *Config) GetLogLevel() slog.Level { return c.logLevel }

func (c *Config) GetDefaultTimezone() string { return c.defaultTimezone }

func (c *Config) GetOutputMode() string { return c.outputMode }

func (c *Config) GetFetchTimeout() time.Duration { return c.fetchTimeout }

func (c *Config) GetCacheTTL() time.Duration { return c.cacheTTL }
