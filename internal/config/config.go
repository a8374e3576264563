// Package config holds the application configuration: defaults, optional
// YAML file, and TSDIFF_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Engine  EngineConfig  `yaml:"engine" json:"engine"`
	Session SessionConfig `yaml:"session" json:"session"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr" json:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// WatchConfig holds streaming-detector configuration
type WatchConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" json:"poll_interval"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" json:"inactivity_timeout"`
}

// EngineConfig holds computation-core tunables
type EngineConfig struct {
	MaxShift      float64       `yaml:"max_shift" json:"max_shift"`
	CacheCapacity int           `yaml:"cache_capacity" json:"cache_capacity"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// SessionConfig holds session store configuration
type SessionConfig struct {
	Path             string `yaml:"path" json:"path"`
	CompressionLevel int    `yaml:"compression_level" json:"compression_level"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8750",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Watch: WatchConfig{
			PollInterval:      time.Second,
			InactivityTimeout: 5 * time.Minute,
		},
		Engine: EngineConfig{
			MaxShift:      5.0,
			CacheCapacity: 256,
			CacheTTL:      10 * time.Minute,
		},
		Session: SessionConfig{
			Path:             "./data",
			CompressionLevel: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies TSDIFF_* environment overrides
func (c *Config) applyEnv() {
	c.Server.ListenAddr = getEnv("TSDIFF_LISTEN_ADDR", c.Server.ListenAddr)
	c.Watch.PollInterval = getEnvDuration("TSDIFF_POLL_INTERVAL", c.Watch.PollInterval)
	c.Watch.InactivityTimeout = getEnvDuration("TSDIFF_INACTIVITY_TIMEOUT", c.Watch.InactivityTimeout)
	c.Engine.MaxShift = getEnvFloat("TSDIFF_MAX_SHIFT", c.Engine.MaxShift)
	c.Engine.CacheCapacity = getEnvInt("TSDIFF_CACHE_CAPACITY", c.Engine.CacheCapacity)
	c.Session.Path = getEnv("TSDIFF_SESSION_PATH", c.Session.Path)
	c.Session.CompressionLevel = getEnvInt("TSDIFF_COMPRESSION_LEVEL", c.Session.CompressionLevel)
	c.Log.Level = getEnv("TSDIFF_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("TSDIFF_LOG_FORMAT", c.Log.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Watch.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Engine.MaxShift <= 0 {
		return fmt.Errorf("max shift must be positive")
	}
	if c.Engine.CacheCapacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1")
	}
	if c.Session.Path == "" {
		return fmt.Errorf("session path is required")
	}
	if c.Session.CompressionLevel < 1 || c.Session.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json")
	}
	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatVal float64
		if _, err := fmt.Sscanf(value, "%g", &floatVal); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
