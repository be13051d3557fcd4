// Package config loads and validates the application configuration from
// JSON or YAML files, with environment variable expansion.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration
type Config struct {
	Log     LogConfig     `json:"log" yaml:"log"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Cache   CacheConfig   `json:"cache" yaml:"cache"`
	Warming WarmingConfig `json:"warming" yaml:"warming"`
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Admin   AdminConfig   `json:"admin" yaml:"admin"`
}

// LogConfig controls structured logging output
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// NATSConfig is the durable store connection
type NATSConfig struct {
	URLs           []string `json:"urls" yaml:"urls"`
	Name           string   `json:"name,omitempty" yaml:"name,omitempty"`
	Token          string   `json:"token,omitempty" yaml:"token,omitempty"`
	Username       string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	MaxReconnects  int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
}

// CacheConfig tunes the cache manager
type CacheConfig struct {
	DefaultTTL      Duration `json:"default_ttl,omitempty" yaml:"default_ttl,omitempty"`
	CleanupInterval Duration `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty"`
	StatsInterval   Duration `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"`
	StoreTimeout    Duration `json:"store_timeout,omitempty" yaml:"store_timeout,omitempty"`
}

// WarmingConfig tunes the cache warmer
type WarmingConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	WarmOnStartup bool     `json:"warm_on_startup" yaml:"warm_on_startup"`
	TickInterval  Duration `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`
	RateLimit     float64  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RateBurst     int      `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`
}

// MonitorConfig tunes health evaluation
type MonitorConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	CheckInterval   Duration `json:"check_interval,omitempty" yaml:"check_interval,omitempty"`
	MinHitRate      float64  `json:"min_hit_rate,omitempty" yaml:"min_hit_rate,omitempty"`
	MaxResponseTime Duration `json:"max_response_time,omitempty" yaml:"max_response_time,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// AdminConfig controls the admin HTTP surface
type AdminConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address,omitempty" yaml:"address,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty" yaml:"path_prefix,omitempty"`
}

// Default returns the configuration used when a field is unset
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			URLs:           []string{"nats://localhost:4222"},
			Name:           "tiercache",
			ConnectTimeout: Duration(10 * time.Second),
			MaxReconnects:  -1,
		},
		Cache: CacheConfig{
			DefaultTTL:      Duration(5 * time.Minute),
			CleanupInterval: Duration(time.Minute),
			StatsInterval:   Duration(5 * time.Minute),
			StoreTimeout:    Duration(5 * time.Second),
		},
		Warming: WarmingConfig{
			Enabled:       true,
			WarmOnStartup: true,
			TickInterval:  Duration(time.Minute),
			RateLimit:     10,
			RateBurst:     2,
		},
		Monitor: MonitorConfig{
			Enabled:         true,
			CheckInterval:   Duration(time.Minute),
			MinHitRate:      70,
			MaxResponseTime: Duration(500 * time.Millisecond),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Admin: AdminConfig{
			Enabled:    true,
			Address:    ":8080",
			PathPrefix: "/admin",
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	for _, u := range c.NATS.URLs {
		if !strings.HasPrefix(u, "nats://") && !strings.HasPrefix(u, "tls://") {
			return fmt.Errorf("nats url %q must use nats:// or tls://", u)
		}
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
	}

	if c.Cache.DefaultTTL <= 0 {
		return errors.New("cache.default_ttl must be positive")
	}
	if c.Cache.CleanupInterval <= 0 {
		return errors.New("cache.cleanup_interval must be positive")
	}

	if c.Warming.Enabled {
		if c.Warming.TickInterval <= 0 {
			return errors.New("warming.tick_interval must be positive")
		}
		if c.Warming.RateLimit <= 0 {
			return errors.New("warming.rate_limit must be positive")
		}
	}

	if c.Monitor.Enabled {
		if c.Monitor.MinHitRate < 0 || c.Monitor.MinHitRate > 100 {
			return fmt.Errorf("monitor.min_hit_rate %.1f outside [0,100]", c.Monitor.MinHitRate)
		}
		if c.Monitor.MaxResponseTime <= 0 {
			return errors.New("monitor.max_response_time must be positive")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d outside [1,65535]", c.Metrics.Port)
	}
	if c.Admin.Enabled && c.Admin.Address == "" {
		return errors.New("admin.address is required when admin is enabled")
	}

	return nil
}

// applyDefaults fills unset fields from Default
func (c *Config) applyDefaults() {
	def := Default()

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if len(c.NATS.URLs) == 0 {
		c.NATS.URLs = def.NATS.URLs
	}
	if c.NATS.Name == "" {
		c.NATS.Name = def.NATS.Name
	}
	if c.NATS.ConnectTimeout == 0 {
		c.NATS.ConnectTimeout = def.NATS.ConnectTimeout
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = def.NATS.MaxReconnects
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = def.Cache.DefaultTTL
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = def.Cache.CleanupInterval
	}
	if c.Cache.StatsInterval == 0 {
		c.Cache.StatsInterval = def.Cache.StatsInterval
	}
	if c.Cache.StoreTimeout == 0 {
		c.Cache.StoreTimeout = def.Cache.StoreTimeout
	}
	if c.Warming.TickInterval == 0 {
		c.Warming.TickInterval = def.Warming.TickInterval
	}
	if c.Warming.RateLimit == 0 {
		c.Warming.RateLimit = def.Warming.RateLimit
	}
	if c.Warming.RateBurst == 0 {
		c.Warming.RateBurst = def.Warming.RateBurst
	}
	if c.Monitor.CheckInterval == 0 {
		c.Monitor.CheckInterval = def.Monitor.CheckInterval
	}
	if c.Monitor.MinHitRate == 0 {
		c.Monitor.MinHitRate = def.Monitor.MinHitRate
	}
	if c.Monitor.MaxResponseTime == 0 {
		c.Monitor.MaxResponseTime = def.Monitor.MaxResponseTime
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = def.Metrics.Port
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Admin.Address == "" {
		c.Admin.Address = def.Admin.Address
	}
	if c.Admin.PathPrefix == "" {
		c.Admin.PathPrefix = def.Admin.PathPrefix
	}
}

// Load reads, expands, and validates a configuration file. The format is
// chosen by extension: .json, .yaml, or .yml.
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand ${VAR} references so secrets stay out of config files
	data = []byte(os.ExpandEnv(string(data)))

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ToJSON renders the config for debugging
func (c *Config) ToJSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
