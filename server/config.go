package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"bambuwatch/common/config"
	"bambuwatch/common/logger"
	"bambuwatch/server/auth"
	"bambuwatch/server/status"
)

const envPrefix = "BAMBUWATCH"

// ConfigSourceTracker records which keys were set by environment variables.
type ConfigSourceTracker struct {
	EnvKeys map[string]bool // Keys that were set via environment variables
}

func newConfigSourceTracker() *ConfigSourceTracker {
	return &ConfigSourceTracker{
		EnvKeys: make(map[string]bool),
	}
}

// Keys returns the env-sourced config keys in sorted order.
func (t *ConfigSourceTracker) Keys() []string {
	if t == nil {
		return nil
	}
	keys := make([]string, 0, len(t.EnvKeys))
	for k := range t.EnvKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Config represents the relay configuration
type Config struct {
	Server   ServerConfig          `toml:"server"`
	Cloud    CloudConfig           `toml:"cloud"`
	Status   StatusConfig          `toml:"status"`
	Database config.DatabaseConfig `toml:"database"`
	Logging  config.LoggingConfig  `toml:"logging"`
	MQTT     MQTTConfig            `toml:"mqtt"`
}

// ServerConfig holds HTTP listener and session settings
type ServerConfig struct {
	HTTPPort               int      `toml:"http_port"`
	BindAddress            string   `toml:"bind_address"`   // Address to bind to (default: 0.0.0.0 for all interfaces)
	SessionSecret          string   `toml:"session_secret"` // Empty = random per process; sessions do not survive restarts
	CookieName             string   `toml:"cookie_name"`
	CookieSecure           bool     `toml:"cookie_secure"`
	SessionMaxAgeHours     int      `toml:"session_max_age_hours"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `toml:"allowed_origins"` // Websocket origins; empty = same origin only
}

// CloudConfig holds upstream printer cloud settings
type CloudConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
	VerifyKey      string `toml:"verify_key"`    // auto, ticket or account
	ForceRefresh   bool   `toml:"force_refresh"` // Adds force=true to the print job query
}

// StatusConfig tunes status normalization
type StatusConfig struct {
	Locale              string `toml:"locale"`
	RemainingStrategy   string `toml:"remaining_strategy"` // seconds or scaled
	IncludeBoundDevices bool   `toml:"include_bound_devices"`
}

// MQTTConfig enables the push data source
type MQTTConfig struct {
	Enabled               bool     `toml:"enabled"`
	Broker                string   `toml:"broker"`
	Username              string   `toml:"username"`
	Password              string   `toml:"password"`
	ClientID              string   `toml:"client_id"`
	Serials               []string `toml:"serials"`
	InsecureSkipVerify    bool     `toml:"insecure_skip_verify"`
	ConnectTimeoutSeconds int      `toml:"connect_timeout_seconds"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:               8080,
			BindAddress:            "0.0.0.0",
			CookieName:             "bambuwatch_session",
			SessionMaxAgeHours:     720,
			ShutdownTimeoutSeconds: 15,
			AllowedOrigins:         []string{},
		},
		Cloud: CloudConfig{
			BaseURL:        "https://api.bambulab.com",
			TimeoutSeconds: 20,
			UserAgent:      "bambuwatch/1.0",
			VerifyKey:      string(auth.VerifyKeyAuto),
		},
		Status: StatusConfig{
			Locale:            status.DefaultLocale,
			RemainingStrategy: "seconds",
		},
		Database: config.DatabaseConfig{
			Driver: "json",
			Path:   "", // Empty = printers.json in the platform data directory
		},
		Logging: config.LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxAgeDays: 7,
			MaxFiles:   10,
		},
		MQTT: MQTTConfig{
			Broker:                "ssl://us.mqtt.bambulab.com:8883",
			Username:              "bblp",
			Serials:               []string{},
			ConnectTimeoutSeconds: 15,
		},
	}
}

// LoadConfig loads configuration from TOML file with environment variable overrides.
// Returns the config and a tracker indicating which keys were set by environment variables.
func LoadConfig(configPath string) (*Config, *ConfigSourceTracker, error) {
	cfg := DefaultConfig()
	tracker := newConfigSourceTracker()

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if err := config.LoadTOML(configPath, cfg); err != nil {
			return nil, nil, err
		}
	}

	env := func(name string) string { return config.GetEnvPrefixed(envPrefix, name) }
	setInt := func(name, key string, dst *int) {
		if val := env(name); val != "" {
			if v, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				*dst = v
				tracker.EnvKeys[key] = true
			}
		}
	}
	setBool := func(name, key string, dst *bool) {
		if val := env(name); val != "" {
			*dst = val == "true" || val == "1"
			tracker.EnvKeys[key] = true
		}
	}
	setString := func(name, key string, dst *string) {
		if val := env(name); val != "" {
			*dst = val
			tracker.EnvKeys[key] = true
		}
	}

	setInt("HTTP_PORT", "server.http_port", &cfg.Server.HTTPPort)
	setString("BIND_ADDRESS", "server.bind_address", &cfg.Server.BindAddress)
	setString("SESSION_SECRET", "server.session_secret", &cfg.Server.SessionSecret)
	setBool("COOKIE_SECURE", "server.cookie_secure", &cfg.Server.CookieSecure)

	setString("CLOUD_BASE_URL", "cloud.base_url", &cfg.Cloud.BaseURL)
	setInt("CLOUD_TIMEOUT_SECONDS", "cloud.timeout_seconds", &cfg.Cloud.TimeoutSeconds)
	setString("CLOUD_VERIFY_KEY", "cloud.verify_key", &cfg.Cloud.VerifyKey)

	setString("STATUS_LOCALE", "status.locale", &cfg.Status.Locale)
	setString("REMAINING_STRATEGY", "status.remaining_strategy", &cfg.Status.RemainingStrategy)

	setBool("MQTT_ENABLED", "mqtt.enabled", &cfg.MQTT.Enabled)
	setString("MQTT_BROKER", "mqtt.broker", &cfg.MQTT.Broker)
	setString("MQTT_USERNAME", "mqtt.username", &cfg.MQTT.Username)
	setString("MQTT_PASSWORD", "mqtt.password", &cfg.MQTT.Password)
	if val := env("MQTT_SERIALS"); val != "" {
		cfg.MQTT.Serials = splitList(val)
		tracker.EnvKeys["mqtt.serials"] = true
	}

	for _, key := range config.ApplyLoggingEnvOverrides(&cfg.Logging, envPrefix) {
		tracker.EnvKeys[key] = true
	}
	for _, key := range config.ApplyDatabaseEnvOverrides(&cfg.Database, envPrefix) {
		tracker.EnvKeys[key] = true
	}

	return cfg, tracker, nil
}

// Validate checks values that would otherwise fail later at wiring time.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if _, err := auth.ParseVerifyKey(c.Cloud.VerifyKey); err != nil {
		return fmt.Errorf("cloud.verify_key: %w", err)
	}
	if _, err := status.ParseRemainingStrategy(c.Status.RemainingStrategy); err != nil {
		return fmt.Errorf("status.remaining_strategy: %w", err)
	}
	if c.Status.Locale != "" && !status.SupportedLocale(c.Status.Locale) {
		return fmt.Errorf("status.locale: unsupported locale %q", c.Status.Locale)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxAgeDays < 0 || c.Logging.MaxFiles < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if c.MQTT.Enabled && len(splitList(strings.Join(c.MQTT.Serials, ","))) == 0 {
		return fmt.Errorf("mqtt.serials: at least one serial is required when mqtt is enabled")
	}
	return nil
}

// CloudTimeout returns the upstream call bound.
func (c *Config) CloudTimeout() time.Duration {
	if c.Cloud.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Cloud.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// SessionMaxAge returns the idle lifetime of a session.
func (c *Config) SessionMaxAge() time.Duration {
	if c.Server.SessionMaxAgeHours <= 0 {
		return 720 * time.Hour
	}
	return time.Duration(c.Server.SessionMaxAgeHours) * time.Hour
}

// LogRotation maps the logging section onto the logger's rotation policy.
// A zero max_size_mb turns rotation off.
func (c *Config) LogRotation() logger.RotationPolicy {
	return logger.RotationPolicy{
		Enabled:    c.Logging.MaxSizeMB > 0,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxAgeDays: c.Logging.MaxAgeDays,
		MaxFiles:   c.Logging.MaxFiles,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// WriteDefaultConfig writes a default configuration file
func WriteDefaultConfig(configPath string) error {
	cfg := DefaultConfig()
	return config.WriteDefaultTOML(configPath, cfg)
}
