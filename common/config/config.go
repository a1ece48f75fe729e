// Package config provides shared configuration utilities for bambuwatch components
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// AppName is the directory name used for config, data and log locations.
const AppName = "bambuwatch"

// FindConfigFile searches for a config file in multiple platform-appropriate locations
// Returns the path and data if found, or an error if not found in any location
func FindConfigFile(filename string) (string, []byte, error) {
	for _, path := range GetConfigSearchPaths(filename) {
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}
	return "", nil, fmt.Errorf("%s not found in any search path", filename)
}

// GetConfigSearchPaths returns an ordered list of paths to search for config files
func GetConfigSearchPaths(filename string) []string {
	var searchPaths []string

	// 1. System directory (highest priority for services)
	switch runtime.GOOS {
	case "windows":
		searchPaths = append(searchPaths, filepath.Join(os.Getenv("ProgramData"), "BambuWatch", filename))
	case "darwin":
		searchPaths = append(searchPaths, filepath.Join("/Library/Application Support", "BambuWatch", filename))
	default:
		searchPaths = append(searchPaths, filepath.Join("/etc", AppName, filename))
	}

	// 2. User config directory
	if dir, err := os.UserConfigDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(dir, AppName, filename))
	}

	// 3. Executable directory
	if exePath, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(filepath.Dir(exePath), filename))
	}

	// 4. Current working directory (lowest priority)
	searchPaths = append(searchPaths, filepath.Join(".", filename))

	return searchPaths
}

// GetDataDirectory returns the directory for the printer registry and other state.
// Service installs use a system-wide location, interactive runs a per-user one.
func GetDataDirectory(isService bool) (string, error) {
	var dataDir string

	if isService {
		switch runtime.GOOS {
		case "windows":
			dataDir = filepath.Join(os.Getenv("ProgramData"), "BambuWatch")
		default:
			dataDir = filepath.Join("/var/lib", AppName)
		}
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not get user home directory: %w", err)
		}
		switch runtime.GOOS {
		case "windows":
			dataDir = filepath.Join(homeDir, "AppData", "Local", "BambuWatch")
		case "darwin":
			dataDir = filepath.Join(homeDir, "Library", "Application Support", "BambuWatch")
		default:
			dataDir = filepath.Join(homeDir, ".local", "share", AppName)
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}

// GetLogDirectory returns the appropriate directory for storing logs
func GetLogDirectory(isService bool) (string, error) {
	logDir := "logs"
	if isService {
		switch runtime.GOOS {
		case "windows":
			logDir = filepath.Join(os.Getenv("ProgramData"), "BambuWatch", "logs")
		default:
			logDir = filepath.Join("/var/log", AppName)
		}
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return logDir, nil
}

// WriteDefaultTOML writes a TOML configuration file with the provided structure.
// An existing file is never overwritten.
func WriteDefaultTOML(configPath string, config interface{}) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("config file %s already exists", configPath)
		}
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadTOML loads a TOML configuration file into the provided structure
func LoadTOML(configPath string, config interface{}) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}

	md, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// DatabaseConfig selects and locates the printer registry backend.
type DatabaseConfig struct {
	Driver string `toml:"driver"` // json (default), sqlite, postgres
	Path   string `toml:"path"`   // file path for json and sqlite
	DSN    string `toml:"dsn"`    // connection string for postgres
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`  // Rotate the active file at this size, 0 disables rotation
	MaxAgeDays int    `toml:"max_age_days"` // Rotated files older than this are removed
	MaxFiles   int    `toml:"max_files"`    // Rotated files kept
}

// GetEnvPrefixed returns PREFIX_NAME when set, falling back to NAME.
func GetEnvPrefixed(prefix, name string) string {
	if prefix != "" {
		if v := os.Getenv(prefix + "_" + name); v != "" {
			return v
		}
	}
	return os.Getenv(name)
}

// ResolveConfigPath picks the config file location: PREFIX_CONFIG, PREFIX_CONFIG_PATH,
// CONFIG, CONFIG_PATH, then the flag value.
func ResolveConfigPath(prefix, flagValue string) string {
	for _, name := range []string{"CONFIG", "CONFIG_PATH"} {
		if v := GetEnvPrefixed(prefix, name); v != "" {
			return v
		}
	}
	return flagValue
}

// ApplyDatabaseEnvOverrides applies database environment variable overrides and
// returns the config keys that were set.
// Prefixed variables (e.g. BAMBUWATCH_DB_PATH) win over generic ones.
func ApplyDatabaseEnvOverrides(cfg *DatabaseConfig, prefix string) []string {
	var set []string
	lookup := func(name string) string { return GetEnvPrefixed(prefix, name) }
	if val := lookup("DB_DRIVER"); val != "" {
		cfg.Driver = strings.ToLower(val)
		set = append(set, "database.driver")
	}
	if val := lookup("DB_PATH"); val != "" {
		cfg.Path = val
		set = append(set, "database.path")
	}
	if val := lookup("DB_DSN"); val != "" {
		cfg.DSN = val
		set = append(set, "database.dsn")
	}
	return set
}

// ApplyLoggingEnvOverrides applies LOG_LEVEL and the LOG_MAX_* rotation
// variables and returns the config keys that were set. Unparsable numbers
// are ignored.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig, prefix string) []string {
	var set []string
	if val := GetEnvPrefixed(prefix, "LOG_LEVEL"); val != "" {
		cfg.Level = strings.ToLower(strings.TrimSpace(val))
		set = append(set, "logging.level")
	}
	for _, v := range []struct {
		name, key string
		dst       *int
	}{
		{"LOG_MAX_SIZE_MB", "logging.max_size_mb", &cfg.MaxSizeMB},
		{"LOG_MAX_AGE_DAYS", "logging.max_age_days", &cfg.MaxAgeDays},
		{"LOG_MAX_FILES", "logging.max_files", &cfg.MaxFiles},
	} {
		val := GetEnvPrefixed(prefix, v.name)
		if val == "" {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*v.dst = n
			set = append(set, v.key)
		}
	}
	return set
}
