package db

import (
	"fmt"
	"path/filepath"
	"strings"

	"bambuwatch/common/config"
)

// Registry backend kinds.
const (
	KindJSON     = "json"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Default file names inside the data directory.
const (
	DefaultJSONFile   = "printers.json"
	DefaultSQLiteFile = "bambuwatch.db"
)

// DriverConfig contains a normalized backend kind, the database/sql driver
// name (empty for the JSON file) and the DSN or file path.
type DriverConfig struct {
	Kind string
	Name string // driver name to pass to database/sql ("sqlite", "pgx")
	DSN  string // file path or connection string
}

// ChooseDriverFromConfig normalizes the [database] section. Driver aliases
// are accepted case-insensitively; relative or empty file paths resolve
// inside dataDir.
func ChooseDriverFromConfig(cfg config.DatabaseConfig, dataDir string) (DriverConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	switch driver {
	case "", "json", "file", "flatfile":
		return DriverConfig{Kind: KindJSON, DSN: resolvePath(cfg.Path, dataDir, DefaultJSONFile)}, nil
	case "sqlite", "sqlite3", "modernc", "modernc-sqlite":
		dsn := resolvePath(cfg.Path, dataDir, DefaultSQLiteFile)
		if strings.TrimSpace(cfg.Path) == ":memory:" {
			dsn = ":memory:"
		}
		return DriverConfig{Kind: KindSQLite, Name: "sqlite", DSN: dsn}, nil
	case "postgres", "postgresql", "pgx", "pg":
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return DriverConfig{}, fmt.Errorf("database.dsn is required for driver %q", cfg.Driver)
		}
		return DriverConfig{Kind: KindPostgres, Name: "pgx", DSN: dsn}, nil
	default:
		return DriverConfig{}, fmt.Errorf("unsupported database driver %q (want json, sqlite or postgres)", cfg.Driver)
	}
}

func resolvePath(path, dataDir, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) || dataDir == "" {
		return path
	}
	return filepath.Join(dataDir, path)
}
