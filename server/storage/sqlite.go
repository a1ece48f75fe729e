package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"bambuwatch/common/logger"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// SQLiteRegistry is the SQLite-backed Registry.
type SQLiteRegistry struct {
	BaseStore
	dbPath string
}

var _ Registry = (*SQLiteRegistry)(nil)

// NewSQLiteRegistry opens (or creates) the database at dbPath.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	// Ensure directory exists (unless in-memory)
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	connStr := dbPath
	if dbPath != ":memory:" {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	store := &SQLiteRegistry{
		BaseStore: BaseStore{db: db, dialect: sqliteDialect},
		dbPath:    dbPath,
	}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	registryLog(logger.INFO, "SQLite registry opened", "path", dbPath)
	return store, nil
}

// Path returns the database file path.
func (s *SQLiteRegistry) Path() string { return s.dbPath }
