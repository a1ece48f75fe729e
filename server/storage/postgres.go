package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bambuwatch/common/logger"

	// Import postgres driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresRegistry is the PostgreSQL-backed Registry.
type PostgresRegistry struct {
	BaseStore
}

var _ Registry = (*PostgresRegistry)(nil)

// NewPostgresRegistry connects with the given DSN and creates the schema.
func NewPostgresRegistry(dsn string) (*PostgresRegistry, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("invalid database configuration: postgres requires a dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresRegistry{BaseStore: BaseStore{db: db, dialect: postgresDialect}}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	registryLog(logger.INFO, "PostgreSQL registry connected")
	return store, nil
}
