package storage

import (
	"context"
	"database/sql"
	"fmt"

	"bambuwatch/common/logger"
)

// BaseStore implements Registry over database/sql for both SQLite and PostgreSQL.
type BaseStore struct {
	db      *sql.DB
	dialect dialect
}

// Close closes the database connection.
func (s *BaseStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// schema returns the printers table DDL for the store's dialect.
func (s *BaseStore) schema() string {
	d := s.dialect
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS printers (
		serial TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		position %[1]s NOT NULL,
		created_at %[2]s NOT NULL DEFAULT %[3]s,
		updated_at %[2]s NOT NULL DEFAULT %[3]s
	)`, d.posType, d.timeType, d.now)
}

func (s *BaseStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.schema()); err != nil {
		return fmt.Errorf("failed to create printers table: %w", err)
	}
	return nil
}

// List returns all printers ordered by insertion position.
func (s *BaseStore) List(ctx context.Context) ([]Printer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT serial, name FROM printers ORDER BY position, serial`)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	printers := []Printer{}
	for rows.Next() {
		var p Printer
		if err := rows.Scan(&p.Serial, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

// Replace overwrites the registry inside one transaction.
func (s *BaseStore) Replace(ctx context.Context, printers []Printer) error {
	normalized, err := Normalize(printers)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM printers`); err != nil {
		return fmt.Errorf("failed to clear printers: %w", err)
	}
	insert := s.dialect.bind(`INSERT INTO printers (serial, name, position) VALUES (?, ?, ?)`)
	for i, p := range normalized {
		if _, err := tx.ExecContext(ctx, insert, p.Serial, p.Name, i); err != nil {
			return fmt.Errorf("failed to insert printer %s: %w", p.Serial, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit printers: %w", err)
	}
	registryLog(logger.INFO, "Registry replaced", "backend", s.dialect.name, "printers", len(normalized))
	return nil
}

// Upsert appends the printer at the end, or renames it in place.
func (s *BaseStore) Upsert(ctx context.Context, p Printer) ([]Printer, error) {
	entry, err := Normalize([]Printer{p})
	if err != nil {
		return nil, err
	}
	p = entry[0]

	q := s.dialect.bind(fmt.Sprintf(`INSERT INTO printers (serial, name, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM printers))
		%s name = excluded.name, updated_at = %s`,
		s.dialect.onConflict("serial"), s.dialect.now))
	if _, err := s.db.ExecContext(ctx, q, p.Serial, p.Name); err != nil {
		return nil, fmt.Errorf("failed to upsert printer %s: %w", p.Serial, err)
	}
	return s.List(ctx)
}

// Remove deletes one printer.
func (s *BaseStore) Remove(ctx context.Context, serial string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.bind(`DELETE FROM printers WHERE serial = ?`), serial)
	if err != nil {
		return fmt.Errorf("failed to remove printer %s: %w", serial, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove printer %s: %w", serial, err)
	}
	if n == 0 {
		registryLog(logger.WARN, "Printer not in registry", "backend", s.dialect.name, "serial", serial)
		return ErrNotFound
	}
	return nil
}
