package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bambuwatch/common/logger"
)

// JSONRegistry keeps the registry in a single JSON array file, the layout the
// web relays have always used. Entries may be bare serial strings.
type JSONRegistry struct {
	mu   sync.RWMutex
	path string
}

var _ Registry = (*JSONRegistry)(nil)

// NewJSONRegistry returns a registry backed by path. The file and its
// directory are created on first write; a missing file reads as empty.
func NewJSONRegistry(path string) (*JSONRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("json registry: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	return &JSONRegistry{path: path}, nil
}

// Path returns the backing file.
func (r *JSONRegistry) Path() string { return r.path }

func (r *JSONRegistry) List(ctx context.Context) ([]Printer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load()
}

func (r *JSONRegistry) Replace(ctx context.Context, printers []Printer) error {
	normalized, err := Normalize(printers)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(normalized)
}

func (r *JSONRegistry) Upsert(ctx context.Context, p Printer) ([]Printer, error) {
	entry, err := Normalize([]Printer{p})
	if err != nil {
		return nil, err
	}
	p = entry[0]

	r.mu.Lock()
	defer r.mu.Unlock()
	printers, err := r.load()
	if err != nil {
		return nil, err
	}
	printers = upsertInto(printers, p)
	if err := r.save(printers); err != nil {
		return nil, err
	}
	return printers, nil
}

func (r *JSONRegistry) Remove(ctx context.Context, serial string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	printers, err := r.load()
	if err != nil {
		return err
	}
	kept := printers[:0]
	for _, p := range printers {
		if p.Serial != serial {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(printers) {
		return ErrNotFound
	}
	return r.save(kept)
}

func (r *JSONRegistry) Close() error { return nil }

func (r *JSONRegistry) load() ([]Printer, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Printer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Printer{}, nil
	}
	var printers []Printer
	if err := json.Unmarshal(data, &printers); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", r.path, err)
	}
	if printers == nil {
		printers = []Printer{}
	}
	return printers, nil
}

// save writes through a temp file and rename so readers never see a partial file.
func (r *JSONRegistry) save(printers []Printer) error {
	if printers == nil {
		printers = []Printer{}
	}
	data, err := json.MarshalIndent(printers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".printers-*.json")
	if err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	registryLog(logger.DEBUG, "Registry saved", "path", r.path, "printers", len(printers))
	return nil
}

func upsertInto(printers []Printer, p Printer) []Printer {
	for i := range printers {
		if printers[i].Serial == p.Serial {
			printers[i].Name = p.Name
			return printers
		}
	}
	return append(printers, p)
}
