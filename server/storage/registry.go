// Package storage persists the printer registry: the ordered list of printer
// serials the user tracks, each with an optional local display name.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bambuwatch/server/relayerr"
	"bambuwatch/server/status"
)

// ErrNotFound is returned by Remove when the serial is not registered.
var ErrNotFound = relayerr.ErrNotFound

// Printer is one registry entry.
type Printer struct {
	Serial string `json:"serial"`
	Name   string `json:"name"`
}

// UnmarshalJSON accepts either a bare serial string or {serial, name}.
func (p *Printer) UnmarshalJSON(data []byte) error {
	var serial string
	if err := json.Unmarshal(data, &serial); err == nil {
		*p = Printer{Serial: serial}
		return nil
	}
	var obj struct {
		Serial string `json:"serial"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("printer entry must be a serial string or an object: %w", err)
	}
	*p = Printer{Serial: obj.Serial, Name: obj.Name}
	return nil
}

// Registry stores printers in insertion order. Implementations are safe for
// concurrent use.
type Registry interface {
	// List returns all printers in order. An empty registry yields an empty slice.
	List(ctx context.Context) ([]Printer, error)
	// Replace overwrites the whole registry.
	Replace(ctx context.Context, printers []Printer) error
	// Upsert appends a printer, or renames it when the serial exists, and
	// returns the resulting list.
	Upsert(ctx context.Context, p Printer) ([]Printer, error)
	// Remove deletes a printer by serial, returning ErrNotFound if absent.
	Remove(ctx context.Context, serial string) error
	Close() error
}

// Normalize trims every entry, requires a serial and keeps the first
// occurrence of duplicate serials.
func Normalize(printers []Printer) ([]Printer, error) {
	out := make([]Printer, 0, len(printers))
	seen := make(map[string]bool, len(printers))
	for i, p := range printers {
		p.Serial = strings.TrimSpace(p.Serial)
		p.Name = strings.TrimSpace(p.Name)
		if p.Serial == "" {
			return nil, &relayerr.ValidationError{Field: "serial", Message: fmt.Sprintf("printer %d has no serial", i+1)}
		}
		if seen[p.Serial] {
			continue
		}
		seen[p.Serial] = true
		out = append(out, p)
	}
	return out, nil
}

// Registered converts registry entries to the normalizer's input form.
func Registered(printers []Printer) []status.RegisteredPrinter {
	out := make([]status.RegisteredPrinter, len(printers))
	for i, p := range printers {
		out[i] = status.RegisteredPrinter{Serial: p.Serial, Name: p.Name}
	}
	return out
}
