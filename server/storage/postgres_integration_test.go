//go:build integration

package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestPostgresRegistry_Integration(t *testing.T) {
	WithPostgresRegistry(t, func(t *testing.T, reg *PostgresRegistry) {
		ctx := context.Background()

		t.Run("Empty", func(t *testing.T) {
			got, err := reg.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("List() = %v, want empty", got)
			}
		})

		t.Run("ReplaceKeepsOrder", func(t *testing.T) {
			in := []Printer{{Serial: "C", Name: "Gamma"}, {Serial: "A"}, {Serial: "B", Name: "Beta"}}
			if err := reg.Replace(ctx, in); err != nil {
				t.Fatalf("Replace: %v", err)
			}
			got, err := reg.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if fmt.Sprint(got) != fmt.Sprint(in) {
				t.Errorf("List() = %v, want %v", got, in)
			}
		})

		t.Run("UpsertRenamesInPlace", func(t *testing.T) {
			got, err := reg.Upsert(ctx, Printer{Serial: "A", Name: "Alpha"})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if len(got) != 3 || got[1] != (Printer{Serial: "A", Name: "Alpha"}) {
				t.Errorf("Upsert() = %v", got)
			}
			got, err = reg.Upsert(ctx, Printer{Serial: "D"})
			if err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			if len(got) != 4 || got[3].Serial != "D" {
				t.Errorf("Upsert() = %v, want D appended", got)
			}
		})

		t.Run("Remove", func(t *testing.T) {
			if err := reg.Remove(ctx, "C"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if err := reg.Remove(ctx, "C"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Remove() err = %v, want ErrNotFound", err)
			}
		})
	})
}
