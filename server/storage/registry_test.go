package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"bambuwatch/common/config"
	"bambuwatch/server/relayerr"
)

// registryFactories lists the backends every behavioural test runs against.
func registryFactories() map[string]func(t *testing.T) Registry {
	return map[string]func(t *testing.T) Registry{
		"json": func(t *testing.T) Registry {
			r, err := NewJSONRegistry(filepath.Join(t.TempDir(), "data", "printers.json"))
			if err != nil {
				t.Fatalf("NewJSONRegistry: %v", err)
			}
			return r
		},
		"sqlite": func(t *testing.T) Registry {
			r, err := NewSQLiteRegistry(":memory:")
			if err != nil {
				t.Fatalf("NewSQLiteRegistry: %v", err)
			}
			t.Cleanup(func() { r.Close() })
			return r
		},
	}
}

func forEachRegistry(t *testing.T, fn func(t *testing.T, r Registry)) {
	for name, factory := range registryFactories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, factory(t))
		})
	}
}

func TestRegistryEmpty(t *testing.T) {
	t.Parallel()
	forEachRegistry(t, func(t *testing.T, r Registry) {
		got, err := r.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("List() = %#v, want empty non-nil", got)
		}
	})
}

func TestRegistryReplaceAndList(t *testing.T) {
	t.Parallel()
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		in := []Printer{{Serial: "C", Name: "Gamma"}, {Serial: " A ", Name: "Alpha"}, {Serial: "B"}, {Serial: "C", Name: "dup"}}
		if err := r.Replace(ctx, in); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		got, err := r.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		want := []Printer{{Serial: "C", Name: "Gamma"}, {Serial: "A", Name: "Alpha"}, {Serial: "B"}}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("List() = %v, want %v", got, want)
		}

		if err := r.Replace(ctx, nil); err != nil {
			t.Fatalf("Replace(nil): %v", err)
		}
		if got, _ := r.List(ctx); len(got) != 0 {
			t.Errorf("List() after clear = %v", got)
		}
	})
}

func TestRegistryReplaceRequiresSerial(t *testing.T) {
	t.Parallel()
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		if err := r.Replace(ctx, []Printer{{Serial: "A"}}); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		err := r.Replace(ctx, []Printer{{Serial: "B"}, {Name: "nameless"}})
		var ve *relayerr.ValidationError
		if !errors.As(err, &ve) || ve.Field != "serial" {
			t.Fatalf("err = %v, want ValidationError on serial", err)
		}
		got, _ := r.List(ctx)
		if len(got) != 1 || got[0].Serial != "A" {
			t.Errorf("failed Replace must not modify registry, got %v", got)
		}
	})
}

func TestRegistryUpsert(t *testing.T) {
	t.Parallel()
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		if _, err := r.Upsert(ctx, Printer{Serial: "A", Name: "First"}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if _, err := r.Upsert(ctx, Printer{Serial: "B"}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := r.Upsert(ctx, Printer{Serial: "A", Name: "Renamed"})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		want := []Printer{{Serial: "A", Name: "Renamed"}, {Serial: "B"}}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("Upsert() = %v, want %v", got, want)
		}

		if _, err := r.Upsert(ctx, Printer{Serial: "  "}); !errors.As(err, new(*relayerr.ValidationError)) {
			t.Errorf("Upsert(blank) err = %v, want ValidationError", err)
		}
	})
}

func TestRegistryRemove(t *testing.T) {
	t.Parallel()
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		if err := r.Replace(ctx, []Printer{{Serial: "A"}, {Serial: "B"}}); err != nil {
			t.Fatalf("Replace: %v", err)
		}
		if err := r.Remove(ctx, "A"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := r.Remove(ctx, "A"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Remove err = %v, want ErrNotFound", err)
		}
		if relayerr.HTTPStatus(ErrNotFound) != 404 {
			t.Error("ErrNotFound should map to 404")
		}
		got, _ := r.List(ctx)
		if len(got) != 1 || got[0].Serial != "B" {
			t.Errorf("List() = %v", got)
		}
	})
}

func TestRegistryConcurrentUpserts(t *testing.T) {
	t.Parallel()
	forEachRegistry(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := r.Upsert(ctx, Printer{Serial: fmt.Sprintf("P%02d", i)}); err != nil {
					t.Errorf("Upsert: %v", err)
				}
			}(i)
		}
		wg.Wait()
		got, _ := r.List(ctx)
		if len(got) != 20 {
			t.Errorf("len(List()) = %d, want 20", len(got))
		}
	})
}

func TestJSONRegistryToleratesBareSerials(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "printers.json")
	if err := os.WriteFile(path, []byte(`["01S00A1", {"serial":"01S00A2","name":"Desk"}]`), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := NewJSONRegistry(path)
	if err != nil {
		t.Fatalf("NewJSONRegistry: %v", err)
	}

	got, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []Printer{{Serial: "01S00A1"}, {Serial: "01S00A2", Name: "Desk"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	if err := r.Remove(context.Background(), "01S00A1"); err != nil {
		t.Fatalf("Remove(bare serial): %v", err)
	}

	data, _ := os.ReadFile(path)
	var written []map[string]string
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatalf("written file is not an object array: %v\n%s", err, data)
	}
	if len(written) != 1 || written[0]["serial"] != "01S00A2" || written[0]["name"] != "Desk" {
		t.Errorf("written = %v", written)
	}
}

func TestJSONRegistryCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "printers.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}
	r, _ := NewJSONRegistry(path)
	if _, err := r.List(context.Background()); err == nil {
		t.Error("List() on corrupt file should fail")
	}
}

func TestPrinterUnmarshal(t *testing.T) {
	t.Parallel()

	var p Printer
	if err := json.Unmarshal([]byte(`42`), &p); err == nil {
		t.Error("numeric entry should fail")
	}
	if err := json.Unmarshal([]byte(`"X1"`), &p); err != nil || p.Serial != "X1" {
		t.Errorf("bare serial: %+v, %v", p, err)
	}
}

func TestRegistered(t *testing.T) {
	t.Parallel()

	got := Registered([]Printer{{Serial: "A", Name: "Alpha"}})
	if len(got) != 1 || got[0].Serial != "A" || got[0].Name != "Alpha" {
		t.Errorf("Registered() = %+v", got)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r, err := Open(config.DatabaseConfig{}, dir)
	if err != nil {
		t.Fatalf("Open(default): %v", err)
	}
	jr, ok := r.(*JSONRegistry)
	if !ok || jr.Path() != filepath.Join(dir, "printers.json") {
		t.Errorf("Open(default) = %T", r)
	}

	r, err = Open(config.DatabaseConfig{Driver: "sqlite", Path: "reg.db"}, dir)
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	defer r.Close()
	sr, ok := r.(*SQLiteRegistry)
	if !ok || sr.Path() != filepath.Join(dir, "reg.db") {
		t.Errorf("Open(sqlite) = %T", r)
	}

	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}, dir); err == nil {
		t.Error("Open(oracle) should fail")
	}
}
