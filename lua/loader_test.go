package lua

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// loaderCase represents a single test case from JSON
type loaderCase struct {
	Name      string          `json:"name"`
	Source    string          `json:"source"`
	Error     string          `json:"error,omitempty"`
	Predicate map[string]bool `json:"predicate,omitempty"`
	Runs      int             `json:"runs,omitempty"`
	Prints    []string        `json:"prints,omitempty"`
}

type loaderDataFile struct {
	Tests []loaderCase `json:"tests"`
}

func loadLoaderData(t *testing.T) loaderDataFile {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "loader_tests.json"))
	if err != nil {
		t.Fatalf("Failed to read test data: %v", err)
	}
	var testData loaderDataFile
	if err := json.Unmarshal(data, &testData); err != nil {
		t.Fatalf("Failed to parse test data: %v", err)
	}
	return testData
}

// writeModule writes source as watch.lua in a fresh directory and returns a
// Loader searching that directory.
func writeModule(t *testing.T, source string) (*Loader, *MockHost, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "watch.lua")
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	host := NewMockHost()
	return NewLoader("watch", filepath.Join(dir, "?.lua"), host), host, path
}

func TestLoaderCases(t *testing.T) {
	for _, tt := range loadLoaderData(t).Tests {
		t.Run(tt.Name, func(t *testing.T) {
			loader, host, path := writeModule(t, tt.Source)

			mod, err := loader.Load(context.Background())
			if tt.Error != "" {
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected ConfigurationError, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.Error) {
					t.Fatalf("expected error containing %q, got %q", tt.Error, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			defer mod.Close()

			if mod.Path != path {
				t.Fatalf("expected path %q, got %q", path, mod.Path)
			}

			for p, want := range tt.Predicate {
				got, err := mod.Hooks.Predicate(p)
				if err != nil {
					t.Fatalf("predicate(%q): %v", p, err)
				}
				if got != want {
					t.Errorf("predicate(%q): want %v got %v", p, want, got)
				}
			}

			runs := tt.Runs
			if runs == 0 && tt.Prints != nil {
				runs = 1
			}
			for i := 0; i < runs; i++ {
				if err := mod.Hooks.Run(context.Background()); err != nil {
					t.Fatalf("run %d: %v", i, err)
				}
			}
			if tt.Prints != nil {
				got := host.DrainPrintCalls()
				if strings.Join(got, "|") != strings.Join(tt.Prints, "|") {
					t.Fatalf("prints: want %q got %q", tt.Prints, got)
				}
			}
		})
	}
}

func TestLoaderNotFound(t *testing.T) {
	loader := NewLoader("watch", filepath.Join(t.TempDir(), "?.lua"), NewMockHost())
	_, err := loader.Load(context.Background())

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoaderBuiltinHasNoFile(t *testing.T) {
	loader, _, _ := writeModule(t, "function run() end")
	loader.Builtin("watch", "function run() end")

	_, err := loader.Load(context.Background())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !strings.Contains(cfgErr.Reason, "no backing file") {
		t.Fatalf("unexpected reason: %q", cfgErr.Reason)
	}
}

func TestLoaderDottedNameAndInitFile(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "parts", "puck")
	if err := os.MkdirAll(pkg, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(pkg, "init.lua")
	if err := os.WriteFile(path, []byte("function run() end"), 0644); err != nil {
		t.Fatal(err)
	}

	search := filepath.Join(dir, "?.lua") + ";" + filepath.Join(dir, "?", "init.lua")
	mod, err := NewLoader("parts.puck", search, NewMockHost()).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer mod.Close()
	if mod.Path != path {
		t.Fatalf("expected %q, got %q", path, mod.Path)
	}
}

func TestLoaderFreshImportSeesEdits(t *testing.T) {
	loader, host, path := writeModule(t, "function run() ocp.print('v1') end")

	first, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	defer first.Close()

	if err := os.WriteFile(path, []byte("function run() ocp.print('v2') end"), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	defer second.Close()

	if err := first.Hooks.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := second.Hooks.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := host.DrainPrintCalls()
	if len(got) != 2 || got[0] != "v1" || got[1] != "v2" {
		t.Fatalf("expected [v1 v2], got %v", got)
	}
}

func TestLoaderLocalRequire(t *testing.T) {
	loader, host, path := writeModule(t, "local dims = require('dims')\nfunction run() ocp.print(tostring(dims.height)) end")
	dep := filepath.Join(filepath.Dir(path), "dims.lua")
	if err := os.WriteFile(dep, []byte("return { height = 14.5 }"), 0644); err != nil {
		t.Fatal(err)
	}

	mod, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer mod.Close()

	if err := mod.Hooks.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := host.DrainPrintCalls(); len(got) != 1 || got[0] != "14.5" {
		t.Fatalf("expected [14.5], got %v", got)
	}
}

func TestRunErrorIsReturned(t *testing.T) {
	loader, _, _ := writeModule(t, "function run() error('bad edit') end")
	mod, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer mod.Close()

	err = mod.Hooks.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad edit") {
		t.Fatalf("expected run error, got %v", err)
	}
}

// Top-level statements execute again before every run(), and globals set by
// one run are gone in the next.
func TestTopLevelRunsEveryRun(t *testing.T) {
	src := `ocp.print("top")
count = (count or 0) + 1
function run() ocp.print("run " .. count) end`
	loader, host, _ := writeModule(t, src)
	mod, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer mod.Close()
	if got := strings.Join(host.DrainPrintCalls(), "|"); got != "top" {
		t.Fatalf("import prints: want %q got %q", "top", got)
	}

	for i := 0; i < 2; i++ {
		if err := mod.Hooks.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	want := "top|run 1|top|run 1"
	if got := strings.Join(host.DrainPrintCalls(), "|"); got != want {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	loader, _, _ := writeModule(t, "function run() while true do end end")
	mod, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer mod.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mod.Hooks.Run(ctx); err == nil {
		t.Fatal("expected canceled run to fail")
	}
}

func TestPredicateErrorIsReturned(t *testing.T) {
	loader, _, _ := writeModule(t, "function predicate(path) error('nope') end\nfunction run() end")
	mod, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer mod.Close()

	if _, err := mod.Hooks.Predicate("/x.lua"); err == nil {
		t.Fatal("expected predicate error")
	}
}
