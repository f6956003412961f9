package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NERVsystems/matsimcal/pkg/config"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown", "trial", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "shown" || entry["trial"] != float64(1) {
		t.Errorf("unexpected entry %v", entry)
	}

	if _, err := newLogger(&buf, "text", slog.LevelInfo); err != nil {
		t.Errorf("text format: %v", err)
	}
	if _, err := newLogger(&buf, "xml", slog.LevelInfo); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoadRunDefaults(t *testing.T) {
	cfg, err := loadRun("", overrides{})
	if err != nil {
		t.Fatalf("loadRun: %v", err)
	}
	if cfg.Name != config.Default().Name || cfg.Iterations != config.Default().Iterations {
		t.Errorf("expected defaults, got name=%q iterations=%d", cfg.Name, cfg.Iterations)
	}
}

func TestLoadRunOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.hcl")
	if err := os.WriteFile(path, []byte("name = \"from-file\"\niterations = 4\n"), 0600); err != nil {
		t.Fatal(err)
	}

	name, java, n, dbg := "from-flag", "/opt/jdk/bin/java", 2, false
	cfg, err := loadRun(path, overrides{name: &name, java: &java, iterations: &n, debug: &dbg})
	if err != nil {
		t.Fatalf("loadRun: %v", err)
	}
	if cfg.Name != "from-flag" {
		t.Errorf("name = %q", cfg.Name)
	}
	if cfg.Iterations != 2 {
		t.Errorf("iterations = %d", cfg.Iterations)
	}
	if cfg.Simulator.Java != java {
		t.Errorf("java = %q", cfg.Simulator.Java)
	}
	if cfg.Debug {
		t.Error("debug flag did not override the run file")
	}

	cfg, err = loadRun(path, overrides{})
	if err != nil {
		t.Fatalf("loadRun: %v", err)
	}
	if cfg.Name != "from-file" || cfg.Iterations != 4 {
		t.Errorf("run file not applied: name=%q iterations=%d", cfg.Name, cfg.Iterations)
	}
}

func TestLoadRunRejectsInvalid(t *testing.T) {
	zero := 0
	_, err := loadRun("", overrides{iterations: &zero})
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if _, err := loadRun(filepath.Join(t.TempDir(), "missing.hcl"), overrides{}); err == nil {
		t.Error("expected error for missing run file")
	}
}

func TestInitialValues(t *testing.T) {
	cfg := config.Default()
	initial := initialValues(cfg)

	if _, ok := initial[cfg.FixedMode]; ok {
		t.Errorf("fixed mode %q has an initial value", cfg.FixedMode)
	}
	for _, m := range cfg.CalibratedModes() {
		if initial[m] != cfg.InitialValue(m) {
			t.Errorf("%s: got %v, want %v", m, initial[m], cfg.InitialValue(m))
		}
	}
}

const mexicoCity = `{
  "type": "FeatureCollection",
  "features": [{
    "type": "Feature",
    "properties": {},
    "geometry": {
      "type": "Polygon",
      "coordinates": [[[-99.4, 19.1], [-98.9, 19.1], [-98.9, 19.6], [-99.4, 19.6], [-99.4, 19.1]]]
    }
  }]
}`

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	boundary := filepath.Join(dir, "area.geojson")
	if err := os.WriteFile(boundary, []byte(mexicoCity), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Name = filepath.Join(dir, "study")
	cfg.Boundary.Path = boundary

	dryRun = true
	t.Cleanup(func() { dryRun = false })

	if err := run(context.Background(), cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Name, "runs")); !os.IsNotExist(err) {
		t.Error("dry run created run directories")
	}
}

func TestRunMissingBoundary(t *testing.T) {
	cfg := config.Default()
	cfg.Name = filepath.Join(t.TempDir(), "study")
	cfg.Boundary.Path = filepath.Join(t.TempDir(), "missing.shp")

	err := run(context.Background(), cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if err == nil || !strings.Contains(err.Error(), "loading study area") {
		t.Fatalf("expected study area error, got %v", err)
	}
}
