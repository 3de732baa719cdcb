package writer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	appconfig "dbnflow/config"
	"dbnflow/stats"
)

func localConfig(t *testing.T) *appconfig.Config {
	t.Helper()
	return &appconfig.Config{
		Dbnflow: appconfig.DbnflowConfig{Name: "test", Version: "0.0.1"},
		Stats:   appconfig.StatsConfig{Enabled: true, Archive: t.TempDir()},
	}
}

func TestWriteLocalArchive(t *testing.T) {
	cfg := localConfig(t)

	w, err := NewStatsWriter(cfg)
	if err != nil {
		t.Fatalf("NewStatsWriter failed: %v", err)
	}

	samples := []stats.Sample{
		{TsEvent: 1, TsRecv: 2, TsOut: 3, TsLocal: 4},
		{TsEvent: 5, TsRecv: 6, TsOut: 7, TsLocal: 8},
	}

	path, err := w.Write(context.Background(), samples)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Dir(path) != cfg.Stats.Archive {
		t.Errorf("archive written to %q, want directory %q", path, cfg.Stats.Archive)
	}
	if !strings.HasSuffix(path, ".parquet") {
		t.Errorf("unexpected archive name %q", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat archive: %v", err)
	}
	if info.Size() == 0 {
		t.Error("archive is empty")
	}

	// Parquet magic bytes bracket the file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Error("archive is not a parquet file")
	}
}

func TestWriteNoSamples(t *testing.T) {
	w, err := NewStatsWriter(localConfig(t))
	if err != nil {
		t.Fatalf("NewStatsWriter failed: %v", err)
	}

	path, err := w.Write(context.Background(), nil)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if path != "" {
		t.Errorf("expected no archive, got %q", path)
	}
}

func TestCreateParquetFile(t *testing.T) {
	w, err := NewStatsWriter(localConfig(t))
	if err != nil {
		t.Fatalf("NewStatsWriter failed: %v", err)
	}

	data, err := w.createParquetFile([]stats.Sample{{TsEvent: 1, TsRecv: 2, TsOut: 3, TsLocal: 4}})
	if err != nil {
		t.Fatalf("createParquetFile failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty parquet payload")
	}
}
