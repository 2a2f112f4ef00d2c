package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestLoadCreatesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Endpoints) != 1 {
		t.Fatalf("expected one default endpoint, got %v", cfg.Endpoints)
	}
	if cfg.RAG.WebsiteCrawlDepth != 1 || cfg.RAG.ChunkCount != 4 {
		t.Errorf("unexpected RAG defaults: %+v", cfg.RAG)
	}

	for _, name := range []string{"endpoints.json", "app_config.json", "rag_config.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to be created: %v", name, err)
		}
	}
}

func TestLoadRoundTripsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	first, err := Load(dir, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	first.RAG.ChunkCount = 9
	data, err := first.RAG.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rag_config.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := Load(dir, discardLogger())
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if second.RAG.ChunkCount != 9 {
		t.Errorf("RAG.ChunkCount = %d, want 9 (should round-trip from disk)", second.RAG.ChunkCount)
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RAGPROXY_CHUNK_COUNT", "7")

	cfg, err := Load(dir, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RAG.ChunkCount != 7 {
		t.Errorf("RAG.ChunkCount = %d, want 7 from env override", cfg.RAG.ChunkCount)
	}
}

func TestResolveDirPrecedence(t *testing.T) {
	t.Setenv("RAGPROXY_CONFIG_DIR", "/tmp/env-dir")

	dir, err := ResolveDir("/explicit/dir")
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if dir != "/explicit/dir" {
		t.Errorf("explicit flag should win, got %q", dir)
	}

	dir, err = ResolveDir("")
	if err != nil {
		t.Fatalf("ResolveDir: %v", err)
	}
	if dir != "/tmp/env-dir" {
		t.Errorf("env var should win over OS default, got %q", dir)
	}
}

func TestEndpointJSONRoundTrip(t *testing.T) {
	e := Endpoint{Name: "local", Flags: map[string]string{"model": "x.gguf", "port": "8081"}}
	data, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var got Endpoint
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Name != "local" || got.Flags["model"] != "x.gguf" || got.Flags["port"] != "8081" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
