package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunking.MaxChunkSize != 1000 {
		t.Errorf("expected MaxChunkSize=1000, got %d", cfg.Chunking.MaxChunkSize)
	}
	if cfg.Chunking.ChunkOverlap != 200 {
		t.Errorf("expected ChunkOverlap=200, got %d", cfg.Chunking.ChunkOverlap)
	}
	if cfg.Retrieve.TopK != 5 {
		t.Errorf("expected TopK=5, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.ContextBudget != 8000 {
		t.Errorf("expected ContextBudget=8000, got %d", cfg.Retrieve.ContextBudget)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected Port=8080, got %d", cfg.Server.Port)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docintel.yaml")

	content := `
chunking:
  max_chunk_size: 500
  chunk_overlap: 50
retrieve:
  top_k: 10
embedding:
  provider: fake
  dimension: 64
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunking.MaxChunkSize != 500 {
		t.Errorf("expected MaxChunkSize=500, got %d", cfg.Chunking.MaxChunkSize)
	}
	if cfg.Retrieve.TopK != 10 {
		t.Errorf("expected TopK=10, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Embedding.Provider != "fake" {
		t.Errorf("expected Provider=fake, got %s", cfg.Embedding.Provider)
	}
	// Unset sections keep their defaults.
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default Port=8080, got %d", cfg.Server.Port)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docintel.yaml")

	content := `
retrieve:
  context_budget: 12000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Retrieve.ContextBudget != 12000 {
		t.Errorf("expected ContextBudget=12000, got %d", cfg.Retrieve.ContextBudget)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "docintel.yaml")

	cfg := DefaultConfig()
	cfg.Retrieve.TopK = 7
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Retrieve.TopK != 7 {
		t.Errorf("expected TopK=7 after round trip, got %d", loaded.Retrieve.TopK)
	}
}
