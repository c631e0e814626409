package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
chunking:
  max_tokens: 512
  tokenizer: approx
embedding:
  provider: mock
  dimensions: 8
retry:
  delay: 250ms
store:
  backend: sqlite
  database_path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking.MaxTokens != 512 || cfg.Chunking.Tokenizer != TokenizerApprox {
		t.Errorf("unexpected chunking config: %+v", cfg.Chunking)
	}
	if cfg.Embedding.Provider != ProviderMock || cfg.Embedding.Dimensions != 8 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Retry.Delay != 250*time.Millisecond {
		t.Errorf("retry delay: got %v", cfg.Retry.Delay)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("retry attempts should default to 3, got %d", cfg.Retry.Attempts)
	}
	if cfg.Store.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_invalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("chunking: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  database_path: "./data/records.db"
watch:
  directories: ["./dev/sample"]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "records.db")
	if cfg.Store.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Store.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	wantWatch := filepath.Join(dir, "dev", "sample")
	if cfg.Watch.Directories[0] != wantWatch {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], wantWatch)
	}
}

func TestLoad_geminiKeyFromEnv(t *testing.T) {
	t.Setenv(EnvGeminiAPIKey, "secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
embedding:
  provider: gemini
vision:
  provider: gemini
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "secret" || cfg.Vision.APIKey != "secret" {
		t.Errorf("api keys not taken from env: %q %q", cfg.Embedding.APIKey, cfg.Vision.APIKey)
	}
	if cfg.Embedding.Model != "gemini-embedding-001" {
		t.Errorf("gemini embedding model default: got %s", cfg.Embedding.Model)
	}
	if cfg.Embedding.Dimensions != 3072 {
		t.Errorf("gemini embedding dimensions default: got %d", cfg.Embedding.Dimensions)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Chunking.MaxTokens != 1024 {
		t.Errorf("default max_tokens: got %d", cfg.Chunking.MaxTokens)
	}
	if cfg.Chunking.MaxColumnsPerChunk != 10 {
		t.Errorf("default max_columns_per_chunk: got %d", cfg.Chunking.MaxColumnsPerChunk)
	}
	if cfg.Chunking.MinColumnsPerChunk != 2 {
		t.Errorf("default min_columns_per_chunk: got %d", cfg.Chunking.MinColumnsPerChunk)
	}
	if cfg.Embedding.Dimensions != 1024 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.Delay != 10*time.Second {
		t.Errorf("default retry: got %+v", cfg.Retry)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("default backend: got %s", cfg.Store.Backend)
	}
	if cfg.Embedding.BaseURL != DefaultOllamaURL || cfg.Vision.BaseURL != DefaultOllamaURL {
		t.Errorf("ollama base urls: %s %s", cfg.Embedding.BaseURL, cfg.Vision.BaseURL)
	}
	if len(cfg.Ingest.Extensions) == 0 || cfg.Ingest.Extensions[0] != ".txt" {
		t.Errorf("ingest extensions: got %v", cfg.Ingest.Extensions)
	}
}

func TestApplyDefaults_minColumnsClamped(t *testing.T) {
	cfg := &Config{Chunking: ChunkingConfig{MaxColumnsPerChunk: 3, MinColumnsPerChunk: 5}}
	ApplyDefaults(cfg)
	if cfg.Chunking.MinColumnsPerChunk != 3 {
		t.Errorf("min columns should be clamped to max, got %d", cfg.Chunking.MinColumnsPerChunk)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/docs"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Ingest: IngestConfig{BatchSize: 4},
		Store:  StoreConfig{Backend: BackendMemory},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Ingest.BatchSize != 4 || loaded.Store.Backend != BackendMemory {
		t.Errorf("loaded: got %+v %+v", loaded.Ingest, loaded.Store)
	}
}
