// Package config provides configuration loading and structs for the kura ingestion pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vision    VisionConfig    `yaml:"vision"`
	Retry     RetryConfig     `yaml:"retry"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Store     StoreConfig     `yaml:"store"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ChunkingConfig holds token budget and table splitting settings.
type ChunkingConfig struct {
	MaxTokens          int    `yaml:"max_tokens"`
	Tokenizer          string `yaml:"tokenizer"`
	MaxColumnsPerChunk int    `yaml:"max_columns_per_chunk"`
	MinColumnsPerChunk int    `yaml:"min_columns_per_chunk"`
}

// EmbeddingConfig selects and configures the embedding capability.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// VisionConfig selects and configures the vision/OCR capability.
type VisionConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Prompt   string `yaml:"prompt"`
}

// RetryConfig holds the retry policy shared by embedding and vision calls.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// IngestConfig holds per-document batching defaults.
type IngestConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	InterBatchDelay time.Duration `yaml:"inter_batch_delay"`
	Extensions      []string      `yaml:"extensions"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	DatabasePath  string `yaml:"database_path"`
	Collection    string `yaml:"collection"`
	MilvusAddress string `yaml:"milvus_address"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.DatabasePath = expandPath(cfg.Store.DatabasePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Environment variables that override secrets in the config file.
const (
	EnvGeminiAPIKey = "KURA_GEMINI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

func applyEnv(cfg *Config) {
	if key := os.Getenv(EnvGeminiAPIKey); key != "" {
		if cfg.Embedding.Provider == ProviderGemini && cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
		if cfg.Vision.Provider == ProviderGemini && cfg.Vision.APIKey == "" {
			cfg.Vision.APIKey = key
		}
	}
	if host := os.Getenv(EnvOllamaHost); host != "" {
		if cfg.Embedding.Provider == ProviderOllama && cfg.Embedding.BaseURL == DefaultOllamaURL {
			cfg.Embedding.BaseURL = host
		}
		if cfg.Vision.Provider == ProviderOllama && cfg.Vision.BaseURL == DefaultOllamaURL {
			cfg.Vision.BaseURL = host
		}
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
