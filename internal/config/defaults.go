package config

import "time"

// Provider and backend names accepted in the config file.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
	ProviderNone   = "none"

	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendMilvus   = "milvus"
	BackendPGVector = "pgvector"

	TokenizerApprox = "approx"

	DefaultOllamaURL = "http://localhost:11434"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking.MaxTokens = 1024
	}
	if cfg.Chunking.Tokenizer == "" {
		cfg.Chunking.Tokenizer = "cl100k_base"
	}
	if cfg.Chunking.MaxColumnsPerChunk == 0 {
		cfg.Chunking.MaxColumnsPerChunk = 10
	}
	if cfg.Chunking.MinColumnsPerChunk == 0 {
		cfg.Chunking.MinColumnsPerChunk = 2
	}
	if cfg.Chunking.MinColumnsPerChunk > cfg.Chunking.MaxColumnsPerChunk {
		cfg.Chunking.MinColumnsPerChunk = cfg.Chunking.MaxColumnsPerChunk
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOllama
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case ProviderGemini:
			cfg.Embedding.Model = "gemini-embedding-001"
		default:
			cfg.Embedding.Model = "mxbai-embed-large"
		}
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == ProviderOllama {
		cfg.Embedding.BaseURL = DefaultOllamaURL
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case ProviderGemini:
			cfg.Embedding.Dimensions = 3072
		default:
			cfg.Embedding.Dimensions = 1024
		}
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}

	if cfg.Vision.Provider == "" {
		cfg.Vision.Provider = ProviderOllama
	}
	if cfg.Vision.Model == "" {
		switch cfg.Vision.Provider {
		case ProviderGemini:
			cfg.Vision.Model = "gemini-2.0-flash"
		default:
			cfg.Vision.Model = "llava"
		}
	}
	if cfg.Vision.BaseURL == "" && cfg.Vision.Provider == ProviderOllama {
		cfg.Vision.BaseURL = DefaultOllamaURL
	}
	if cfg.Vision.Prompt == "" {
		cfg.Vision.Prompt = "Transcribe all text in this image. If there is no text, describe the image in detail."
	}

	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.Delay == 0 {
		cfg.Retry.Delay = 10 * time.Second
	}

	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 16
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".html", ".json", ".xml", ".csv", ".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".xlsx"}
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendSQLite
	}
	if cfg.Store.DatabasePath == "" && cfg.Store.Backend == BackendSQLite {
		cfg.Store.DatabasePath = "/usr/local/var/kura/data/records.db"
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "text_records"
	}
	if cfg.Store.MilvusAddress == "" && cfg.Store.Backend == BackendMilvus {
		cfg.Store.MilvusAddress = "localhost:19530"
	}

	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
