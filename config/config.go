package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the document intelligence service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	QA        QAConfig        `yaml:"qa"`
	Sync      SyncConfig      `yaml:"sync"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	Path string `yaml:"path"` // Path to the bbolt database file
}

// ChunkingConfig holds text chunking configuration.
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"` // Bytes per chunk
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai" or "fake"
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Dimension int    `yaml:"dimension"` // Used by the fake provider
	BatchSize int    `yaml:"batch_size"`
}

// IngestConfig holds ingestion pipeline configuration.
type IngestConfig struct {
	Workers int `yaml:"workers"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK            int     `yaml:"top_k"`
	CacheSize       int     `yaml:"cache_size"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	ContextBudget   int     `yaml:"context_budget"` // Characters per assembled context
	Diversity       bool    `yaml:"diversity"`      // Enable MMR reranking
	MMRLambda       float64 `yaml:"mmr_lambda"`
	DedupJaccard    float64 `yaml:"dedup_jaccard"`
}

// QAConfig holds question answering configuration.
type QAConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

// SyncConfig holds directory sync configuration.
type SyncConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			UploadDir: "data/uploads",
		},
		Storage: StorageConfig{
			Path: "data/docintel.db",
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: 1000,
			ChunkOverlap: 200,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 1536,
			BatchSize: 64,
		},
		Ingest: IngestConfig{
			Workers: 4,
		},
		Retrieve: RetrieveConfig{
			TopK:            5,
			CacheSize:       100,
			CacheTTLSeconds: 300,
			ContextBudget:   8000,
			Diversity:       false,
			MMRLambda:       0.7,
			DedupJaccard:    0.8,
		},
		QA: QAConfig{
			Model:     "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Sync: SyncConfig{
			Includes: []string{"**/*.txt", "**/*.md"},
			Excludes: []string{"**/node_modules/**", "**/.git/**"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for docintel.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "docintel.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".docintel", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
