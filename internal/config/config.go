// Package config provides configuration loading and structs for the kagami server.
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
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Blob      BlobConfig      `yaml:"blob"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// BlobConfig selects where storage keys are resolved and how URL sources are fetched.
type BlobConfig struct {
	// Backend is one of "s3", "minio" or "local".
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`

	// Endpoint is the host:port of an S3-compatible server (minio backend).
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`

	// LocalRoot is the directory keys are resolved against (local backend).
	LocalRoot string `yaml:"local_root"`
	// PublicBaseURL, when set, overrides the canonical URL built for a key.
	PublicBaseURL string `yaml:"public_base_url"`

	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// FetchRetries defaults to 3 when unset (nil); 0 disables retries.
	FetchRetries  *int  `yaml:"fetch_retries"`
	MaxFetchBytes int64 `yaml:"max_fetch_bytes"`
}

// Retries returns the configured retry count for remote fetches.
func (b *BlobConfig) Retries() int {
	if b.FetchRetries == nil {
		return defaultFetchRetries
	}
	return *b.FetchRetries
}

// EmbeddingConfig holds CLIP extractor settings.
type EmbeddingConfig struct {
	// Provider is "onnx" or "mock".
	Provider        string `yaml:"provider"`
	VisualModelPath string `yaml:"visual_model_path"`
	TextModelPath   string `yaml:"text_model_path"`
	ModelName       string `yaml:"model_name"`
	Dimensions      int    `yaml:"dimensions"`
	ImageSize       int    `yaml:"image_size"`
	ContextLength   int    `yaml:"context_length"`
	TextCacheSize   int    `yaml:"text_cache_size"`
	// RuntimeLibrary is the path to the onnxruntime shared library; empty uses the default.
	RuntimeLibrary string `yaml:"runtime_library"`
}

// SearchConfig holds search settings.
type SearchConfig struct {
	DefaultTopK int    `yaml:"default_top_k"`
	Ranker      string `yaml:"ranker"` // "exact"
	// EntityIndexPath is where the entity keyword index is kept. Empty keeps it in memory.
	EntityIndexPath string `yaml:"entity_index_path"`
}

// IngestConfig holds bulk ingestion settings.
type IngestConfig struct {
	Workers       int           `yaml:"workers"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	ItemTimeout   time.Duration `yaml:"item_timeout"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
}

// WatchConfig holds inbox watch settings. The inbox is the local blob root.
type WatchConfig struct {
	Enabled               bool     `yaml:"enabled"`
	Extensions            []string `yaml:"extensions"`
	UpdateParentReference *bool    `yaml:"update_parent_reference"`
}

// UpdateParentReferenceOrDefault returns whether watched files replace the entity image_url;
// defaults to true when unset.
func (w *WatchConfig) UpdateParentReferenceOrDefault() bool {
	if w.UpdateParentReference != nil {
		return *w.UpdateParentReference
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies defaults and
// environment overrides. Validation is left to the caller via Validate.
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
	if cfg.Database.Path != "" && cfg.Database.Path != ":memory:" {
		cfg.Database.Path = expandPath(cfg.Database.Path, configDir)
	}
	if cfg.Blob.LocalRoot != "" {
		cfg.Blob.LocalRoot = expandPath(cfg.Blob.LocalRoot, configDir)
	}
	if cfg.Search.EntityIndexPath != "" {
		cfg.Search.EntityIndexPath = expandPath(cfg.Search.EntityIndexPath, configDir)
	}
	if cfg.Embedding.VisualModelPath != "" {
		cfg.Embedding.VisualModelPath = expandPath(cfg.Embedding.VisualModelPath, configDir)
	}
	if cfg.Embedding.TextModelPath != "" {
		cfg.Embedding.TextModelPath = expandPath(cfg.Embedding.TextModelPath, configDir)
	}

	return &cfg, nil
}

// Validate checks the whole configuration once at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Blob.Validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	switch c.Embedding.Provider {
	case "onnx":
		if c.Embedding.VisualModelPath == "" || c.Embedding.TextModelPath == "" {
			return fmt.Errorf("embedding: onnx provider requires visual_model_path and text_model_path")
		}
	case "mock":
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding: dimensions must be positive")
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("search: default_top_k must be positive")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest: workers must be positive")
	}
	if c.Ingest.RatePerSecond < 0 {
		return fmt.Errorf("ingest: rate_per_second must not be negative")
	}
	if c.Watch.Enabled && c.Blob.Backend != "local" {
		return fmt.Errorf("watch: requires the local blob backend")
	}
	return nil
}

// Validate checks blob settings for the selected backend.
func (b *BlobConfig) Validate() error {
	switch b.Backend {
	case "s3":
		if b.Bucket == "" || b.Region == "" {
			return fmt.Errorf("s3 backend requires bucket and region")
		}
	case "minio":
		if b.Bucket == "" || b.Endpoint == "" {
			return fmt.Errorf("minio backend requires bucket and endpoint")
		}
	case "local":
		if b.LocalRoot == "" {
			return fmt.Errorf("local backend requires local_root")
		}
	default:
		return fmt.Errorf("unknown backend %q", b.Backend)
	}
	if b.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	if b.Retries() < 0 {
		return fmt.Errorf("fetch_retries must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KAGAMI_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("KAGAMI_BLOB_SECRET_KEY"); v != "" {
		cfg.Blob.SecretKey = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
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
