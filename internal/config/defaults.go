package config

import "time"

const defaultFetchRetries = 3

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 10 << 20
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	switch cfg.Database.Driver {
	case DriverSQLite:
		if cfg.Database.Path == "" {
			cfg.Database.Path = "/usr/local/var/kagami/data/db/kagami.db"
		}
	case DriverPostgres:
		if cfg.Database.Host == "" {
			cfg.Database.Host = "localhost"
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 30 * time.Second
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}

	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "s3"
	}
	if cfg.Blob.Region == "" {
		cfg.Blob.Region = "us-east-1"
	}
	if cfg.Blob.FetchTimeout == 0 {
		cfg.Blob.FetchTimeout = 10 * time.Second
	}
	if cfg.Blob.FetchRetries == nil {
		n := defaultFetchRetries
		cfg.Blob.FetchRetries = &n
	}
	if cfg.Blob.MaxFetchBytes == 0 {
		cfg.Blob.MaxFetchBytes = 20 << 20
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelName == "" {
		cfg.Embedding.ModelName = "clip-vit-base-patch32"
	}
	if cfg.Embedding.VisualModelPath == "" && cfg.Embedding.Provider == "onnx" {
		cfg.Embedding.VisualModelPath = "/usr/local/var/kagami/data/models/clip-vit-b32-visual.onnx"
	}
	if cfg.Embedding.TextModelPath == "" && cfg.Embedding.Provider == "onnx" {
		cfg.Embedding.TextModelPath = "/usr/local/var/kagami/data/models/clip-vit-b32-textual.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.ContextLength == 0 {
		cfg.Embedding.ContextLength = 77
	}
	if cfg.Embedding.TextCacheSize == 0 {
		cfg.Embedding.TextCacheSize = 1000
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.Ranker == "" {
		cfg.Search.Ranker = "exact"
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 1
	}
	if cfg.Ingest.ItemTimeout == 0 {
		cfg.Ingest.ItemTimeout = 60 * time.Second
	}
	if cfg.Ingest.MaxBatchSize == 0 {
		cfg.Ingest.MaxBatchSize = 500
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	}
	// UpdateParentReference defaults to true when unset (nil).
	if cfg.Watch.Enabled && cfg.Watch.UpdateParentReference == nil {
		t := true
		cfg.Watch.UpdateParentReference = &t
	}
}
