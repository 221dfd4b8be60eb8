package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"

	"github.com/xxxsen/docrag/internal/chunker"
)

const (
	defaultTopK             = 4
	defaultBatchSize        = 32
	defaultTimeoutSeconds   = 60
	defaultUploadMaxSize    = 50 << 20
	defaultRateLimitMS      = 0
	defaultCacheCleanupSpec = "0 3 * * *"
	defaultCacheMaxAgeDays  = 30
)

type Config struct {
	Port                  int                `json:"port"`
	LogConfig             logger.LogConfig   `json:"log_config"`
	FileStore             FileStoreConfig    `json:"file_store"`
	Chunker               ChunkerConfig      `json:"chunker"`
	Embedder              EmbedderConfig     `json:"embedder"`
	Generator             GeneratorConfig    `json:"generator"`
	Extractor             ExtractorConfig    `json:"extractor"`
	VectorIndex           VectorIndexConfig  `json:"vector_index"`
	Retrieval             RetrievalConfig    `json:"retrieval"`
	Upload                UploadConfig       `json:"upload"`
	CORSOrigins           []string           `json:"cors_origins"`
	RateLimitMS           int                `json:"rate_limit_ms"`
	EmbeddingCacheCleanup CacheCleanupConfig `json:"embedding_cache_cleanup"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ChunkerConfig struct {
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap *int     `json:"chunk_overlap"`
	Separators   []string `json:"separators"`
}

// Overlap returns the configured overlap, or the default when unset.
func (c ChunkerConfig) Overlap() int {
	if c.ChunkOverlap == nil {
		return chunker.DefaultChunkOverlap
	}
	return *c.ChunkOverlap
}

type EmbedderConfig struct {
	Provider  string      `json:"provider"`
	Model     string      `json:"model"`
	Dimension int         `json:"dimension"`
	BatchSize int         `json:"batch_size"`
	Timeout   int         `json:"timeout"`
	CacheSize int         `json:"cache_size"`
	CacheTTL  int         `json:"cache_ttl"`
	CacheDB   string      `json:"cache_db"`
	Data      interface{} `json:"data"`
}

type GeneratorProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type GeneratorConfig struct {
	Providers []GeneratorProviderConfig `json:"providers"`
	Timeout   int                       `json:"timeout"`
}

type ExtractorConfig struct {
	Timeout       int    `json:"timeout"`
	PdftotextPath string `json:"pdftotext_path"`
}

type VectorIndexConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type RetrievalConfig struct {
	TopK int `json:"top_k"`
}

type UploadConfig struct {
	MaxSize int64 `json:"max_size"`
}

type CacheCleanupConfig struct {
	Spec       string `json:"spec"`
	MaxAgeDays int    `json:"max_age_days"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a JSON or YAML config file. ${VAR} references are replaced
// with environment values before decoding.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	raw = envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
	data := raw
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return json.Marshal(doc)
}

func (cfg *Config) applyDefaults() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	if cfg.FileStore.Type == "local" && cfg.FileStore.Data == nil {
		cfg.FileStore.Data = map[string]interface{}{"dir": "./docs"}
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = chunker.DefaultChunkSize
	}
	if overlap := cfg.Chunker.Overlap(); overlap < 0 || overlap >= cfg.Chunker.ChunkSize {
		return fmt.Errorf("chunker.chunk_overlap must be in [0, chunk_size), got %d", overlap)
	}
	if cfg.Embedder.Provider == "" {
		return fmt.Errorf("embedder.provider is required")
	}
	if cfg.Embedder.BatchSize <= 0 {
		cfg.Embedder.BatchSize = defaultBatchSize
	}
	if cfg.Embedder.Timeout <= 0 {
		cfg.Embedder.Timeout = defaultTimeoutSeconds
	}
	if len(cfg.Generator.Providers) == 0 {
		return fmt.Errorf("generator.providers is required")
	}
	for i, item := range cfg.Generator.Providers {
		if item.Provider == "" {
			return fmt.Errorf("generator.providers[%d].provider is required", i)
		}
	}
	if cfg.Generator.Timeout <= 0 {
		cfg.Generator.Timeout = defaultTimeoutSeconds
	}
	if cfg.Extractor.Timeout <= 0 {
		cfg.Extractor.Timeout = defaultTimeoutSeconds
	}
	if cfg.VectorIndex.Type == "" {
		cfg.VectorIndex.Type = "bolt"
	}
	if cfg.VectorIndex.Type == "bolt" && cfg.VectorIndex.Data == nil {
		cfg.VectorIndex.Data = map[string]interface{}{"path": "./data/index.db"}
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = defaultTopK
	}
	if cfg.Upload.MaxSize <= 0 {
		cfg.Upload.MaxSize = defaultUploadMaxSize
	}
	if cfg.RateLimitMS < 0 {
		cfg.RateLimitMS = defaultRateLimitMS
	}
	if cfg.EmbeddingCacheCleanup.Spec == "" {
		cfg.EmbeddingCacheCleanup.Spec = defaultCacheCleanupSpec
	}
	if cfg.EmbeddingCacheCleanup.MaxAgeDays <= 0 {
		cfg.EmbeddingCacheCleanup.MaxAgeDays = defaultCacheMaxAgeDays
	}
	return nil
}
